// Package gateway implements a single always-on Discord Gateway WebSocket
// session: connect, HELLO, IDENTIFY, heartbeat, dispatch MESSAGE_CREATE.
//
// This is a deliberate trim of the reference client library's sharded
// Shard: no sharding, no RESUME, no ack-tracked heartbeat, no exponential
// backoff — see Supervisor for the fixed-delay restart loop.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
)

// Opcodes per the Gateway protocol.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s"`
	T  string          `json:"t"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Dispatcher receives the raw "d" field of every MESSAGE_CREATE dispatch.
type Dispatcher func(raw []byte)

// Session is one WebSocket connection to the Gateway. It is not reused
// across reconnects; Supervisor constructs a fresh Session each attempt.
type Session struct {
	gatewayURL string
	token      string
	intents    int
	dispatch   Dispatcher
	logger     logx.Logger

	conn net.Conn
	seq  int64
}

// New constructs a Session. It does not connect.
func New(gatewayURL, token string, intents int, dispatch Dispatcher, logger logx.Logger) *Session {
	if logger == nil {
		logger = logx.Discard
	}
	return &Session{
		gatewayURL: gatewayURL,
		token:      token,
		intents:    intents,
		dispatch:   dispatch,
		logger:     logger,
	}
}

// Run connects and serves until ctx is cancelled or the connection ends,
// returning nil on ctx cancellation and the underlying error otherwise.
func (s *Session) Run(ctx context.Context) error {
	conn, _, _, err := ws.DefaultDialer.Dial(ctx, s.gatewayURL)
	if err != nil {
		return err
	}
	s.conn = conn
	s.logger.Info("gateway connected")
	defer conn.Close()

	heartbeatStop := make(chan struct{})
	defer close(heartbeatStop)

	done := make(chan error, 1)
	go func() { done <- s.readLoop(heartbeatStop) }()

	select {
	case <-ctx.Done():
		conn.Close()
		<-done
		return nil
	case err := <-done:
		return err
	}
}

func (s *Session) readLoop(heartbeatStop chan struct{}) error {
	for {
		msg, op, err := wsutil.ReadServerData(s.conn)
		if err != nil {
			return err
		}
		if op == ws.OpClose {
			return nil
		}
		if op != ws.OpText {
			continue
		}

		var p payload
		if err := json.Unmarshal(msg, &p); err != nil {
			s.logger.WithField("error", err.Error()).Warn("malformed gateway payload")
			continue
		}
		s.handlePayload(p, heartbeatStop)
	}
}

func (s *Session) handlePayload(p payload, heartbeatStop chan struct{}) {
	if p.S > 0 {
		atomic.StoreInt64(&s.seq, p.S)
	}

	switch p.Op {
	case opDispatch:
		if p.T == "MESSAGE_CREATE" {
			s.dispatch(p.D)
		}

	case opHello:
		var hello struct {
			HeartbeatInterval float64 `json:"heartbeat_interval"`
		}
		_ = json.Unmarshal(p.D, &hello)
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		go s.startHeartbeat(interval, heartbeatStop)
		s.sendIdentify()

	case opReconnect, opInvalidSession:
		s.logger.Info("gateway requested reconnect")
		s.conn.Close()

	case opHeartbeat:
		s.sendHeartbeat()
	}
}

func (s *Session) sendIdentify() {
	body, _ := json.Marshal(map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":      s.token,
			"intents":    s.intents,
			"properties": identifyProperties{OS: "linux", Browser: "discord-indexer", Device: "discord-indexer"},
		},
	})
	if err := wsutil.WriteClientMessage(s.conn, ws.OpText, body); err != nil {
		s.logger.WithField("error", err.Error()).Error("send identify failed")
	}
}

func (s *Session) sendHeartbeat() {
	body, _ := json.Marshal(map[string]any{
		"op": opHeartbeat,
		"d":  atomic.LoadInt64(&s.seq),
	})
	if err := wsutil.WriteClientMessage(s.conn, ws.OpText, body); err != nil {
		s.logger.WithField("error", err.Error()).Error("send heartbeat failed")
	}
}

// startHeartbeat sends a heartbeat every interval, starting after one full
// interval (no jitter — a known non-conformance carried forward deliberately,
// not an oversight) and without tracking acks; a missed ack surfaces only as
// a server-initiated close, which unwinds readLoop and triggers a restart.
func (s *Session) startHeartbeat(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}
