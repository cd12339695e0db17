package gateway

import (
	"encoding/json"
	"testing"
)

func TestHandlePayload_DispatchesMessageCreate(t *testing.T) {
	var got []byte
	s := New("wss://example.invalid", "tok", 4609, func(raw []byte) {
		got = raw
	}, nil)

	d := json.RawMessage(`{"id":"123","content":"hi"}`)
	s.handlePayload(payload{Op: opDispatch, T: "MESSAGE_CREATE", D: d, S: 5}, make(chan struct{}))

	if string(got) != string(d) {
		t.Fatalf("dispatch got %s, want %s", got, d)
	}
	if s.seq != 5 {
		t.Fatalf("seq = %d, want 5", s.seq)
	}
}

func TestHandlePayload_IgnoresOtherDispatchTypes(t *testing.T) {
	called := false
	s := New("wss://example.invalid", "tok", 4609, func(raw []byte) {
		called = true
	}, nil)

	s.handlePayload(payload{Op: opDispatch, T: "GUILD_CREATE", D: json.RawMessage(`{}`)}, make(chan struct{}))

	if called {
		t.Fatal("expected dispatcher not to be called for non-MESSAGE_CREATE events")
	}
}

func TestHandlePayload_ZeroSequenceDoesNotReset(t *testing.T) {
	s := New("wss://example.invalid", "tok", 4609, func([]byte) {}, nil)
	s.handlePayload(payload{Op: opDispatch, S: 10}, make(chan struct{}))
	s.handlePayload(payload{Op: opDispatch, S: 0}, make(chan struct{}))
	if s.seq != 10 {
		t.Fatalf("seq = %d, want 10 (S=0 should not reset it)", s.seq)
	}
}
