package ratelimit

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubTransport serves canned responses off a queue, one per call in order,
// whatever the URL; it also records the time each request was sent so tests
// can assert on backoff respect.
type stubTransport struct {
	mu        sync.Mutex
	responses []*http.Response
	sentAt    []time.Time
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentAt = append(s.sentAt, time.Now())
	if len(s.responses) == 0 {
		return &http.Response{StatusCode: 204, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func newResp(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: h}
}

func TestCoordinator_BucketLearning(t *testing.T) {
	tr := &stubTransport{responses: []*http.Response{
		newResp(200, "[]", map[string]string{"X-RateLimit-Bucket": "abc123"}),
		newResp(200, "[]", map[string]string{"X-RateLimit-Bucket": "abc123"}),
	}}
	c := New(&http.Client{Transport: tr}, "", nil)

	if _, err := c.Get(context.Background(), "https://discord.com/api/v10/channels/1/messages", "GET:/channels/:channelId/messages"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Get(context.Background(), "https://discord.com/api/v10/channels/2/messages", "GET:/channels/:channelId/messages"); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if _, ok := c.routeToBucket.Load("GET:/channels/:channelId/messages"); !ok {
		t.Fatalf("expected route-to-bucket mapping to be learned")
	}
}

func TestCoordinator_BackoffRespect(t *testing.T) {
	tr := &stubTransport{responses: []*http.Response{
		newResp(429, `{"retry_after":0.3,"global":false}`, map[string]string{"Retry-After": "0.3"}),
		newResp(200, "[]", nil),
	}}
	c := New(&http.Client{Transport: tr}, "", nil)

	resp1, err := c.Get(context.Background(), "https://discord.com/api/v10/channels/1/messages", "GET:/channels/:channelId/messages")
	if err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if resp1.StatusCode != 429 {
		t.Fatalf("expected 429, got %d", resp1.StatusCode)
	}

	resp2, err := c.Get(context.Background(), "https://discord.com/api/v10/channels/1/messages", "GET:/channels/:channelId/messages")
	if err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if resp2.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sentAt) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(tr.sentAt))
	}
	delta := tr.sentAt[1].Sub(tr.sentAt[0])
	if delta < 300*time.Millisecond {
		t.Fatalf("expected >=300ms between requests honoring Retry-After, got %v", delta)
	}
}

// slowCountingTransport records the peak number of RoundTrip calls that were
// executing concurrently, to verify bucket serialization holds the gate
// across the whole request, not just header parsing.
type slowCountingTransport struct {
	inFlight    int32
	maxInFlight int32
}

func (s *slowCountingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&s.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&s.maxInFlight, cur, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return &http.Response{StatusCode: 204, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
}

func TestCoordinator_BucketSerialization(t *testing.T) {
	tr := &slowCountingTransport{}
	c := New(&http.Client{Transport: tr}, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), "https://discord.com/api/v10/channels/1/messages", "GET:/channels/:channelId/messages")
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&tr.maxInFlight); max != 1 {
		t.Fatalf("expected at most 1 concurrent request on the same bucket, observed %d", max)
	}
}
