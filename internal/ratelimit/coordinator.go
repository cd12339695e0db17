// Package ratelimit implements the serialized, bucket-aware HTTP GET
// coordinator shared by the backfill scheduler and the supervisor's
// discovery calls. One coordinator is shared process-wide.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
)

const (
	headerRetryAfter = "Retry-After"
	headerGlobal     = "X-RateLimit-Global"
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"

	minRetry = 250 * time.Millisecond
)

// globalCooldown stores the earliest time any request may proceed, as a
// UnixNano timestamp. Updated via compare-and-swap so "set" only ever
// extends, never shortens, the cooldown.
type globalCooldown int64

func (g *globalCooldown) extendTo(t time.Time) {
	newVal := t.UnixNano()
	for {
		oldVal := atomic.LoadInt64((*int64)(g))
		if newVal <= oldVal {
			return
		}
		if atomic.CompareAndSwapInt64((*int64)(g), oldVal, newVal) {
			return
		}
	}
}

func (g *globalCooldown) get() time.Time {
	return time.Unix(0, atomic.LoadInt64((*int64)(g)))
}

// bucket holds per-route rate-limit state plus the capacity-1 gate that
// serializes requests sharing this bucket.
type bucket struct {
	gate        sync.Mutex
	nextAllowed time.Time
}

// Coordinator serializes GET requests per upstream bucket and enforces a
// global cooldown, per §4.A. It performs no retries of its own: a 429 (or
// any other response) is returned verbatim to the caller, which owns retry
// policy.
type Coordinator struct {
	client    *http.Client
	logger    logx.Logger
	authToken string // "Bot <token>", empty for unauthenticated calls

	routeToBucket sync.Map // map[routeKey string]string: the learned canonical bucket ID
	bucketByID    sync.Map // map[bucketID string]*bucket; unlearned routes live under "route:"+routeKey

	global globalCooldown

	onRateLimited func(routeKey string) // metrics hook, nil in normal operation
}

// New creates a Coordinator using client for requests (a 30s-timeout client
// is used if client is nil, per §5's request-timeout resolution). authToken,
// if non-empty, is sent as the Authorization header on every request (§4.F
// step 3: "set HTTP authorization header to Bot {token}").
func New(client *http.Client, authToken string, logger logx.Logger) *Coordinator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logx.Discard
	}
	return &Coordinator{client: client, authToken: authToken, logger: logger}
}

// OnRateLimited registers fn to run every time a 429 is observed, after the
// bucket/global cooldown state has been updated.
func (c *Coordinator) OnRateLimited(fn func(routeKey string)) {
	c.onRateLimited = fn
}

// bucketFor returns the bucket for a route key, preferring a previously
// learned canonical bucket ID over the route-keyed placeholder.
func (c *Coordinator) bucketFor(routeKey string) *bucket {
	if idVal, ok := c.routeToBucket.Load(routeKey); ok {
		if learnedID, ok := idVal.(string); ok {
			b, _ := c.bucketByID.LoadOrStore(learnedID, &bucket{})
			return b.(*bucket)
		}
	}
	b, _ := c.bucketByID.LoadOrStore("route:"+routeKey, &bucket{})
	return b.(*bucket)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get performs a rate-limit-compliant GET against url, bucketed by routeKey
// (a normalized template such as "GET:/channels/:channelId/messages").
func (c *Coordinator) Get(ctx context.Context, url, routeKey string) (*http.Response, error) {
	if err := sleepUntil(ctx, c.global.get()); err != nil {
		return nil, err
	}

	b := c.bucketFor(routeKey)
	b.gate.Lock()
	defer b.gate.Unlock()

	if err := sleepUntil(ctx, b.nextAllowed); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	c.observe(routeKey, b, resp)
	return resp, nil
}

// observe applies the response-header rules of §4.A while the caller still
// holds the bucket's gate.
func (c *Coordinator) observe(routeKey string, b *bucket, resp *http.Response) {
	if bucketID := resp.Header.Get(headerBucket); bucketID != "" {
		if _, loaded := c.routeToBucket.LoadOrStore(routeKey, bucketID); !loaded {
			// First sighting: migrate this route's accrued state onto the
			// canonical bucket id so future lookups share it.
			c.bucketByID.Store(bucketID, b)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retry := retryAfterFrom(resp)
		if retry < minRetry {
			retry = minRetry
		}
		newDeadline := time.Now().Add(retry)
		if newDeadline.After(b.nextAllowed) {
			b.nextAllowed = newDeadline
		}
		if isGlobal429(resp) {
			c.global.extendTo(newDeadline)
		}
		c.logger.WithFields(map[string]any{"route": routeKey, "retry_ms": retry.Milliseconds()}).Warn("rate limited (429)")
		if c.onRateLimited != nil {
			c.onRateLimited(routeKey)
		}
		return
	}

	remaining := resp.Header.Get(headerRemaining)
	resetAfter := resp.Header.Get(headerResetAfter)
	if remaining != "" && resetAfter != "" {
		if n, err := strconv.Atoi(remaining); err == nil && n <= 0 {
			if secs, err := strconv.ParseFloat(resetAfter, 64); err == nil {
				wait := time.Duration(math.Ceil(secs*1000)) * time.Millisecond
				if wait < minRetry {
					wait = minRetry
				}
				deadline := time.Now().Add(wait)
				if deadline.After(b.nextAllowed) {
					b.nextAllowed = deadline
				}
				if resp.Header.Get(headerGlobal) != "" {
					c.global.extendTo(deadline)
				}
			}
		}
	}
}

// retryAfterFrom computes retry_ms per §4.A: header delta first, then JSON
// body's retry_after (seconds, float), else the 1000ms default.
func retryAfterFrom(resp *http.Response) time.Duration {
	if h := resp.Header.Get(headerRetryAfter); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	body, ok := peekAndRestoreBody(resp)
	if ok {
		if v, ok := body["retry_after"]; ok {
			if f, ok := v.(float64); ok {
				return time.Duration(f * float64(time.Second))
			}
		}
	}
	return time.Second
}

func isGlobal429(resp *http.Response) bool {
	body, ok := peekAndRestoreBody(resp)
	if !ok {
		return false
	}
	g, _ := body["global"].(bool)
	return g
}
