// Package backfill implements the per-worker claim/fetch/store loop that
// walks each channel's history backwards until an empty page terminates it.
package backfill

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
	"github.com/patrick-slimelab/discord-indexer/internal/normalize"
)

const noClaimSleep = 2 * time.Second

// Claim is the subset of a channel_backfill record the worker loop needs.
type Claim struct {
	ChannelID    string
	CursorBefore string
}

// Store is the subset of the store adapter the worker depends on.
type Store interface {
	ClaimNextChannel(ctx context.Context) (*Claim, error)
	UpdateChannelState(ctx context.Context, channelID, newCursor string, done bool, errorDelta int) error
	InsertMessage(ctx context.Context, msg normalize.Message) error
	UpsertUser(ctx context.Context, userID, username, globalName string, lastSeenMs int64) error
}

// API is the subset of the REST client the worker depends on.
type API interface {
	FetchMessagesPage(ctx context.Context, channelID string, limit int, before string) (*http.Response, error)
}

// Worker runs the per-slot claim loop. One Worker instance is one
// INDEXER_BACKFILL_WORKERS slot.
type Worker struct {
	id       int
	store    Store
	api      API
	pageSize int
	delay    time.Duration
	logger   logx.Logger

	onError func(channelID string) // metrics hook, nil in normal operation
	onDone  func(channelID string) // metrics hook, nil in normal operation
}

// New constructs a Worker. pageSize is clamped by the caller (config
// already clamps it to [1,100]); delay is the fallback inter-page sleep.
func New(id int, store Store, api API, pageSize int, delay time.Duration, logger logx.Logger) *Worker {
	if logger == nil {
		logger = logx.Discard
	}
	return &Worker{id: id, store: store, api: api, pageSize: pageSize, delay: delay, logger: logger}
}

func (w *Worker) Name() string { return "backfill_worker_" + strconv.Itoa(w.id) }

// OnError registers fn to run whenever a page fetch/decode outcome is
// recorded as an error (errorDelta=1 in UpdateChannelState).
func (w *Worker) OnError(fn func(channelID string)) {
	w.onError = fn
}

// OnDone registers fn to run the moment a channel's backfill reaches
// done=true (an empty page was observed).
func (w *Worker) OnDone(fn func(channelID string)) {
	w.onDone = fn
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		claim, err := w.store.ClaimNextChannel(ctx)
		if err != nil {
			w.logger.WithField("error", err.Error()).Error("claim failed")
			if !sleepCtx(ctx, noClaimSleep) {
				return nil
			}
			continue
		}
		if claim == nil {
			if !sleepCtx(ctx, noClaimSleep) {
				return nil
			}
			continue
		}

		sleep := w.processOnce(ctx, claim)
		if !sleepCtx(ctx, sleep) {
			return nil
		}
	}
}

// processOnce handles exactly one page for claim, returning the
// post-iteration sleep duration the loop should honor next.
func (w *Worker) processOnce(ctx context.Context, claim *Claim) time.Duration {
	resp, err := w.api.FetchMessagesPage(ctx, claim.ChannelID, w.pageSize, claim.CursorBefore)
	if err != nil {
		w.logger.WithFields(map[string]any{"channel_id": claim.ChannelID, "error": err.Error()}).Warn("fetch messages page failed")
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 1)
		w.recordError(claim.ChannelID)
		return w.delay
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retry := retryAfter(resp)
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 1)
		w.recordError(claim.ChannelID)
		return retry
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 1)
		w.recordError(claim.ChannelID)
		return w.delay
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 1)
		w.recordError(claim.ChannelID)
		return w.delay
	}

	var page []json.RawMessage
	if err := sonic.Unmarshal(body, &page); err != nil {
		// 2xx with a non-array body is treated as other non-2xx.
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 1)
		w.recordError(claim.ChannelID)
		return w.delay
	}

	if len(page) == 0 {
		_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, true, 0)
		if w.onDone != nil {
			w.onDone(claim.ChannelID)
		}
		return w.postIterationSleep(resp)
	}

	var lastID string
	for _, raw := range page {
		msg, ok := normalize.Normalize(raw, normalize.SourceBackfill)
		if !ok {
			continue
		}
		if err := w.store.InsertMessage(ctx, msg); err != nil {
			// A non-duplicate write error abandons the page: the claim is
			// released with the cursor unchanged and the loop sleeps as it
			// does after any other store failure.
			w.logger.WithFields(map[string]any{"channel_id": claim.ChannelID, "error": err.Error()}).Error("insert message failed")
			_ = w.store.UpdateChannelState(ctx, claim.ChannelID, claim.CursorBefore, false, 0)
			return noClaimSleep
		}
		if msg.AuthorID != "" {
			_ = w.store.UpsertUser(ctx, msg.AuthorID, msg.AuthorName, msg.AuthorGlobal, msg.TimestampMs)
		}
		lastID = msg.MessageID
	}
	if lastID == "" {
		lastID = claim.CursorBefore
	}

	_ = w.store.UpdateChannelState(ctx, claim.ChannelID, lastID, false, 0)
	return w.postIterationSleep(resp)
}

// postIterationSleep implements step 6: honor the response's rate-limit
// headers when they report exhaustion, else fall back to the configured
// delay.
func (w *Worker) postIterationSleep(resp *http.Response) time.Duration {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	resetAfter := resp.Header.Get("X-RateLimit-Reset-After")
	if remaining == "" || resetAfter == "" {
		return w.delay
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return w.delay
	}
	secs, err := strconv.ParseFloat(resetAfter, 64)
	if err != nil {
		return w.delay
	}
	return time.Duration(secs * float64(time.Second))
}

// minRetry mirrors the coordinator's own 429 floor (internal/ratelimit),
// so a worker's own sleep never undercuts what the shared rate limiter
// would have enforced on the next call anyway.
const minRetry = 250 * time.Millisecond

// retryAfter computes the 429 wait the same way the coordinator does:
// the Retry-After header first, then the JSON body's retry_after field,
// floored at minRetry, defaulting to 1s if neither is present.
func retryAfter(resp *http.Response) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil {
			return floorRetry(time.Duration(secs * float64(time.Second)))
		}
	}
	if body, ok := peekAndRestoreBody(resp); ok {
		if v, ok := body["retry_after"]; ok {
			if f, ok := v.(float64); ok {
				return floorRetry(time.Duration(f * float64(time.Second)))
			}
		}
	}
	return time.Second
}

func floorRetry(d time.Duration) time.Duration {
	if d < minRetry {
		return minRetry
	}
	return d
}

// peekAndRestoreBody reads resp.Body fully, decodes it as a JSON object to
// inspect retry_after, and replaces resp.Body with a fresh reader over the
// same bytes. Duplicated from internal/ratelimit (unexported there) since
// this is the one other call site that needs the body-fallback.
func peekAndRestoreBody(resp *http.Response) (map[string]any, bool) {
	if resp.Body == nil {
		return nil, false
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// recordError invokes the error hook, if registered.
func (w *Worker) recordError(channelID string) {
	if w.onError != nil {
		w.onError(channelID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
