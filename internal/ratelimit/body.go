package ratelimit

import (
	"bytes"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// peekAndRestoreBody reads resp.Body fully, decodes it as a JSON object for
// the 429 "global"/"retry_after" fields, and replaces resp.Body with a fresh
// reader over the same bytes so the caller can still consume it normally.
//
// The body is expected to be small (a 429 error payload); buffering it here
// is cheap and lets the coordinator inspect it without the caller having to
// special-case 429 responses itself.
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
