// Package normalize implements the pure transform from an upstream
// MESSAGE_CREATE-shaped JSON payload to the record stored by the indexer,
// per §4.C. It never errors on a malformed sub-field: every optional field
// is read tolerantly, with "absent or wrong type" degrading to a zero value
// rather than rejecting the message. Only a missing, non-string or empty
// top-level "id" causes rejection.
package normalize

import (
	"time"

	"github.com/tidwall/gjson"
)

// Source records which ingestion path observed a message first.
type Source string

const (
	SourceLive     Source = "live"
	SourceBackfill Source = "backfill"
)

// Message is the normalized record matching the §3 data model. Raw is kept
// as the original bytes; the store adapter decodes it once into a nested
// document rather than re-escaping it as a string.
type Message struct {
	MessageID    string
	ChannelID    string
	GuildID      string
	AuthorID     string
	AuthorName   string
	AuthorGlobal string
	Timestamp    string
	TimestampMs  int64
	Source       Source
	Raw          []byte
}

// Normalize extracts a Message from raw, tagging it with source. ok is false
// only when "id" is absent, not a string, or the empty string — the message
// must be rejected (not inserted) in that case.
func Normalize(raw []byte, source Source) (msg Message, ok bool) {
	idRes := gjson.GetBytes(raw, "id")
	if idRes.Type != gjson.String || idRes.String() == "" {
		return Message{}, false
	}

	msg = Message{
		MessageID:    idRes.String(),
		ChannelID:    stringField(raw, "channel_id"),
		GuildID:      stringField(raw, "guild_id"),
		AuthorID:     stringField(raw, "author.id"),
		AuthorName:   stringField(raw, "author.username"),
		AuthorGlobal: stringField(raw, "author.global_name"),
		Timestamp:    stringField(raw, "timestamp"),
		Source:       source,
		Raw:          raw,
	}
	msg.TimestampMs = parseTimestampMs(msg.Timestamp)
	return msg, true
}

// stringField returns the value at path if and only if it is a JSON string;
// any other case (absent, null, number, object...) yields "".
func stringField(raw []byte, path string) string {
	res := gjson.GetBytes(raw, path)
	if res.Type != gjson.String {
		return ""
	}
	return res.String()
}

// parseTimestampMs parses an ISO-8601/RFC3339 timestamp with offset into
// epoch milliseconds; 0 on any parse failure, per §4.C.
func parseTimestampMs(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}
