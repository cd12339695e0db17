package normalize

import "testing"

func TestNormalize_FullMessage(t *testing.T) {
	raw := []byte(`{
		"id": "1234567890",
		"channel_id": "111",
		"guild_id": "222",
		"timestamp": "2024-03-01T12:00:00.000000+00:00",
		"author": {"id": "333", "username": "alice", "global_name": "Alice"}
	}`)

	msg, ok := Normalize(raw, SourceLive)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if msg.MessageID != "1234567890" {
		t.Fatalf("MessageID = %q", msg.MessageID)
	}
	if msg.ChannelID != "111" || msg.GuildID != "222" {
		t.Fatalf("channel/guild = %q/%q", msg.ChannelID, msg.GuildID)
	}
	if msg.AuthorID != "333" || msg.AuthorName != "alice" || msg.AuthorGlobal != "Alice" {
		t.Fatalf("author fields = %+v", msg)
	}
	if msg.TimestampMs == 0 {
		t.Fatal("expected a parsed timestamp")
	}
	if msg.Source != SourceLive {
		t.Fatalf("Source = %q", msg.Source)
	}
}

func TestNormalize_MissingID(t *testing.T) {
	if _, ok := Normalize([]byte(`{"channel_id":"1"}`), SourceBackfill); ok {
		t.Fatal("expected ok=false for missing id")
	}
}

func TestNormalize_WrongTypeID(t *testing.T) {
	if _, ok := Normalize([]byte(`{"id": 123}`), SourceBackfill); ok {
		t.Fatal("expected ok=false for non-string id")
	}
}

func TestNormalize_MissingGuildID(t *testing.T) {
	// DM messages carry no guild_id; this must degrade, not reject.
	msg, ok := Normalize([]byte(`{"id":"1","channel_id":"2"}`), SourceLive)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if msg.GuildID != "" {
		t.Fatalf("GuildID = %q, want empty", msg.GuildID)
	}
}

func TestNormalize_MalformedAuthor(t *testing.T) {
	// author present but wrong shape (a string instead of an object).
	msg, ok := Normalize([]byte(`{"id":"1","author":"not-an-object"}`), SourceLive)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if msg.AuthorID != "" || msg.AuthorName != "" {
		t.Fatalf("expected zero-value author fields, got %+v", msg)
	}
}

func TestNormalize_BadTimestamp(t *testing.T) {
	msg, ok := Normalize([]byte(`{"id":"1","timestamp":"not-a-time"}`), SourceBackfill)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if msg.TimestampMs != 0 {
		t.Fatalf("TimestampMs = %d, want 0", msg.TimestampMs)
	}
}

func TestNormalize_PreservesRaw(t *testing.T) {
	raw := []byte(`{"id":"1","extra_field":"kept"}`)
	msg, ok := Normalize(raw, SourceLive)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if string(msg.Raw) != string(raw) {
		t.Fatalf("Raw not preserved verbatim")
	}
}
