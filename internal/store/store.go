// Package store implements the MongoDB-backed document store: the
// messages/channel_backfill/users collections, their indexes, and the
// atomic claim/release cycle the backfill scheduler relies on.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
	"github.com/patrick-slimelab/discord-indexer/internal/normalize"
)

// ChannelBackfill is the post-image returned by ClaimNextChannel.
type ChannelBackfill struct {
	ChannelID    string `bson:"channel_id"`
	GuildID      string `bson:"guild_id"`
	CursorBefore string `bson:"cursor_before,omitempty"`
	Done         bool   `bson:"done"`
	Claimed      bool   `bson:"claimed"`
	ErrorCount   int    `bson:"error_count"`
	CreatedAt    int64  `bson:"created_at"`
	UpdatedAt    int64  `bson:"updated_at"`
}

// Store wraps the three collections this indexer writes to.
type Store struct {
	db       *mongo.Database
	messages *mongo.Collection
	backfill *mongo.Collection
	users    *mongo.Collection
	logger   logx.Logger
}

// Open connects to uri, pings the server so an unreachable store fails here,
// and selects database dbName.
func Open(ctx context.Context, uri, dbName string, logger logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.Discard
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(dbName)
	return &Store{
		db:       db,
		messages: db.Collection("messages"),
		backfill: db.Collection("channel_backfill"),
		users:    db.Collection("users"),
		logger:   logger,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// Ping verifies the store connection is alive, for the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates every index the query patterns of this package
// depend on, if not already present.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := true

	if _, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(unique)},
		{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "timestamp_ms", Value: -1}}},
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "timestamp_ms", Value: -1}}},
	}); err != nil {
		return err
	}

	if _, err := s.backfill.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "channel_id", Value: 1}}, Options: options.Index().SetUnique(unique)},
		{Keys: bson.D{{Key: "done", Value: 1}, {Key: "updated_at", Value: 1}}},
	}); err != nil {
		return err
	}

	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(unique)},
		{Keys: bson.D{{Key: "last_seen_ms", Value: -1}}},
	}); err != nil {
		return err
	}

	return nil
}

// InsertMessage stores msg, decoding its preserved raw payload into a nested
// document rather than a re-escaped string. A duplicate message_id is not
// an error: the dedup invariant means the second writer simply loses.
func (s *Store) InsertMessage(ctx context.Context, msg normalize.Message) error {
	var rawDoc bson.M
	if err := bson.UnmarshalExtJSON(msg.Raw, false, &rawDoc); err != nil {
		rawDoc = bson.M{}
	}

	now := time.Now().UnixMilli()
	doc := bson.M{
		"message_id":   msg.MessageID,
		"channel_id":   msg.ChannelID,
		"guild_id":     msg.GuildID,
		"author_id":    msg.AuthorID,
		"timestamp":    msg.Timestamp,
		"timestamp_ms": msg.TimestampMs,
		"source":       string(msg.Source),
		"raw":          rawDoc,
		"ingested_at":  now,
	}

	_, err := s.messages.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpsertUser records the latest-seen identity for an author. Best-effort:
// a failure is logged here and returned, and callers ignore it rather than
// failing the ingestion path over it.
func (s *Store) UpsertUser(ctx context.Context, userID, username, globalName string, lastSeenMs int64) error {
	if userID == "" {
		return nil
	}
	_, err := s.users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"user_id":      userID,
			"username":     username,
			"global_name":  globalName,
			"last_seen_ms": lastSeenMs,
			"updated_at":   time.Now().UnixMilli(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.logger.WithFields(map[string]any{"user_id": userID, "err": err.Error()}).Warn("upsert user failed")
	}
	return err
}

// SeedBackfill inserts a fresh, unclaimed backfill record for channelID. A
// duplicate channel_id is not an error: the channel is already seeded.
func (s *Store) SeedBackfill(ctx context.Context, channelID, guildID string) error {
	now := time.Now().UnixMilli()
	_, err := s.backfill.InsertOne(ctx, ChannelBackfill{
		ChannelID: channelID,
		GuildID:   guildID,
		Done:      false,
		Claimed:   false,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// ClaimNextChannel atomically picks one unclaimed, unfinished channel,
// marks it claimed, and returns its post-image. Returns (nil, nil) when no
// candidate exists.
func (s *Store) ClaimNextChannel(ctx context.Context) (*ChannelBackfill, error) {
	filter := bson.M{"done": false, "claimed": bson.M{"$ne": true}}
	update := bson.M{"$set": bson.M{"claimed": true, "updated_at": time.Now().UnixMilli()}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetReturnDocument(options.After)

	var result ChannelBackfill
	err := s.backfill.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateChannelState releases a claim, recording the new cursor and
// completion state. errorDelta, when positive, increments error_count.
func (s *Store) UpdateChannelState(ctx context.Context, channelID, newCursor string, done bool, errorDelta int) error {
	set := bson.M{
		"cursor_before": newCursor,
		"done":          done,
		"claimed":       false,
		"updated_at":    time.Now().UnixMilli(),
	}
	update := bson.M{"$set": set}
	if errorDelta > 0 {
		update["$inc"] = bson.M{"error_count": errorDelta}
	}
	_, err := s.backfill.UpdateOne(ctx, bson.M{"channel_id": channelID}, update)
	return err
}

// SweepStaleClaims recovers channels left claimed=true by a crashed worker:
// any record whose claimed=true and updated_at predates olderThan is reset
// to claimed=false, leaving cursor_before/done untouched so the next claim
// resumes exactly where the crashed worker left off.
func (s *Store) SweepStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.backfill.UpdateMany(ctx,
		bson.M{"claimed": true, "updated_at": bson.M{"$lt": olderThan.UnixMilli()}},
		bson.M{"$set": bson.M{"claimed": false}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
