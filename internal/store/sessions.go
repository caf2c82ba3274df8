package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sessions is the durable side of the setup wizard session store. One
// record per guild, upserted on every mutation so an in-flight wizard
// survives a restart.
type Sessions struct {
	store *Store
}

// NewSessions creates the session repository over the connected store.
func NewSessions(s *Store) *Sessions {
	return &Sessions{store: s}
}

// Save upserts the session record. markExpired stamps the record so it
// is skipped by Load and later removed by the retention sweep.
func (s *Sessions) Save(ctx context.Context, record SessionRecord, markExpired bool) error {
	record.UpdatedAt = time.Now().UTC()
	if markExpired {
		record.IsExpired = true
		record.ExpiredAt = record.UpdatedAt
	}

	opts := options.Update().SetUpsert(true)
	_, err := s.store.setupSessions.UpdateOne(ctx,
		bson.M{"_id": record.GuildID},
		bson.M{"$set": record},
		opts,
	)
	return err
}

// Load returns the guild's live session record, or nil if none exists
// or it has been marked expired.
func (s *Sessions) Load(ctx context.Context, guildID string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.store.setupSessions.FindOne(ctx, bson.M{
		"_id":        guildID,
		"is_expired": bson.M{"$ne": true},
	}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the session record entirely.
func (s *Sessions) Delete(ctx context.Context, guildID string) error {
	_, err := s.store.setupSessions.DeleteOne(ctx, bson.M{"_id": guildID})
	return err
}

// LoadLive returns all records whose last activity is within the
// inactivity timeout, for resuming wizards on startup. Corrupt records
// are deleted rather than resumed.
func (s *Sessions) LoadLive(ctx context.Context, timeout time.Duration) ([]SessionRecord, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	cursor, err := s.store.setupSessions.Find(ctx, bson.M{
		"is_expired":    bson.M{"$ne": true},
		"last_activity": bson.M{"$gte": cutoff},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []SessionRecord
	for cursor.Next(ctx) {
		var record SessionRecord
		if err := cursor.Decode(&record); err != nil {
			slog.Warn("Dropping corrupt session record", "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, cursor.Err()
}

// PurgeOlderThan removes expired or stale session records past the
// retention window.
func (s *Sessions) PurgeOlderThan(ctx context.Context, age time.Duration) int64 {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.store.setupSessions.DeleteMany(ctx, bson.M{
		"$or": bson.A{
			bson.M{"expired_at": bson.M{"$lt": cutoff}},
			bson.M{"last_activity": bson.M{"$lt": cutoff}},
		},
	})
	if err != nil {
		slog.Error("Failed to purge old sessions", "error", err)
		return 0
	}
	return res.DeletedCount
}
