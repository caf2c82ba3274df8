package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collGuildSettings = "guild_settings"
	collMessageLogs   = "message_logs"
	collSetupSessions = "setup_sessions"
	collSubscriptions = "premium_subscriptions"
	collPremiumCodes  = "premium_codes"
	collBotSettings   = "bot_settings"
)

// Store owns the MongoDB client and the typed collection handles used
// by the repositories. Handles are resolved once during Connect; there
// is no runtime collection lookup by name.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	guilds        *mongo.Collection
	messageLogs   *mongo.Collection
	setupSessions *mongo.Collection
	subscriptions *mongo.Collection
	premiumCodes  *mongo.Collection
	botSettings   *mongo.Collection

	healthInterval time.Duration
	healthy        bool
	mu             sync.RWMutex
	stopHealth     chan struct{}
	healthDone     sync.WaitGroup
}

// Connect establishes the MongoDB connection with retry, verifies it
// with a ping, resolves collection handles and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetAppName("stygian-relay")

	var client *mongo.Client
	var err error
	delay := 2 * time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		client, err = mongo.Connect(ctx, opts)
		if err == nil {
			err = client.Ping(ctx, nil)
			if err == nil {
				break
			}
			_ = client.Disconnect(ctx)
		}
		slog.Warn("MongoDB connection attempt failed", "attempt", attempt, "error", err)
		if attempt < 3 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay += delay / 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:         client,
		db:             db,
		guilds:         db.Collection(collGuildSettings),
		messageLogs:    db.Collection(collMessageLogs),
		setupSessions:  db.Collection(collSetupSessions),
		subscriptions:  db.Collection(collSubscriptions),
		premiumCodes:   db.Collection(collPremiumCodes),
		botSettings:    db.Collection(collBotSettings),
		healthInterval: 30 * time.Second,
		healthy:        true,
		stopHealth:     make(chan struct{}),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	s.healthDone.Add(1)
	go s.monitorHealth()

	slog.Info("Connected to MongoDB", "database", database)
	return s, nil
}

// ensureIndexes creates the indexes the quota counter and lookups rely
// on. Index creation is idempotent.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.messageLogs, mongo.IndexModel{
			Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "forwarded_at", Value: 1}},
		}},
		{s.subscriptions, mongo.IndexModel{
			Keys: bson.D{{Key: "guild_id", Value: 1}},
		}},
		{s.setupSessions, mongo.IndexModel{
			Keys: bson.D{{Key: "last_activity", Value: 1}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

// monitorHealth pings the server on an interval so callers can observe
// connectivity via Healthy.
func (s *Store) monitorHealth() {
	defer s.healthDone.Done()

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.client.Ping(ctx, nil)
			cancel()

			s.mu.Lock()
			wasHealthy := s.healthy
			s.healthy = err == nil
			s.mu.Unlock()

			if err != nil {
				slog.Warn("MongoDB health check failed", "error", err)
			} else if !wasHealthy {
				slog.Info("MongoDB connection recovered")
			}
		}
	}
}

// Healthy reports the result of the most recent health check.
func (s *Store) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// Close stops the health monitor and disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	close(s.stopHealth)
	s.healthDone.Wait()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	slog.Info("MongoDB connection closed")
	return nil
}
