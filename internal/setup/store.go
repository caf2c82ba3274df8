package setup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// Durable is the persistence boundary of the session store. The mongo
// implementation lives in internal/store; tests substitute a fake.
type Durable interface {
	Save(ctx context.Context, record store.SessionRecord, markExpired bool) error
	Load(ctx context.Context, guildID string) (*store.SessionRecord, error)
	Delete(ctx context.Context, guildID string) error
	LoadLive(ctx context.Context, timeout time.Duration) ([]store.SessionRecord, error)
	PurgeOlderThan(ctx context.Context, age time.Duration) int64
}

// SessionStore caches live wizard sessions in memory over the durable
// store. A single coarse mutex serializes all access; discordgo runs
// every event handler on its own goroutine, so callers get snapshots
// and all mutation happens inside the lock via Update or Mutate.
// Wizard interactions are human-paced, so per-guild locking buys
// nothing.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	durable Durable
	timeout time.Duration
}

// NewSessionStore creates the store with the given inactivity timeout.
func NewSessionStore(durable Durable, timeout time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		durable:  durable,
		timeout:  timeout,
	}
}

// Create returns a snapshot of the guild's live session, resuming from
// the durable store when possible, and creating a fresh one otherwise.
// A guild never has two concurrent sessions.
func (ss *SessionStore) Create(ctx context.Context, guildID, userID string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if existing := ss.liveLocked(ctx, guildID); existing != nil {
		return existing.clone()
	}

	session := NewSession(guildID, userID)
	ss.sessions[guildID] = session
	ss.persistLocked(ctx, session, false)
	slog.Info("Setup session created", "guild", guildID, "user", userID)
	return session.clone()
}

// Get returns a snapshot of the guild's live session, or nil. Expired
// sessions are evicted and reported as absent.
func (ss *SessionStore) Get(ctx context.Context, guildID string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if session := ss.liveLocked(ctx, guildID); session != nil {
		return session.clone()
	}
	return nil
}

// Mutate runs fn against the guild's live session while holding the
// store lock, then persists the result. fn returning true removes the
// session from memory and the durable store (terminal transition).
// Reports whether a live session existed.
func (ss *SessionStore) Mutate(ctx context.Context, guildID string, fn func(s *Session) (remove bool)) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session := ss.liveLocked(ctx, guildID)
	if session == nil {
		return false
	}
	remove := fn(session)
	ss.persistLocked(ctx, session, false)
	if remove {
		delete(ss.sessions, guildID)
		if err := ss.durable.Delete(ctx, guildID); err != nil {
			slog.Warn("Failed to delete durable session", "guild", guildID, "error", err)
		}
	}
	return true
}

// liveLocked returns the canonical unexpired session for the guild,
// loading it from the durable store if needed. Evicts on expiry.
// Callers hold ss.mu; the returned pointer must not escape the lock.
func (ss *SessionStore) liveLocked(ctx context.Context, guildID string) *Session {
	if session, ok := ss.sessions[guildID]; ok {
		if session.IsExpired(ss.timeout) {
			ss.evictLocked(ctx, session)
			return nil
		}
		return session
	}

	if record := ss.loadDurable(ctx, guildID); record != nil {
		session := FromRecord(*record)
		if !session.IsExpired(ss.timeout) {
			ss.sessions[guildID] = session
			return session
		}
	}
	return nil
}

// Update applies the enumerated update to the live session and
// persists it. Returns false when no live session exists, in which
// case the caller must recreate one.
func (ss *SessionStore) Update(ctx context.Context, guildID string, u Update) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session, ok := ss.sessions[guildID]
	if !ok {
		return false
	}
	session.Apply(u)
	ss.persistLocked(ctx, session, false)
	return true
}

// Cleanup persists final state, then removes the session from memory
// and the durable store. Idempotent.
func (ss *SessionStore) Cleanup(ctx context.Context, guildID string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session, ok := ss.sessions[guildID]
	if !ok {
		return false
	}
	ss.persistLocked(ctx, session, false)
	delete(ss.sessions, guildID)

	if err := ss.durable.Delete(ctx, guildID); err != nil {
		slog.Warn("Failed to delete durable session", "guild", guildID, "error", err)
	}
	return true
}

// ReapExpired evicts every in-memory session past the inactivity
// timeout, persisting each with the expired marker for audit. The
// durable records are removed later by the retention sweep.
func (ss *SessionStore) ReapExpired(ctx context.Context) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var reaped int
	for guildID, session := range ss.sessions {
		if session.IsExpired(ss.timeout) {
			ss.persistLocked(ctx, session, true)
			delete(ss.sessions, guildID)
			reaped++
		}
	}
	if reaped > 0 {
		slog.Info("Reaped expired setup sessions", "count", reaped)
	}
	return reaped
}

// PurgeOld removes durable records past the retention window.
func (ss *SessionStore) PurgeOld(ctx context.Context, retention time.Duration) {
	if removed := ss.durable.PurgeOlderThan(ctx, retention); removed > 0 {
		slog.Info("Purged old session records", "count", removed)
	}
}

// ResumeOnStartup loads all live durable sessions into memory so
// in-flight wizards survive a restart.
func (ss *SessionStore) ResumeOnStartup(ctx context.Context) int {
	records, err := ss.durable.LoadLive(ctx, ss.timeout)
	if err != nil {
		slog.Error("Failed to resume setup sessions", "error", err)
		return 0
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	var resumed int
	for _, record := range records {
		session := FromRecord(record)
		if session.IsExpired(ss.timeout) {
			continue
		}
		ss.sessions[session.GuildID] = session
		resumed++
	}
	if resumed > 0 {
		slog.Info("Resumed setup sessions from database", "count", resumed)
	}
	return resumed
}

// Count returns the number of live in-memory sessions.
func (ss *SessionStore) Count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

// persistLocked writes the session through to the durable store.
// Failures are logged, not raised: the in-memory copy remains
// authoritative and the store degrades to memory-only operation.
func (ss *SessionStore) persistLocked(ctx context.Context, session *Session, markExpired bool) {
	if err := ss.durable.Save(ctx, session.Record(), markExpired); err != nil {
		slog.Warn("Failed to persist setup session", "guild", session.GuildID, "error", err)
	}
}

func (ss *SessionStore) evictLocked(ctx context.Context, session *Session) {
	ss.persistLocked(ctx, session, true)
	delete(ss.sessions, session.GuildID)
}

func (ss *SessionStore) loadDurable(ctx context.Context, guildID string) *store.SessionRecord {
	record, err := ss.durable.Load(ctx, guildID)
	if err != nil {
		slog.Warn("Failed to load durable session", "guild", guildID, "error", err)
		return nil
	}
	return record
}
