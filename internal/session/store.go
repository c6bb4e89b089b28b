// Package session is the registry of matched pairs. Sessions are durable
// rows in PostgreSQL with a JSON read-through cache in Redis, consulted by
// the relay tier and by clients reconnecting after a page refresh.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chancechat/chance/internal/metrics"
)

const (
	StatusActive   = "active"
	StatusEnded    = "ended"
	StatusNotFound = "not_found"

	cachePrefix = "session:"
	cacheTTL    = 1 * time.Hour
)

// ErrNotFound is returned by End when no session exists for the given ID.
var ErrNotFound = errors.New("session: not found")

// ChatSession is a persisted record of a matched pair's conversation
// lifecycle. Once ended it never changes again.
type ChatSession struct {
	ID        string     `json:"id"`
	User1ID   string     `json:"user1Id"`
	User2ID   string     `json:"user2Id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Partner returns the other party's user ID, or "" if userID is not a
// participant.
func (cs *ChatSession) Partner(userID string) string {
	switch userID {
	case cs.User1ID:
		return cs.User2ID
	case cs.User2ID:
		return cs.User1ID
	}
	return ""
}

// IsParticipant reports whether userID is one of the pair.
func (cs *ChatSession) IsParticipant(userID string) bool {
	return userID == cs.User1ID || userID == cs.User2ID
}

// Store manages chat sessions in PostgreSQL with a Redis cache.
type Store struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewStore creates a session store on the given database and cache handles.
func NewStore(db *sql.DB, rdb *redis.Client) *Store {
	return &Store{db: db, rdb: rdb}
}

// Create inserts a new active session. The matcher calls this after claiming
// the partner's queue entry and before publishing the match event, so no
// observer ever sees a session referencing a still-queued user.
func (s *Store) Create(ctx context.Context, sessionID, user1ID, user2ID string) error {
	const query = `
		INSERT INTO chat_sessions (id, user1_id, user2_id, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())`

	if _, err := s.db.ExecContext(ctx, query, sessionID, user1ID, user2ID, StatusActive); err != nil {
		return fmt.Errorf("session: insert %s: %w", sessionID, err)
	}

	s.cache(ctx, &ChatSession{
		ID:        sessionID,
		User1ID:   user1ID,
		User2ID:   user2ID,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	})
	metrics.ActiveSessions.Inc()
	return nil
}

// Get retrieves a session, trying the cache first. Returns nil if the
// session does not exist.
func (s *Store) Get(ctx context.Context, sessionID string) (*ChatSession, error) {
	if cached, err := s.rdb.Get(ctx, cachePrefix+sessionID).Result(); err == nil {
		var cs ChatSession
		if err := json.Unmarshal([]byte(cached), &cs); err == nil {
			return &cs, nil
		}
	}

	const query = `
		SELECT id, user1_id, user2_id, status, created_at, ended_at
		FROM chat_sessions WHERE id = $1`

	var (
		cs      ChatSession
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&cs.ID, &cs.User1ID, &cs.User2ID, &cs.Status, &cs.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if endedAt.Valid {
		cs.EndedAt = &endedAt.Time
	}

	s.cache(ctx, &cs)
	return &cs, nil
}

// Status returns "active", "ended", or "not_found" for the given session.
func (s *Store) Status(ctx context.Context, sessionID string) (string, error) {
	cs, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if cs == nil {
		return StatusNotFound, nil
	}
	return cs.Status, nil
}

// End transitions a session from active to ended. The conditional UPDATE
// makes the transition exactly-once: acted is false when the session was
// already ended. ErrNotFound is returned when no such session exists.
func (s *Store) End(ctx context.Context, sessionID string) (bool, error) {
	const query = `
		UPDATE chat_sessions SET status = $2, ended_at = NOW()
		WHERE id = $1 AND status = $3`

	res, err := s.db.ExecContext(ctx, query, sessionID, StatusEnded, StatusActive)
	if err != nil {
		return false, fmt.Errorf("session: end %s: %w", sessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session: end %s: %w", sessionID, err)
	}

	// Stale cache entries would report active after the transition.
	if err := s.rdb.Del(ctx, cachePrefix+sessionID).Err(); err != nil {
		log.Printf("[session] cache invalidate %s: %v", sessionID, err)
	}

	if rows == 0 {
		cs, err := s.Get(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if cs == nil {
			return false, ErrNotFound
		}
		return false, nil // already ended
	}

	metrics.ActiveSessions.Dec()
	return true, nil
}

// ActiveForUser returns the user's active session, or nil if they have
// none. This backs the polling fallback clients use when a match_found
// notification was lost, and reconnects after a refresh.
func (s *Store) ActiveForUser(ctx context.Context, userID string) (*ChatSession, error) {
	const query = `
		SELECT id, user1_id, user2_id, status, created_at, ended_at
		FROM chat_sessions
		WHERE (user1_id = $1 OR user2_id = $1) AND status = $2
		LIMIT 1`

	var (
		cs      ChatSession
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID, StatusActive).Scan(
		&cs.ID, &cs.User1ID, &cs.User2ID, &cs.Status, &cs.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: active for %s: %w", userID, err)
	}
	if endedAt.Valid {
		cs.EndedAt = &endedAt.Time
	}
	return &cs, nil
}

// cache writes a session to Redis best-effort; a cache miss later just
// falls through to PostgreSQL.
func (s *Store) cache(ctx context.Context, cs *ChatSession) {
	data, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := s.rdb.SetEx(ctx, cachePrefix+cs.ID, data, cacheTTL).Err(); err != nil {
		log.Printf("[session] cache %s: %v", cs.ID, err)
	}
}
