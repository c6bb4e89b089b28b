package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key layout for matchmaking state.
	keyWaitQueue = "matching:queue" // Sorted set, score = enqueue time (ms)
	keyPrefs     = "matching:prefs" // Hash, userID -> preference
)

// WaitEntry is a queued user awaiting a match.
type WaitEntry struct {
	UserID     string
	EnqueuedAt time.Time
}

// Queue is the shared wait queue plus the preference store, both backed by
// Redis so every API process sees the same matchmaking state. All mutations
// are single Redis commands and therefore atomic across processes; no caller
// ever holds exclusive ownership of the queue.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a wait queue backed by the given Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// AddIfAbsent enqueues userID at the given time unless a live entry already
// exists. It returns true if the entry was created, false if the user was
// already queued (the existing score is left untouched in that case).
func (q *Queue) AddIfAbsent(ctx context.Context, userID string, at time.Time) (bool, error) {
	added, err := q.rdb.ZAddNX(ctx, keyWaitQueue, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: userID,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("matching: enqueue %s: %w", userID, err)
	}
	return added == 1, nil
}

// Enqueue writes the preference and the wait entry in a single MULTI/EXEC
// transaction, so no observer ever sees a queued user without a stored
// preference. It returns false when a live entry already existed; the old
// enqueue time wins in that case.
func (q *Queue) Enqueue(ctx context.Context, userID string, pref Preference, at time.Time) (bool, error) {
	var add *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyPrefs, userID, string(pref))
		add = pipe.ZAddNX(ctx, keyWaitQueue, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: userID,
		})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("matching: enqueue %s: %w", userID, err)
	}
	return add.Val() == 1, nil
}

// ScoreOf returns the enqueue time of userID, or ok=false if the user is not
// in the queue.
func (q *Queue) ScoreOf(ctx context.Context, userID string) (time.Time, bool, error) {
	score, err := q.rdb.ZScore(ctx, keyWaitQueue, userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("matching: score of %s: %w", userID, err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// RangeByTime returns the entries enqueued within [from, to], oldest first.
// FIFO fairness in the matcher depends on this ordering.
func (q *Queue) RangeByTime(ctx context.Context, from, to time.Time) ([]WaitEntry, error) {
	members, err := q.rdb.ZRangeByScoreWithScores(ctx, keyWaitQueue, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: range query: %w", err)
	}

	entries := make([]WaitEntry, 0, len(members))
	for _, m := range members {
		userID, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, WaitEntry{
			UserID:     userID,
			EnqueuedAt: time.UnixMilli(int64(m.Score)),
		})
	}
	return entries, nil
}

// RemoveIfPresent atomically removes userID from the queue and reports
// whether it acted. This is the exclusivity primitive: when two joiners race
// for the same waiting partner, ZREM succeeds for exactly one of them and
// the loser moves on to the next candidate.
func (q *Queue) RemoveIfPresent(ctx context.Context, userID string) (bool, error) {
	removed, err := q.rdb.ZRem(ctx, keyWaitQueue, userID).Result()
	if err != nil {
		return false, fmt.Errorf("matching: remove %s: %w", userID, err)
	}
	return removed == 1, nil
}

// RemoveExpired deletes every entry enqueued at or before the cutoff and
// returns how many were removed. The matcher never matches against such
// entries; this sweep just keeps the set from growing unbounded.
func (q *Queue) RemoveExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := q.rdb.ZRemRangeByScore(ctx, keyWaitQueue,
		"0", fmt.Sprintf("%d", cutoff.UnixMilli())).Result()
	if err != nil {
		return 0, fmt.Errorf("matching: remove expired: %w", err)
	}
	return removed, nil
}

// SetPreference stores a queued user's matching preference.
func (q *Queue) SetPreference(ctx context.Context, userID string, pref Preference) error {
	if err := q.rdb.HSet(ctx, keyPrefs, userID, string(pref)).Err(); err != nil {
		return fmt.Errorf("matching: set preference %s: %w", userID, err)
	}
	return nil
}

// Preference returns a queued user's stored preference. A missing entry
// comes back as the absent preference, which the gender logic resolves from
// the user's own gender.
func (q *Queue) Preference(ctx context.Context, userID string) (Preference, error) {
	raw, err := q.rdb.HGet(ctx, keyPrefs, userID).Result()
	if errors.Is(err, redis.Nil) {
		return prefAbsent, nil
	}
	if err != nil {
		return prefAbsent, fmt.Errorf("matching: get preference %s: %w", userID, err)
	}
	return Preference(raw), nil
}

// DeletePreference removes a user's preference entry. Missing entries are
// not an error; leave and match cleanup both call this unconditionally.
func (q *Queue) DeletePreference(ctx context.Context, userID string) error {
	if err := q.rdb.HDel(ctx, keyPrefs, userID).Err(); err != nil {
		return fmt.Errorf("matching: delete preference %s: %w", userID, err)
	}
	return nil
}

// pruneOrphanScript deletes a preference field only when its owner holds no
// queue entry. Running it as a script keeps the check-and-delete atomic
// against the Enqueue transaction.
var pruneOrphanScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
return redis.call('HDEL', KEYS[2], ARGV[1])
`)

// PruneOrphanedPreferences reclaims preference fields whose owner is no
// longer queued, such as those left behind when the delete after a claim
// failed. It returns the number of fields removed.
func (q *Queue) PruneOrphanedPreferences(ctx context.Context) (int64, error) {
	users, err := q.rdb.HKeys(ctx, keyPrefs).Result()
	if err != nil {
		return 0, fmt.Errorf("matching: list preferences: %w", err)
	}

	var pruned int64
	for _, userID := range users {
		n, err := pruneOrphanScript.Run(ctx, q.rdb, []string{keyWaitQueue, keyPrefs}, userID).Int64()
		if err != nil {
			return pruned, fmt.Errorf("matching: prune preference %s: %w", userID, err)
		}
		pruned += n
	}
	return pruned, nil
}

// Stats returns the count and user IDs of entries enqueued within
// [now-window, now], oldest first. Clients use this to render how many
// people are currently waiting.
func (q *Queue) Stats(ctx context.Context, now time.Time, window time.Duration) (int, []string, error) {
	entries, err := q.RangeByTime(ctx, now.Add(-window), now)
	if err != nil {
		return 0, nil, err
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.UserID)
	}
	return len(users), users, nil
}
