// Package matching implements the random-pairing matchmaker: a shared wait
// queue with bidirectional gender-preference evaluation, atomic partner
// claiming, and live session handoff through the broadcast relay.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/chancechat/chance/internal/event"
	"github.com/chancechat/chance/internal/metrics"
)

// DefaultWindow is the candidate window: queue entries older than this are
// stale and never matched against. The cleanup sweep uses the same cutoff to
// purge them.
const DefaultWindow = 30 * time.Second

// ErrEmptyUserID is returned by Join and Leave when no user ID is supplied.
var ErrEmptyUserID = errors.New("matching: empty user id")

// Directory is the external user directory the matcher consults. Gender
// returns GenderUnknown for users who never set one (including users with no
// directory record at all).
type Directory interface {
	Gender(ctx context.Context, userID string) (Gender, error)
	SetSearching(ctx context.Context, userID string, searching bool) error
}

// SessionCreator records a matched pair. Implemented by the session registry.
type SessionCreator interface {
	Create(ctx context.Context, sessionID, user1ID, user2ID string) error
}

// Publisher delivers events to the broadcast relay. Publish failures must
// not be surfaced to matchmaking callers; implementations log and move on.
type Publisher interface {
	PublishEvent(ev interface{}) error
}

// JoinResult is the synchronous outcome of a join call. When Matched is
// false the caller has been enqueued and will learn about an eventual match
// through a match_found event addressed to their user ID.
type JoinResult struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"sessionId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
}

// Matcher pairs arriving users with compatible waiting strangers.
type Matcher struct {
	queue    *Queue
	dir      Directory
	sessions SessionCreator
	relay    Publisher
	window   time.Duration
	now      func() time.Time
}

// NewMatcher wires a Matcher from its collaborators. A window of zero falls
// back to DefaultWindow.
func NewMatcher(queue *Queue, dir Directory, sessions SessionCreator, relay Publisher, window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{
		queue:    queue,
		dir:      dir,
		sessions: sessions,
		relay:    relay,
		window:   window,
		now:      time.Now,
	}
}

// Join attempts to match userID against the waiting queue. If a compatible
// partner is found the partner's queue entry is claimed atomically, a new
// active session is created, and the partner is notified with a match_found
// event; the joiner gets the result synchronously. Otherwise the joiner is
// enqueued with their preference.
//
// Joining while already queued is a benign no-op that returns an unmatched
// result. Directory or queue failures abort the call before any state is
// written, so a failed join never leaves a dangling entry.
func (m *Matcher) Join(ctx context.Context, userID string, pref Preference) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, ErrEmptyUserID
	}
	if pref != PrefMale && pref != PrefFemale {
		pref = PrefAny
	}

	// Duplicate join: the existing entry stands.
	if _, queued, err := m.queue.ScoreOf(ctx, userID); err != nil {
		return JoinResult{}, err
	} else if queued {
		return JoinResult{Matched: false}, nil
	}

	// One directory read per join; gender does not change mid-call.
	gender, err := m.dir.Gender(ctx, userID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("matching: directory lookup %s: %w", userID, err)
	}

	now := m.now()
	candidates, err := m.queue.RangeByTime(ctx, now.Add(-m.window), now)
	if err != nil {
		return JoinResult{}, err
	}

	for _, cand := range candidates {
		if cand.UserID == userID {
			continue
		}

		partner, ok, err := m.evaluate(ctx, userID, gender, pref, cand)
		if err != nil {
			return JoinResult{}, err
		}
		if !ok {
			continue
		}

		return m.completeMatch(ctx, userID, partner, now)
	}

	// No compatible partner: enqueue and wait for someone else's join. The
	// preference and the entry commit together, so a concurrent join can
	// never read a queued user as having no stored preference and match
	// them against gender-default targets.
	if _, err := m.queue.Enqueue(ctx, userID, pref, now); err != nil {
		return JoinResult{}, err
	}
	if err := m.dir.SetSearching(ctx, userID, true); err != nil {
		log.Printf("[matcher] set searching %s: %v", userID, err)
	}

	return JoinResult{Matched: false}, nil
}

// evaluate checks bidirectional compatibility with a candidate and, if
// compatible, claims the candidate's queue entry. ok is false when the
// candidate is incompatible or was claimed by a concurrent join first.
func (m *Matcher) evaluate(ctx context.Context, userID string, gender Gender, pref Preference, cand WaitEntry) (WaitEntry, bool, error) {
	candPref, err := m.queue.Preference(ctx, cand.UserID)
	if err != nil {
		return WaitEntry{}, false, err
	}
	candGender, err := m.dir.Gender(ctx, cand.UserID)
	if err != nil {
		return WaitEntry{}, false, fmt.Errorf("matching: directory lookup %s: %w", cand.UserID, err)
	}

	if !IsGenderMatch(gender, pref, candGender, candPref) {
		return WaitEntry{}, false, nil
	}

	// Exclusivity point: only one joiner may claim this partner.
	claimed, err := m.queue.RemoveIfPresent(ctx, cand.UserID)
	if err != nil {
		return WaitEntry{}, false, err
	}
	if !claimed {
		// Another join won the race; try the next candidate.
		return WaitEntry{}, false, nil
	}

	if err := m.queue.DeletePreference(ctx, cand.UserID); err != nil {
		log.Printf("[matcher] delete preference %s: %v", cand.UserID, err)
	}
	return cand, true, nil
}

// completeMatch creates the session for a claimed pair, clears both searching
// flags, and notifies the waiting partner. Queue removal already happened, so
// no observer can see a session referencing a still-queued user.
func (m *Matcher) completeMatch(ctx context.Context, userID string, partner WaitEntry, now time.Time) (JoinResult, error) {
	sessionID := uuid.New().String()

	if err := m.sessions.Create(ctx, sessionID, userID, partner.UserID); err != nil {
		return JoinResult{}, fmt.Errorf("matching: create session: %w", err)
	}

	if err := m.dir.SetSearching(ctx, userID, false); err != nil {
		log.Printf("[matcher] set searching %s: %v", userID, err)
	}
	if err := m.dir.SetSearching(ctx, partner.UserID, false); err != nil {
		log.Printf("[matcher] set searching %s: %v", partner.UserID, err)
	}

	// Best-effort: the session is already committed, and the partner can
	// recover a lost notification by polling the session registry.
	if err := m.relay.PublishEvent(event.NewMatchFound(partner.UserID, sessionID, userID)); err != nil {
		log.Printf("[matcher] publish match_found session=%s partner=%s: %v",
			sessionID, partner.UserID, err)
	}

	metrics.MatchesTotal.Inc()
	metrics.MatchWaitSeconds.Observe(now.Sub(partner.EnqueuedAt).Seconds())
	log.Printf("[matcher] matched %s with %s session=%s (waited %s)",
		userID, partner.UserID, sessionID, now.Sub(partner.EnqueuedAt).Round(time.Millisecond))

	return JoinResult{Matched: true, SessionID: sessionID, PartnerID: partner.UserID}, nil
}

// Leave removes userID from the queue and preference store and clears the
// searching flag. Leaving while not queued is a no-op; a user matched an
// instant before their own leave simply finds their entry already gone.
func (m *Matcher) Leave(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if _, err := m.queue.RemoveIfPresent(ctx, userID); err != nil {
		return err
	}
	if err := m.queue.DeletePreference(ctx, userID); err != nil {
		return err
	}
	if err := m.dir.SetSearching(ctx, userID, false); err != nil {
		log.Printf("[matcher] set searching %s: %v", userID, err)
	}
	return nil
}

// QueueStats reports the live queue count and members within the candidate
// window.
func (m *Matcher) QueueStats(ctx context.Context) (int, []string, error) {
	return m.queue.Stats(ctx, m.now(), m.window)
}

// CleanupExpired purges wait entries older than the candidate window, then
// reconciles the preference store against the queue so fields with no
// surviving entry (expired above, or stranded by a failed delete during a
// claim) are reclaimed. It runs on a fixed interval via the sweeper, never
// in the join/leave path.
func (m *Matcher) CleanupExpired(ctx context.Context) error {
	cutoff := m.now().Add(-m.window)

	removed, err := m.queue.RemoveExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("[matcher] sweep: removed %d expired entries", removed)
	}

	pruned, err := m.queue.PruneOrphanedPreferences(ctx)
	if err != nil {
		return err
	}
	if pruned > 0 {
		log.Printf("[matcher] sweep: pruned %d orphaned preferences", pruned)
	}

	if count, _, err := m.queue.Stats(ctx, m.now(), m.window); err == nil {
		metrics.MatchQueueSize.Set(float64(count))
	}
	return nil
}

// Window returns the active candidate window.
func (m *Matcher) Window() time.Duration {
	return m.window
}
