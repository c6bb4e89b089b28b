// Package api exposes the matchmaking and session HTTP endpoints consumed
// by the web client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chancechat/chance/internal/event"
	"github.com/chancechat/chance/internal/matching"
	"github.com/chancechat/chance/internal/ratelimit"
	"github.com/chancechat/chance/internal/session"
)

// MatchService is the matchmaker surface the handlers call.
type MatchService interface {
	Join(ctx context.Context, userID string, pref matching.Preference) (matching.JoinResult, error)
	Leave(ctx context.Context, userID string) error
	QueueStats(ctx context.Context) (int, []string, error)
}

// SessionService is the session registry surface the handlers call.
type SessionService interface {
	Get(ctx context.Context, sessionID string) (*session.ChatSession, error)
	Status(ctx context.Context, sessionID string) (string, error)
	End(ctx context.Context, sessionID string) (bool, error)
	ActiveForUser(ctx context.Context, userID string) (*session.ChatSession, error)
}

// Publisher delivers events to the broadcast relay.
type Publisher interface {
	PublishEvent(ev interface{}) error
}

// StarterService produces icebreaker questions.
type StarterService interface {
	Generate(ctx context.Context) []string
}

// Limiter throttles requests per identity.
type Limiter interface {
	Allow(ctx context.Context, rule ratelimit.Rule, id string) bool
}

// Handler carries the injected services for all API routes.
type Handler struct {
	matcher  MatchService
	sessions SessionService
	relay    Publisher
	starters StarterService
	limiter  Limiter
}

// NewHandler wires a Handler from its collaborators.
func NewHandler(matcher MatchService, sessions SessionService, relay Publisher, starters StarterService, limiter Limiter) *Handler {
	return &Handler{
		matcher:  matcher,
		sessions: sessions,
		relay:    relay,
		starters: starters,
		limiter:  limiter,
	}
}

type joinRequest struct {
	UserID     string `json:"userId"`
	Preference string `json:"preference"`
}

type leaveRequest struct {
	UserID string `json:"userId"`
}

type endRequest struct {
	UserID string `json:"userId"`
}

// Join handles POST /api/matching/join.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.Context(), ratelimit.RuleJoin, req.UserID) {
		writeError(w, http.StatusTooManyRequests, "too many join requests")
		return
	}

	result, err := h.matcher.Join(r.Context(), req.UserID, matching.NormalizePreference(req.Preference))
	if err != nil {
		log.Printf("[api] join %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to join matching queue")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Leave handles POST /api/matching/leave.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	if err := h.matcher.Leave(r.Context(), req.UserID); err != nil {
		log.Printf("[api] leave %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to leave matching queue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// QueueStats handles GET /api/matching/queue.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	count, users, err := h.matcher.QueueStats(r.Context())
	if err != nil {
		log.Printf("[api] queue stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": count,
		"users": users,
	})
}

// MatchStatus handles GET /api/matching/status?userId=. It is the polling
// fallback for a lost match_found notification: a queued user periodically
// asks whether an active session already names them.
func (h *Handler) MatchStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	cs, err := h.sessions.ActiveForUser(r.Context(), userID)
	if err != nil {
		log.Printf("[api] match status %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to check match status")
		return
	}
	if cs == nil {
		writeJSON(w, http.StatusOK, matching.JoinResult{Matched: false})
		return
	}

	writeJSON(w, http.StatusOK, matching.JoinResult{
		Matched:   true,
		SessionID: cs.ID,
		PartnerID: cs.Partner(userID),
	})
}

// SessionStatus handles GET /api/chat/{sessionID}/status.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := h.sessions.Status(r.Context(), sessionID)
	if err != nil {
		log.Printf("[api] session status %s: %v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "failed to check session status")
		return
	}

	code := http.StatusOK
	if status == session.StatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"sessionId": sessionID,
	})
}

// EndSession handles POST /api/chat/{sessionID}/end. The state transition
// commits before the notification goes out; a failed publish leaves the
// session correctly ended and the partner discovers it via polling.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	acted, err := h.sessions.End(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Printf("[api] end session %s: %v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	// Publish only on the transition. An already-ended session was announced
	// by whoever ended it first.
	if acted {
		if err := h.relay.PublishEvent(event.NewSessionEnded(sessionID, req.UserID)); err != nil {
			log.Printf("[api] publish session_ended %s: %v", sessionID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Icebreakers handles GET /api/icebreakers.
func (h *Handler) Icebreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"icebreakers": h.starters.Generate(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
