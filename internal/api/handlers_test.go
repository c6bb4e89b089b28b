package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chancechat/chance/internal/event"
	"github.com/chancechat/chance/internal/matching"
	"github.com/chancechat/chance/internal/ratelimit"
	"github.com/chancechat/chance/internal/session"
)

type stubMatcher struct {
	joinResult matching.JoinResult
	joinErr    error
	joinedAs   string
	joinedPref matching.Preference
	leftAs     string
	count      int
	users      []string
}

func (s *stubMatcher) Join(ctx context.Context, userID string, pref matching.Preference) (matching.JoinResult, error) {
	s.joinedAs = userID
	s.joinedPref = pref
	return s.joinResult, s.joinErr
}

func (s *stubMatcher) Leave(ctx context.Context, userID string) error {
	s.leftAs = userID
	return nil
}

func (s *stubMatcher) QueueStats(ctx context.Context) (int, []string, error) {
	return s.count, s.users, nil
}

type stubSessions struct {
	active   *session.ChatSession
	status   string
	endActed bool
	endErr   error
	endedID  string
	statusID string
}

func (s *stubSessions) Get(ctx context.Context, sessionID string) (*session.ChatSession, error) {
	return s.active, nil
}

func (s *stubSessions) Status(ctx context.Context, sessionID string) (string, error) {
	s.statusID = sessionID
	return s.status, nil
}

func (s *stubSessions) End(ctx context.Context, sessionID string) (bool, error) {
	s.endedID = sessionID
	return s.endActed, s.endErr
}

func (s *stubSessions) ActiveForUser(ctx context.Context, userID string) (*session.ChatSession, error) {
	return s.active, nil
}

type stubPublisher struct {
	events []interface{}
}

func (p *stubPublisher) PublishEvent(ev interface{}) error {
	p.events = append(p.events, ev)
	return nil
}

type stubStarters struct{}

func (stubStarters) Generate(ctx context.Context) []string {
	return []string{"What made you smile today?"}
}

type stubLimiter struct {
	allow bool
}

func (l stubLimiter) Allow(ctx context.Context, rule ratelimit.Rule, id string) bool {
	return l.allow
}

type fixture struct {
	matcher  *stubMatcher
	sessions *stubSessions
	relay    *stubPublisher
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		matcher:  &stubMatcher{},
		sessions: &stubSessions{status: session.StatusActive},
		relay:    &stubPublisher{},
	}
	h := NewHandler(f.matcher, f.sessions, f.relay, stubStarters{}, stubLimiter{allow: true})
	f.server = httptest.NewServer(NewRouter(h))
	t.Cleanup(f.server.Close)
	return f
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestJoinEndpoint(t *testing.T) {
	f := newFixture(t)
	f.matcher.joinResult = matching.JoinResult{Matched: true, SessionID: "s-1", PartnerID: "bob"}

	resp := postJSON(t, f.server.URL+"/api/matching/join", `{"userId":"alice","preference":"female"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result matching.JoinResult
	decode(t, resp, &result)
	if !result.Matched || result.SessionID != "s-1" || result.PartnerID != "bob" {
		t.Errorf("unexpected result: %+v", result)
	}
	if f.matcher.joinedAs != "alice" || f.matcher.joinedPref != matching.PrefFemale {
		t.Errorf("matcher called with (%q, %q)", f.matcher.joinedAs, f.matcher.joinedPref)
	}
}

func TestJoinEndpoint_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing userId", `{"preference":"any"}`},
		{"empty userId", `{"userId":""}`},
		{"malformed json", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, f.server.URL+"/api/matching/join", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestJoinEndpoint_RateLimited(t *testing.T) {
	f := &fixture{
		matcher:  &stubMatcher{},
		sessions: &stubSessions{},
		relay:    &stubPublisher{},
	}
	h := NewHandler(f.matcher, f.sessions, f.relay, stubStarters{}, stubLimiter{allow: false})
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/matching/join", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if f.matcher.joinedAs != "" {
		t.Error("rate-limited request must not reach the matcher")
	}
}

func TestJoinEndpoint_MatcherError(t *testing.T) {
	f := newFixture(t)
	f.matcher.joinErr = errors.New("redis: connection refused")

	resp := postJSON(t, f.server.URL+"/api/matching/join", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	// Internal detail must not leak into the response body.
	var body map[string]string
	decode(t, resp, &body)
	if strings.Contains(body["error"], "redis") {
		t.Errorf("error response leaks internals: %q", body["error"])
	}
}

func TestLeaveEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.server.URL+"/api/matching/leave", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.matcher.leftAs != "alice" {
		t.Errorf("leave called with %q", f.matcher.leftAs)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.matcher.count = 2
	f.matcher.users = []string{"w1", "w2"}

	resp, err := http.Get(f.server.URL + "/api/matching/queue")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Count int      `json:"count"`
		Users []string `json:"users"`
	}
	decode(t, resp, &body)
	if body.Count != 2 || len(body.Users) != 2 {
		t.Errorf("unexpected stats: %+v", body)
	}
}

func TestMatchStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	// No active session: unmatched.
	resp, err := http.Get(f.server.URL + "/api/matching/status?userId=alice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var result matching.JoinResult
	decode(t, resp, &result)
	resp.Body.Close()
	if result.Matched {
		t.Error("no session should mean unmatched")
	}

	// Active session names alice: matched with the other participant.
	f.sessions.active = &session.ChatSession{
		ID:      "s-7",
		User1ID: "bob",
		User2ID: "alice",
		Status:  session.StatusActive,
	}
	resp, err = http.Get(f.server.URL + "/api/matching/status?userId=alice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	decode(t, resp, &result)
	resp.Body.Close()
	if !result.Matched || result.SessionID != "s-7" || result.PartnerID != "bob" {
		t.Errorf("unexpected result: %+v", result)
	}

	// Missing userId is a client error.
	resp, err = http.Get(f.server.URL + "/api/matching/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.sessions.status = session.StatusEnded

	resp, err := http.Get(f.server.URL + "/api/chat/s-1/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != session.StatusEnded || body["sessionId"] != "s-1" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestSessionStatusEndpoint_NotFound(t *testing.T) {
	f := newFixture(t)
	f.sessions.status = session.StatusNotFound

	resp, err := http.Get(f.server.URL + "/api/chat/missing/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEndSessionEndpoint_PublishesOnTransition(t *testing.T) {
	f := newFixture(t)
	f.sessions.endActed = true

	resp := postJSON(t, f.server.URL+"/api/chat/s-1/end", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.sessions.endedID != "s-1" {
		t.Errorf("ended %q", f.sessions.endedID)
	}

	if len(f.relay.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(f.relay.events))
	}
	ev, ok := f.relay.events[0].(event.SessionEnded)
	if !ok {
		t.Fatalf("expected SessionEnded, got %T", f.relay.events[0])
	}
	if ev.SessionID != "s-1" || ev.EndedBy != "alice" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestEndSessionEndpoint_AlreadyEndedPublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.sessions.endActed = false

	resp := postJSON(t, f.server.URL+"/api/chat/s-1/end", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(f.relay.events) != 0 {
		t.Errorf("already-ended session must not be re-announced, got %d events", len(f.relay.events))
	}
}

func TestEndSessionEndpoint_NotFound(t *testing.T) {
	f := newFixture(t)
	f.sessions.endErr = session.ErrNotFound

	resp := postJSON(t, f.server.URL+"/api/chat/missing/end", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIcebreakersEndpoint(t *testing.T) {
	f := newFixture(t)

	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(f.server.URL + "/api/icebreakers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string][]string
	decode(t, resp, &body)
	if len(body["icebreakers"]) != 1 {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
