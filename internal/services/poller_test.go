package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"julesboard/internal/models"
	"julesboard/internal/store"
	"julesboard/internal/upstream"
)

// fakeUpstream serves a single mutable session and its activity list the
// way the real API does.
type fakeUpstream struct {
	mu         sync.Mutex
	session    models.Session
	activities []models.Activity
	failWith   int // non-zero: respond with this status on session fetches
	requests   int
}

func (f *fakeUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++

		switch r.URL.Path {
		case "/sessions":
			json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []models.Session{f.session}})
		case "/" + f.session.Name:
			if f.failWith != 0 {
				w.WriteHeader(f.failWith)
				w.Write([]byte(`{"error":{"message":"injected failure"}}`))
				return
			}
			json.NewEncoder(w).Encode(f.session)
		case "/" + f.session.Name + "/activities":
			json.NewEncoder(w).Encode(map[string]interface{}{"activities": f.activities})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{}`))
		}
	})
}

func (f *fakeUpstream) setState(state string) {
	f.mu.Lock()
	f.session.State = state
	f.mu.Unlock()
}

func (f *fakeUpstream) addActivity(a models.Activity) {
	f.mu.Lock()
	f.activities = append(f.activities, a)
	f.mu.Unlock()
}

type pollerFixture struct {
	poller    *Poller
	store     *store.Store
	fake      *fakeUpstream
	conn      *models.Connection
	clock     *time.Time
	sessionID string
}

// setupPollerTest builds a poller over a temp replica, a fake upstream
// already seeded into the store, one authenticated connection, and an
// injected clock. The session starts tracked at the base interval.
func setupPollerTest(t *testing.T, cfg PollerConfig) *pollerFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fake := &fakeUpstream{
		session: models.Session{
			Name:   "sessions/s1",
			ID:     "s1",
			Prompt: "fix the build",
			State:  models.StateQueued,
		},
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	if _, err := storeSession(st, &fake.session); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	conns := NewConnectionManager()
	conn := models.NewConnection("test-conn", nil)
	conn.SetAuthenticated(true)
	conns.Add(conn)

	client := upstream.NewClient(server.URL, "test-key", 5*time.Second, 1000)
	p := NewPoller(st, client, conns, nil, cfg)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	p.Track("s1")

	return &pollerFixture{poller: p, store: st, fake: fake, conn: conn, clock: &now, sessionID: "s1"}
}

func (f *pollerFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

// drain empties the connection's write channel, returning messages by type.
func (f *pollerFixture) drain() map[string][]models.ServerMessage {
	byType := make(map[string][]models.ServerMessage)
	for {
		select {
		case msg := <-f.conn.WriteChan:
			byType[msg.Type] = append(byType[msg.Type], msg)
		default:
			return byType
		}
	}
}

func TestQuietPollsGrowInterval(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: 10 * time.Second})

	// 4s -> 6s -> 9s -> 10s (capped) -> 10s
	want := []time.Duration{6 * time.Second, 9 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, expected := range want {
		f.poller.runTick(context.Background())
		got, ok := f.poller.Interval(f.sessionID)
		if !ok {
			t.Fatalf("Session untracked after tick %d", i)
		}
		if got != expected {
			t.Errorf("Tick %d: expected interval %v, got %v", i, expected, got)
		}
		f.advance(expected)
	}

	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("Quiet polls should not broadcast, got %v", msgs)
	}
}

func TestUnchangedPollIsIdempotent(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	before, err := f.store.Get(sessionKey(f.sessionID))
	if err != nil {
		t.Fatalf("Failed to read seeded session: %v", err)
	}

	f.poller.runTick(context.Background())

	after, err := f.store.Get(sessionKey(f.sessionID))
	if err != nil {
		t.Fatalf("Failed to read session after tick: %v", err)
	}
	if string(before) != string(after) {
		t.Error("Unchanged poll must not rewrite the session record")
	}
	if _, err := f.store.Get(activitiesKey(f.sessionID)); !errors.Is(err, store.ErrNotFound) {
		t.Error("Empty upstream activity list must not create an activities record")
	}
	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("Unchanged poll must not broadcast, got %v", msgs)
	}
}

func TestChangeResetsIntervalAndBroadcasts(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	// Back off twice first: 4s -> 6s -> 9s
	f.poller.runTick(context.Background())
	f.advance(6 * time.Second)
	f.poller.runTick(context.Background())
	f.advance(9 * time.Second)
	f.drain()

	f.fake.setState(models.StateInProgress)
	f.poller.runTick(context.Background())

	interval, _ := f.poller.Interval(f.sessionID)
	if interval != 4*time.Second {
		t.Errorf("Change should reset interval to base, got %v", interval)
	}

	msgs := f.drain()
	updates := msgs[models.ServerSessionUpdate]
	if len(updates) != 1 {
		t.Fatalf("Expected exactly 1 sessionUpdate, got %d", len(updates))
	}
	if updates[0].Session.State != models.StateInProgress {
		t.Errorf("Broadcast carries stale state: %s", updates[0].Session.State)
	}

	stored, err := loadSession(f.store, f.sessionID)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if stored.State != models.StateInProgress {
		t.Errorf("Replica not updated, state is %s", stored.State)
	}

	// The very next quiet poll backs off from base again.
	f.advance(4 * time.Second)
	f.poller.runTick(context.Background())
	interval, _ = f.poller.Interval(f.sessionID)
	if interval != 6*time.Second {
		t.Errorf("Expected 6s after one quiet poll post-change, got %v", interval)
	}
}

func TestActivityChangeBroadcastsFullList(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	f.fake.addActivity(models.Activity{
		Name:          "sessions/s1/activities/a1",
		AgentMessaged: &models.AgentMessaged{AgentMessage: "starting"},
	})
	f.poller.runTick(context.Background())
	f.drain()

	f.advance(4 * time.Second)
	f.fake.addActivity(models.Activity{
		Name:          "sessions/s1/activities/a2",
		AgentMessaged: &models.AgentMessaged{AgentMessage: "done"},
	})
	f.poller.runTick(context.Background())

	msgs := f.drain()
	updates := msgs[models.ServerActivitiesUpdate]
	if len(updates) != 1 {
		t.Fatalf("Expected exactly 1 activitiesUpdate, got %d", len(updates))
	}
	if updates[0].SessionID != f.sessionID {
		t.Errorf("Unexpected session id: %s", updates[0].SessionID)
	}
	if len(updates[0].Activities) != 2 {
		t.Errorf("Broadcast should carry the full list, got %d entries", len(updates[0].Activities))
	}

	stored, err := loadActivities(f.store, f.sessionID)
	if err != nil {
		t.Fatalf("Failed to load activities: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("Replica should hold the full list, got %d entries", len(stored))
	}
}

func TestFetchFailureKeepsSchedule(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	nextBefore, _ := f.poller.NextPollAt(f.sessionID)
	f.fake.failWith = http.StatusInternalServerError

	f.poller.runTick(context.Background())

	interval, ok := f.poller.Interval(f.sessionID)
	if !ok {
		t.Fatal("Failed fetch must not untrack the session")
	}
	if interval != 4*time.Second {
		t.Errorf("Failed fetch must leave the interval untouched, got %v", interval)
	}
	nextAfter, _ := f.poller.NextPollAt(f.sessionID)
	if !nextAfter.Equal(nextBefore) {
		t.Error("Failed fetch must leave nextPollAt untouched")
	}
	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("Failed fetch must not broadcast, got %v", msgs)
	}

	// Recovery: the next tick polls again and succeeds.
	f.fake.failWith = 0
	f.poller.runTick(context.Background())
	if _, ok := f.poller.Interval(f.sessionID); !ok {
		t.Error("Session should still be tracked after recovery")
	}
}

func TestSessionGoneUpstreamBacksOff(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	f.fake.failWith = http.StatusNotFound
	f.poller.runTick(context.Background())

	// The replica record survives and the schedule backs off like an
	// unchanged session.
	if _, err := f.store.Get(sessionKey(f.sessionID)); err != nil {
		t.Errorf("Replica record should survive upstream deletion: %v", err)
	}
	interval, ok := f.poller.Interval(f.sessionID)
	if !ok {
		t.Fatal("Session should stay tracked")
	}
	if interval != 6*time.Second {
		t.Errorf("Expected backed-off interval 6s, got %v", interval)
	}
}

func TestStaleScheduleEntryDropped(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	f.poller.Track("ghost")
	f.poller.runTick(context.Background())

	if _, ok := f.poller.Interval("ghost"); ok {
		t.Error("Schedule entry without a replica record should be dropped")
	}
	if _, ok := f.poller.Interval(f.sessionID); !ok {
		t.Error("Real session should stay tracked")
	}
}

func TestMarkActiveResetsSchedule(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	// Back off: 4s -> 6s
	f.poller.runTick(context.Background())
	interval, _ := f.poller.Interval(f.sessionID)
	if interval != 6*time.Second {
		t.Fatalf("Expected 6s before MarkActive, got %v", interval)
	}

	f.poller.MarkActive(f.sessionID)

	interval, _ = f.poller.Interval(f.sessionID)
	if interval != 4*time.Second {
		t.Errorf("MarkActive should reset the interval to base, got %v", interval)
	}
	next, _ := f.poller.NextPollAt(f.sessionID)
	if next.After(f.poller.now()) {
		t.Error("MarkActive should make the session immediately due")
	}
}

func TestNotDuePollSkipped(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	f.fake.mu.Lock()
	f.fake.requests = 0
	f.fake.mu.Unlock()

	f.poller.runTick(context.Background()) // due at creation time
	f.advance(time.Second)
	f.poller.runTick(context.Background()) // 1s < 6s, not due

	f.fake.mu.Lock()
	requests := f.fake.requests
	f.fake.mu.Unlock()
	// First tick: session fetch + activities fetch. Second tick: nothing.
	if requests != 2 {
		t.Errorf("Expected 2 upstream requests, got %d", requests)
	}
}

func TestBroadcastSkipsUnauthenticated(t *testing.T) {
	f := setupPollerTest(t, PollerConfig{Tick: time.Second, BaseInterval: 4 * time.Second, MaxInterval: time.Minute})

	f.conn.SetAuthenticated(false)
	f.fake.setState(models.StateCompleted)
	f.poller.runTick(context.Background())

	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("Unauthenticated connection must not receive broadcasts, got %v", msgs)
	}
}
