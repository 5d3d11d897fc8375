package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finchsec/tokenward/internal/lifecycle"
	"github.com/finchsec/tokenward/internal/notify"
	"github.com/finchsec/tokenward/internal/tokenstore"
)

// recordingNotifier captures emitted events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	severity notify.Severity
	env      lifecycle.Environment
	message  string
}

func (r *recordingNotifier) Notify(ctx context.Context, severity notify.Severity, env lifecycle.Environment, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{severity: severity, env: env, message: message})
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newManager(t *testing.T, store tokenstore.Store, brokerURL string, now func() time.Time) *lifecycle.Manager {
	t.Helper()
	tracker, err := lifecycle.NewTracker(store, lifecycle.DefaultNaming())
	if err != nil {
		t.Fatal(err)
	}
	m, err := lifecycle.NewManager(
		[]lifecycle.Credentials{{Environment: lifecycle.Sandbox, ConsumerKey: "CKEY", ConsumerSecret: "CSECRET"}},
		tracker,
		lifecycle.BrokerConfig{
			BaseURLs:     map[lifecycle.Environment]string{lifecycle.Sandbox: brokerURL},
			AuthorizeURL: "https://us.broker.example/authorize",
		},
		lifecycle.WithClock(now),
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func putRecord(t *testing.T, store tokenstore.Store, issuedAt, lastUsedAt time.Time) {
	t.Helper()
	tracker, err := lifecycle.NewTracker(store, lifecycle.DefaultNaming())
	if err != nil {
		t.Fatal(err)
	}
	rec := &lifecycle.AccessTokenRecord{
		OAuthToken:       "token-AAAAAAAA",
		OAuthTokenSecret: "secret-BBBBBBBB",
		IssuedAt:         issuedAt.UTC(),
		LastUsedAt:       lastUsedAt.UTC(),
	}
	if err := tracker.Put(context.Background(), lifecycle.Sandbox, rec); err != nil {
		t.Fatal(err)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestExpiredAlertDedupAcrossTicks(t *testing.T) {
	ctx := context.Background()
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)

	store := tokenstore.NewMemoryStore()
	putRecord(t, store, now.AddDate(0, 0, -1), now.AddDate(0, 0, -1)) // issued yesterday → EXPIRED

	manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(now))
	sink := &recordingNotifier{}
	s, err := New(manager, sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for range 50 {
		s.tick(ctx, lifecycle.Sandbox)
	}

	if got := sink.count(); got != 1 {
		t.Fatalf("50 ticks emitted %d alerts, want exactly 1", got)
	}
	if ev := sink.events[0]; ev.severity != notify.SeverityHigh || !strings.Contains(ev.message, "renewal required") {
		t.Errorf("alert = %+v, want high-severity renewal alert", ev)
	}

	// The marker is durable: a second replica sharing the store stays quiet.
	replica, err := New(newManager(t, store, "http://127.0.0.1:0", fixedClock(now)), sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}
	replica.tick(ctx, lifecycle.Sandbox)
	if got := sink.count(); got != 1 {
		t.Errorf("replica re-alerted: %d events", got)
	}

	// A new local date re-arms the alert.
	tomorrow := now.AddDate(0, 0, 1)
	s.now = fixedClock(tomorrow)
	s.tick(ctx, lifecycle.Sandbox)
	if got := sink.count(); got != 2 {
		t.Errorf("next-day tick emitted %d total alerts, want 2", got)
	}
}

func TestIdleWarnTriggersKeepAlive(t *testing.T) {
	ctx := context.Background()
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)

	var keepAliveCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		keepAliveCalls.Add(1)
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	store := tokenstore.NewMemoryStore()
	putRecord(t, store, now.Add(-5*time.Hour), now.Add(-3*time.Hour)) // idle 3h → IDLE_WARN

	manager := newManager(t, store, srv.URL, fixedClock(now))
	sink := &recordingNotifier{}
	s, err := New(manager, sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}

	s.tick(ctx, lifecycle.Sandbox)

	if keepAliveCalls.Load() != 1 {
		t.Errorf("keep-alive calls = %d, want 1", keepAliveCalls.Load())
	}
	if got := sink.count(); got != 1 || sink.events[0].severity != notify.SeverityLow {
		t.Errorf("events = %+v, want one low-severity idle event", sink.events)
	}

	// The keep-alive reset the idle clock: the next tick is a no-op.
	s.tick(ctx, lifecycle.Sandbox)
	if keepAliveCalls.Load() != 1 {
		t.Errorf("second tick issued another keep-alive (%d calls)", keepAliveCalls.Load())
	}
}

func TestActiveTickIsNoOp(t *testing.T) {
	ctx := context.Background()
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)

	store := tokenstore.NewMemoryStore()
	putRecord(t, store, now.Add(-time.Hour), now.Add(-time.Minute))

	manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(now))
	sink := &recordingNotifier{}
	s, err := New(manager, sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}

	s.tick(ctx, lifecycle.Sandbox)
	if got := sink.count(); got != 0 {
		t.Errorf("active tick emitted %d events, want 0", got)
	}
}

func TestDailyCheckDedupByCalendarDate(t *testing.T) {
	ctx := context.Background()
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, loc)

	store := tokenstore.NewMemoryStore()
	manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(now))
	sink := &recordingNotifier{}
	s, err := New(manager, sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}

	s.runDailyCheck(ctx)
	s.runDailyCheck(ctx)

	if got := sink.count(); got != 1 {
		t.Fatalf("daily check fired %d times, want 1", got)
	}
	if ev := sink.events[0]; ev.severity != notify.SeverityMedium || !strings.Contains(ev.message, "sandbox=") {
		t.Errorf("daily event = %+v, want consolidated medium-severity status", ev)
	}

	// Second process instance started the same day must not double-fire: the
	// dedup key is the calendar date in the shared store, not a counter.
	replica, err := New(newManager(t, store, "http://127.0.0.1:0", fixedClock(now)), sink, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}
	replica.runDailyCheck(ctx)
	if got := sink.count(); got != 1 {
		t.Errorf("replica daily check re-fired: %d events", got)
	}
}

func TestDailyCheckLoopFollowsInjectedClock(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	// A date far from the wall clock: the timer must be armed from the
	// injected clock, not from time.Now.
	now := time.Date(2033, 6, 1, 8, 29, 59, 0, loc)

	store := tokenstore.NewMemoryStore()
	manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(now))
	sink := &recordingNotifier{}
	s, err := New(manager, sink, Config{DailyCheckAt: "08:30"}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.dailyCheckLoop(ctx)

	deadline := time.After(3 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("daily check did not fire from the injected clock")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNextDailyCheck(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	store := tokenstore.NewMemoryStore()

	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "before todays check",
			now:      time.Date(2026, 3, 10, 6, 0, 0, 0, loc),
			expected: time.Date(2026, 3, 10, 8, 30, 0, 0, loc),
		},
		{
			name:     "after todays check rolls to tomorrow",
			now:      time.Date(2026, 3, 10, 9, 0, 0, 0, loc),
			expected: time.Date(2026, 3, 11, 8, 30, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(tt.now))
			s, err := New(manager, &recordingNotifier{}, Config{DailyCheckAt: "08:30"}, WithClock(fixedClock(tt.now)))
			if err != nil {
				t.Fatal(err)
			}
			if got := s.nextDailyCheck(); !got.Equal(tt.expected) {
				t.Errorf("nextDailyCheck = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)

	store := tokenstore.NewMemoryStore()
	putRecord(t, store, now.Add(-time.Hour), now.Add(-time.Minute))

	manager := newManager(t, store, "http://127.0.0.1:0", fixedClock(now))
	s, err := New(manager, &recordingNotifier{}, Config{}, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
