package encounter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingObserver struct {
	name string
	mu   sync.Mutex
	seen []Event
	err  error
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) Update(_ context.Context, ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, ev)
	return o.err
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

type panickingObserver struct{}

func (panickingObserver) Name() string { return "panicking" }

func (panickingObserver) Update(context.Context, Event) error { panic("boom") }

func TestObserverManagerRegistrationIsIdempotent(t *testing.T) {
	mgr := NewObserverManager(zerolog.Nop())
	first := &recordingObserver{name: "obs"}
	second := &recordingObserver{name: "obs"}

	mgr.RegisterObserver("obs", first)
	mgr.RegisterObserver("obs", second)
	mgr.NotifyObservers(context.Background(), testEvent(EventClosed))

	if first.count() != 1 {
		t.Errorf("first registration invoked %d times, want 1", first.count())
	}
	if second.count() != 0 {
		t.Error("re-registration replaced the original observer")
	}
}

func TestObserverManagerDeliversInRegistrationOrder(t *testing.T) {
	mgr := NewObserverManager(zerolog.Nop())

	var order []string
	var mu sync.Mutex
	for _, name := range []string{"first", "second", "third"} {
		name := name
		mgr.RegisterObserver(name, observerFunc(name, func(context.Context, Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}))
	}

	mgr.NotifyObservers(context.Background(), testEvent(EventClosed))

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

type observerFn struct {
	name string
	fn   func(context.Context, Event) error
}

func observerFunc(name string, fn func(context.Context, Event) error) Observer {
	return &observerFn{name: name, fn: fn}
}

func (o *observerFn) Name() string { return o.name }

func (o *observerFn) Update(ctx context.Context, ev Event) error { return o.fn(ctx, ev) }

func TestObserverManagerIsolatesFailures(t *testing.T) {
	mgr := NewObserverManager(zerolog.Nop())
	failing := &recordingObserver{name: "failing", err: errNotFound}
	after := &recordingObserver{name: "after"}
	mgr.RegisterObserver("failing", failing)
	mgr.RegisterObserver("panicking", panickingObserver{})
	mgr.RegisterObserver("after", after)

	mgr.NotifyObservers(context.Background(), testEvent(EventClosed))

	if after.count() != 1 {
		t.Error("observer after a failing and a panicking one was not notified")
	}
}

func TestObserverManagerStats(t *testing.T) {
	mgr := NewObserverManager(zerolog.Nop())
	ok := &recordingObserver{name: "ok"}
	failing := &recordingObserver{name: "failing", err: errNotFound}
	mgr.RegisterObserver("ok", ok)
	mgr.RegisterObserver("failing", failing)

	ctx := context.Background()
	mgr.NotifyObservers(ctx, testEvent(EventClosed))
	mgr.NotifyObservers(ctx, testEvent(EventReopened))

	stats := mgr.Stats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Name != "ok" || stats[0].Observations != 2 {
		t.Errorf("stats[0] = %+v, want ok/2", stats[0])
	}
	// Failed updates do not count as observations.
	if stats[1].Name != "failing" || stats[1].Observations != 0 {
		t.Errorf("stats[1] = %+v, want failing/0", stats[1])
	}
}

func TestObserverManagerUnregister(t *testing.T) {
	mgr := NewObserverManager(zerolog.Nop())
	obs := &recordingObserver{name: "obs"}
	mgr.RegisterObserver("obs", obs)
	mgr.UnregisterObserver("obs")

	mgr.NotifyObservers(context.Background(), testEvent(EventClosed))

	if obs.count() != 0 {
		t.Error("unregistered observer still notified")
	}
	if _, ok := mgr.Observer("obs"); ok {
		t.Error("unregistered observer still resolvable")
	}
	if len(mgr.Stats()) != 0 {
		t.Error("stats retained for unregistered observer")
	}
}

func TestMetricsObserver(t *testing.T) {
	obs := NewMetricsObserver(nil)
	ctx := context.Background()
	actor := Actor{ID: uuid.New()}

	closed := testEvent(EventClosed)
	closed.Actor = actor
	reopened := testEvent(EventReopened)

	for _, ev := range []Event{closed, closed, reopened} {
		if err := obs.Update(ctx, ev); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	snap := obs.Snapshot()
	if snap.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", snap.TotalEvents)
	}
	if snap.EventsByType[string(EventClosed)] != 2 {
		t.Errorf("closed count = %d, want 2", snap.EventsByType[string(EventClosed)])
	}
	if snap.EventsByUser[actor.ID.String()] != 2 {
		t.Errorf("actor count = %d, want 2", snap.EventsByUser[actor.ID.String()])
	}
	if snap.EventsByUser["anonymous"] != 1 {
		t.Errorf("anonymous count = %d, want 1", snap.EventsByUser["anonymous"])
	}
	if snap.LastEventTime == nil || !snap.LastEventTime.Equal(reopened.Timestamp) {
		t.Errorf("LastEventTime = %v, want %v", snap.LastEventTime, reopened.Timestamp)
	}
}

func TestNotificationObserver(t *testing.T) {
	sender := &recordingSender{}
	patientID := uuid.New()
	patients := &mockPatients{emails: map[uuid.UUID]string{patientID: "patient@example.com"}}
	obs := NewNotificationObserver(sender, patients, zerolog.Nop())

	ev := testEvent(EventClosed)
	ev.PatientID = patientID
	if err := obs.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	n := sender.sent[0]
	if n.Recipient != "patient@example.com" || n.Type != "email" {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Body, ev.DateStart.Format("02.01.2006")) {
		t.Errorf("body %q missing start date", n.Body)
	}
	if len(obs.History()) != 1 {
		t.Errorf("history = %d, want 1", len(obs.History()))
	}
}

func TestNotificationObserverSkipsUnreachablePatient(t *testing.T) {
	sender := &recordingSender{}
	obs := NewNotificationObserver(sender, &mockPatients{emails: map[uuid.UUID]string{}}, zerolog.Nop())

	if err := obs.Update(context.Background(), testEvent(EventClosed)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("notification sent to patient without email")
	}
}

func TestNotificationObserverIgnoresArchivalEvents(t *testing.T) {
	sender := &recordingSender{}
	patientID := uuid.New()
	patients := &mockPatients{emails: map[uuid.UUID]string{patientID: "patient@example.com"}}
	obs := NewNotificationObserver(sender, patients, zerolog.Nop())

	ev := testEvent(EventArchived)
	ev.PatientID = patientID
	if err := obs.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("notification sent for archival event")
	}
}

func TestNotificationObserverSwallowsDeliveryFailure(t *testing.T) {
	sender := &recordingSender{fail: errNotFound}
	patientID := uuid.New()
	patients := &mockPatients{emails: map[uuid.UUID]string{patientID: "patient@example.com"}}
	obs := NewNotificationObserver(sender, patients, zerolog.Nop())

	ev := testEvent(EventClosed)
	ev.PatientID = patientID
	if err := obs.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update returned %v, delivery failures must be swallowed", err)
	}
	if len(obs.History()) != 0 {
		t.Error("failed delivery recorded in history")
	}
}

func TestAuditObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewAuditObserver(&buf, zerolog.Nop())
	ctx := context.Background()

	closed := testEvent(EventClosed)
	closed.Outcome = OutcomeConsultationEnd
	closed.Actor = Actor{ID: uuid.New(), Name: "Dr. Grey"}
	if err := obs.Update(ctx, closed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := obs.Update(ctx, testEvent(EventArchived)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries := obs.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Actor != "Dr. Grey" {
		t.Errorf("Actor = %q, want Dr. Grey", entries[0].Actor)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], string(EventClosed)) || !strings.Contains(lines[0], "Dr. Grey") {
		t.Errorf("audit line %q missing event type or actor", lines[0])
	}
}

func TestAuditObserverNilWriter(t *testing.T) {
	obs := NewAuditObserver(nil, zerolog.Nop())

	if err := obs.Update(context.Background(), testEvent(EventClosed)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(obs.Entries()) != 1 {
		t.Error("entry not recorded without a writer")
	}
}

func TestPerformanceObserver(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	obs := NewPerformanceObserver(fixedClock{t: now}, 50*time.Millisecond)
	ctx := context.Background()

	fast := testEvent(EventClosed)
	fast.Timestamp = now.Add(-10 * time.Millisecond)
	slow := testEvent(EventReopened)
	slow.Timestamp = now.Add(-90 * time.Millisecond)

	for _, ev := range []Event{fast, slow} {
		if err := obs.Update(ctx, ev); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	if got := obs.Average(); got != 50*time.Millisecond {
		t.Errorf("Average = %v, want 50ms", got)
	}
	slowEvents := obs.SlowEvents()
	if len(slowEvents) != 1 {
		t.Fatalf("slow events = %d, want 1", len(slowEvents))
	}
	if slowEvents[0].EventType != EventReopened || slowEvents[0].Latency != 90*time.Millisecond {
		t.Errorf("slow event = %+v", slowEvents[0])
	}
}

func TestPerformanceObserverClampsNegativeLatency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	obs := NewPerformanceObserver(fixedClock{t: now}, 50*time.Millisecond)

	ev := testEvent(EventClosed)
	ev.Timestamp = now.Add(time.Second)
	if err := obs.Update(context.Background(), ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := obs.Average(); got != 0 {
		t.Errorf("Average = %v, want 0", got)
	}
}

func TestPerformanceObserverDefaultThreshold(t *testing.T) {
	obs := NewPerformanceObserver(SystemClock{}, 0)
	if obs.threshold != 100*time.Millisecond {
		t.Errorf("threshold = %v, want 100ms", obs.threshold)
	}
}
