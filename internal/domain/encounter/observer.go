package encounter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Observer is a read-only, isolated consumer of events. Observers never
// mutate domain state; a failure in one must not affect the others or
// the triggering transition.
type Observer interface {
	Name() string
	Update(ctx context.Context, ev Event) error
}

// ---------------------------------------------------------------------------
// Observer manager
// ---------------------------------------------------------------------------

// ObserverStat is a snapshot of one registered observer.
type ObserverStat struct {
	Name         string `json:"name"`
	Observations int64  `json:"observations"`
}

// ObserverManager holds the name→observer registrations and fans events
// out to them. Registration is idempotent by name; each observer's
// counter is incremented only when its Update succeeds.
type ObserverManager struct {
	mu        sync.RWMutex
	observers map[string]Observer
	order     []string
	counts    map[string]int64
	log       zerolog.Logger
}

func NewObserverManager(log zerolog.Logger) *ObserverManager {
	return &ObserverManager{
		observers: make(map[string]Observer),
		counts:    make(map[string]int64),
		log:       log.With().Str("component", "observer_manager").Logger(),
	}
}

// RegisterObserver registers obs under name. Re-registering an existing
// name is a no-op.
func (m *ObserverManager) RegisterObserver(name string, obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.observers[name]; exists {
		return
	}
	m.observers[name] = obs
	m.order = append(m.order, name)
}

func (m *ObserverManager) UnregisterObserver(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.observers[name]; !exists {
		return
	}
	delete(m.observers, name)
	delete(m.counts, name)
	kept := m.order[:0]
	for _, n := range m.order {
		if n != name {
			kept = append(kept, n)
		}
	}
	m.order = kept
}

// NotifyObservers delivers ev to every registered observer in
// registration order, isolating failures per observer.
func (m *ObserverManager) NotifyObservers(ctx context.Context, ev Event) {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	observers := make([]Observer, 0, len(names))
	for _, n := range names {
		observers = append(observers, m.observers[n])
	}
	m.mu.RUnlock()

	for i, obs := range observers {
		if m.deliver(ctx, obs, ev) {
			m.mu.Lock()
			m.counts[names[i]]++
			m.mu.Unlock()
		}
	}
}

func (m *ObserverManager) deliver(ctx context.Context, obs Observer, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.log.Error().
				Str("observer", obs.Name()).
				Str("event_type", string(ev.Type)).
				Interface("panic", r).
				Msg("observer panicked")
		}
	}()
	if err := obs.Update(ctx, ev); err != nil {
		m.log.Error().
			Err(err).
			Str("observer", obs.Name()).
			Str("event_type", string(ev.Type)).
			Msg("observer failed")
		return false
	}
	return true
}

func (m *ObserverManager) Observer(name string) (Observer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs, ok := m.observers[name]
	return obs, ok
}

// Stats returns per-observer observation counts in registration order.
func (m *ObserverManager) Stats() []ObserverStat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]ObserverStat, 0, len(m.order))
	for _, n := range m.order {
		stats = append(stats, ObserverStat{Name: n, Observations: m.counts[n]})
	}
	return stats
}

// ---------------------------------------------------------------------------
// Logging observer
// ---------------------------------------------------------------------------

type LoggingObserver struct {
	log zerolog.Logger
}

func NewLoggingObserver(log zerolog.Logger) *LoggingObserver {
	return &LoggingObserver{log: log}
}

func (o *LoggingObserver) Name() string { return "logging" }

func (o *LoggingObserver) Update(_ context.Context, ev Event) error {
	o.log.Info().
		Str("event_type", string(ev.Type)).
		Str("encounter_id", ev.EncounterID.String()).
		Str("actor", ev.Actor.String()).
		Time("timestamp", ev.Timestamp).
		Msg(ev.Description())
	return nil
}

// ---------------------------------------------------------------------------
// Metrics observer
// ---------------------------------------------------------------------------

// MetricsSnapshot is a point-in-time copy of the metrics observer's
// tallies.
type MetricsSnapshot struct {
	TotalEvents       int64             `json:"total_events"`
	EventsByType      map[string]int64  `json:"events_by_type"`
	EventsByUser      map[string]int64  `json:"events_by_user"`
	EventsByEncounter map[string]int64  `json:"events_by_encounter"`
	LastEventTime     *time.Time        `json:"last_event_time,omitempty"`
}

// MetricsObserver tallies events by type, user and encounter, and
// exports the per-type counts as a Prometheus counter.
type MetricsObserver struct {
	mu        sync.Mutex
	total     int64
	byType    map[string]int64
	byUser    map[string]int64
	byEnc     map[string]int64
	lastEvent *time.Time

	events *prometheus.CounterVec
}

// NewMetricsObserver creates the observer and registers its collectors
// with reg. A nil registerer skips Prometheus export (tests).
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	o := &MetricsObserver{
		byType: make(map[string]int64),
		byUser: make(map[string]int64),
		byEnc:  make(map[string]int64),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emr_encounter_events_total",
			Help: "Encounter lifecycle events observed, by event type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(o.events)
	}
	return o
}

func (o *MetricsObserver) Name() string { return "metrics" }

func (o *MetricsObserver) Update(_ context.Context, ev Event) error {
	user := "anonymous"
	if !ev.Actor.IsAnonymous() {
		user = ev.Actor.ID.String()
	}

	o.mu.Lock()
	o.total++
	o.byType[string(ev.Type)]++
	o.byUser[user]++
	o.byEnc[ev.EncounterID.String()]++
	ts := ev.Timestamp
	o.lastEvent = &ts
	o.mu.Unlock()

	o.events.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (o *MetricsObserver) Snapshot() MetricsSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return MetricsSnapshot{
		TotalEvents:       o.total,
		EventsByType:      copyCounts(o.byType),
		EventsByUser:      copyCounts(o.byUser),
		EventsByEncounter: copyCounts(o.byEnc),
		LastEventTime:     copyTimePtr(o.lastEvent),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ---------------------------------------------------------------------------
// Notification observer
// ---------------------------------------------------------------------------

// SentNotification records one notification derived from an event.
type SentNotification struct {
	Timestamp    time.Time            `json:"timestamp"`
	EventType    EventType            `json:"event_type"`
	Notification OutboundNotification `json:"notification"`
}

// NotificationObserver derives outbound notifications from events and
// hands them to the sender. Delivery failures are recorded but never
// surfaced: notifications are best-effort.
type NotificationObserver struct {
	sender   NotificationSender
	patients PatientDirectory
	log      zerolog.Logger

	mu      sync.Mutex
	history []SentNotification
}

func NewNotificationObserver(sender NotificationSender, patients PatientDirectory, log zerolog.Logger) *NotificationObserver {
	return &NotificationObserver{sender: sender, patients: patients, log: log}
}

func (o *NotificationObserver) Name() string { return "notifications" }

func (o *NotificationObserver) Update(ctx context.Context, ev Event) error {
	for _, n := range o.derive(ctx, ev) {
		if err := o.sender.Send(ctx, n); err != nil {
			o.log.Warn().
				Err(err).
				Str("recipient", n.Recipient).
				Str("event_type", string(ev.Type)).
				Msg("notification delivery failed")
			continue
		}
		o.mu.Lock()
		o.history = append(o.history, SentNotification{
			Timestamp:    ev.Timestamp,
			EventType:    ev.Type,
			Notification: n,
		})
		o.mu.Unlock()
	}
	return nil
}

func (o *NotificationObserver) derive(ctx context.Context, ev Event) []OutboundNotification {
	var subject, body string
	switch ev.Type {
	case EventClosed:
		subject = "Your encounter has been closed"
		body = fmt.Sprintf("Your encounter started on %s has been closed.", ev.DateStart.Format("02.01.2006"))
	case EventReopened:
		subject = "Your encounter has been reopened"
		body = fmt.Sprintf("Your encounter started on %s has been reopened.", ev.DateStart.Format("02.01.2006"))
	default:
		return nil
	}

	email, err := o.patients.EmailFor(ctx, ev.PatientID)
	if err != nil {
		o.log.Warn().
			Err(err).
			Str("patient_id", ev.PatientID.String()).
			Msg("patient email lookup failed")
		return nil
	}
	if email == "" {
		return nil
	}
	return []OutboundNotification{{
		Type:      "email",
		Recipient: email,
		Subject:   subject,
		Body:      body,
	}}
}

// History returns a copy of the delivered notifications.
func (o *NotificationObserver) History() []SentNotification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SentNotification, len(o.history))
	copy(out, o.history)
	return out
}

// ---------------------------------------------------------------------------
// Audit observer
// ---------------------------------------------------------------------------

// AuditEntry is one structured line of the append-only audit trail.
type AuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   EventType `json:"event_type"`
	EncounterID string    `json:"encounter_id"`
	Actor       string    `json:"actor"`
	Description string    `json:"description"`
}

// AuditObserver appends a line per event to the audit writer. Write
// errors are logged and swallowed: auditing must never break the
// transition it records.
type AuditObserver struct {
	mu      sync.Mutex
	w       io.Writer
	entries []AuditEntry
	log     zerolog.Logger
}

func NewAuditObserver(w io.Writer, log zerolog.Logger) *AuditObserver {
	return &AuditObserver{w: w, log: log}
}

func (o *AuditObserver) Name() string { return "audit" }

func (o *AuditObserver) Update(_ context.Context, ev Event) error {
	entry := AuditEntry{
		Timestamp:   ev.Timestamp,
		EventType:   ev.Type,
		EncounterID: ev.EncounterID.String(),
		Actor:       ev.Actor.String(),
		Description: ev.Description(),
	}

	o.mu.Lock()
	o.entries = append(o.entries, entry)
	o.mu.Unlock()

	if o.w == nil {
		return nil
	}
	line := fmt.Sprintf("%s | %s | encounter %s | %s | %s\n",
		entry.Timestamp.Format(time.RFC3339), entry.EventType, entry.EncounterID, entry.Actor, entry.Description)
	if _, err := io.WriteString(o.w, line); err != nil {
		o.log.Error().Err(err).Msg("audit log write failed")
	}
	return nil
}

// Entries returns a copy of the recorded audit entries.
func (o *AuditObserver) Entries() []AuditEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AuditEntry, len(o.entries))
	copy(out, o.entries)
	return out
}

// ---------------------------------------------------------------------------
// Performance observer
// ---------------------------------------------------------------------------

// SlowEvent records an event whose observation latency exceeded the
// configured threshold.
type SlowEvent struct {
	EventType EventType     `json:"event_type"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// PerformanceObserver measures how long an event takes to reach
// observation (observation time minus event timestamp), keeping a
// rolling average and a list of slow events.
type PerformanceObserver struct {
	clock     Clock
	threshold time.Duration

	mu      sync.Mutex
	count   int64
	total   time.Duration
	slowest []SlowEvent
}

func NewPerformanceObserver(clock Clock, slowThreshold time.Duration) *PerformanceObserver {
	if slowThreshold <= 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &PerformanceObserver{clock: clock, threshold: slowThreshold}
}

func (o *PerformanceObserver) Name() string { return "performance" }

func (o *PerformanceObserver) Update(_ context.Context, ev Event) error {
	latency := o.clock.Now().Sub(ev.Timestamp)
	if latency < 0 {
		latency = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.count++
	o.total += latency
	if latency > o.threshold {
		o.slowest = append(o.slowest, SlowEvent{
			EventType: ev.Type,
			Latency:   latency,
			Timestamp: ev.Timestamp,
		})
	}
	return nil
}

// Average returns the rolling average observation latency.
func (o *PerformanceObserver) Average() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count == 0 {
		return 0
	}
	return o.total / time.Duration(o.count)
}

// SlowEvents returns a copy of the events observed above the threshold.
func (o *PerformanceObserver) SlowEvents() []SlowEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SlowEvent, len(o.slowest))
	copy(out, o.slowest)
	return out
}
