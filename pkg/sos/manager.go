// Package sos tracks active emergency alerts and drives their response
// lifecycle against the platform.
package sos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joluc/junction-console/pkg/models"
	"github.com/joluc/junction-console/pkg/poll"
)

var (
	ErrNotFound           = errors.New("sos alert not found")
	ErrTransitionInFlight = errors.New("sos transition already in flight")
)

type Client interface {
	ActiveSOS(ctx context.Context) ([]models.SOSAlert, error)
	UpdateSOSStatus(ctx context.Context, id string, update models.SOSStatusUpdate) error
}

// Alert is an entry of the active list as displayed. Status is the status to
// show; it differs from Confirmed while a transition is provisional.
// RefetchPending means a push event for the alert arrived after the record
// shown was fetched.
type Alert struct {
	models.SOSAlert
	Confirmed      models.SOSStatus   `json:"confirmed_status,omitempty"`
	Provisional    bool               `json:"provisional"`
	RefetchPending bool               `json:"refetch_pending"`
	Actions        []models.SOSStatus `json:"actions"`
}

type View struct {
	Alerts      []Alert   `json:"alerts"`
	Selected    *Alert    `json:"selected,omitempty"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
}

type provisional struct {
	status models.SOSStatus
	at     time.Time
	token  uint64
}

type Manager struct {
	client    Client
	officerID string
	now       func() time.Time
	loop      *poll.Loop

	seq    atomic.Uint64
	tokens atomic.Uint64

	mu          sync.RWMutex
	fetched     []Observation
	appliedSeq  uint64
	lastRefresh time.Time
	hints       map[string]Observation
	pending     map[string]provisional
	selected    string
	lastError   string
}

func New(client Client, officerID string, interval time.Duration) *Manager {
	m := &Manager{
		client:    client,
		officerID: officerID,
		now:       time.Now,
		hints:     make(map[string]Observation),
		pending:   make(map[string]provisional),
	}
	m.loop = &poll.Loop{
		Name:     "sos",
		Interval: interval,
		Fn: func(ctx context.Context) {
			_ = m.Refresh(ctx)
		},
	}
	return m
}

// Run polls the active list until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.loop.Run(ctx)
}

// Refresh re-fetches the active list. On failure the current list is kept.
// A response is applied only if no fetch started later has already been
// applied, so overlapping fetches never move the list backwards.
func (m *Manager) Refresh(ctx context.Context) error {
	seq := m.seq.Add(1)
	startedAt := m.now()

	alerts, err := m.client.ActiveSOS(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.lastError = err.Error()
		slog.Error("sos refresh failed", "error", err)
		return err
	}
	if seq < m.appliedSeq {
		slog.Debug("discarding superseded sos refresh", "seq", seq, "applied", m.appliedSeq)
		return nil
	}

	active := make([]models.SOSAlert, 0, len(alerts))
	for _, a := range alerts {
		if a.ID == "" || a.Status.Terminal() {
			continue
		}
		active = append(active, a)
	}

	m.appliedSeq = seq
	m.fetched = observe(active, startedAt)
	m.lastRefresh = m.now()
	m.lastError = ""

	for id, hint := range m.hints {
		if !hint.At.After(startedAt) {
			delete(m.hints, id)
		}
	}
	for id, p := range m.pending {
		if !p.at.After(startedAt) {
			delete(m.pending, id)
		}
	}

	if m.selected != "" {
		if _, ok := m.lookup(m.selected); !ok {
			slog.Debug("selected sos alert left the active set", "sos", m.selected)
			m.selected = ""
		}
	}

	slog.Debug("refreshed active sos alerts", "count", len(active))
	return nil
}

// ObservePush records a pushed alert as an unconfirmed hint. For an id with
// no fetched record the hint is shown as provisional; otherwise the fetched
// record stays and is only flagged as pending a re-fetch. Either way the
// first fetch started after the hint prunes it.
func (m *Manager) ObservePush(hint models.SOSAlert, at time.Time) {
	if hint.ID == "" {
		return
	}
	if hint.Status == "" {
		hint.Status = models.SOSActive
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hints[hint.ID] = Observation{Alert: hint, At: at}
}

// Transition asks the platform to move an alert to target. The displayed
// status changes immediately; it is rolled back if the request fails and
// replaced by the server's record once the follow-up refresh lands.
func (m *Manager) Transition(ctx context.Context, id string, target models.SOSStatus) error {
	at := m.now()
	token := m.tokens.Add(1)

	m.mu.Lock()
	obs, ok := m.lookup(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, busy := m.pending[id]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransitionInFlight, id)
	}
	from := obs.Alert.Status
	if !from.CanTransitionTo(target) {
		m.mu.Unlock()
		return &models.TransitionError{Entity: "sos", ID: id, From: string(from), To: string(target)}
	}
	m.pending[id] = provisional{status: target, at: at, token: token}
	m.mu.Unlock()

	err := m.client.UpdateSOSStatus(ctx, id, models.SOSStatusUpdate{
		Status:       target,
		ResponseTime: models.NewTime(at),
		OfficerID:    m.officerID,
	})
	if err != nil {
		m.mu.Lock()
		if p, ok := m.pending[id]; ok && p.token == token {
			delete(m.pending, id)
		}
		m.lastError = err.Error()
		m.mu.Unlock()
		slog.Error("sos status update failed", "sos", id, "status", target, "error", err)
		return err
	}

	m.mu.Lock()
	if m.selected == id {
		m.selected = ""
	}
	m.mu.Unlock()
	slog.Info("sos status updated", "sos", id, "from", from, "to", target, "officer", m.officerID)

	if err := m.Refresh(ctx); err != nil {
		slog.Warn("sos status updated but refresh failed; showing provisional status", "sos", id, "error", err)
	}
	return nil
}

// Select opens the detail panel for an alert. It has no network effect.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.selected = id
	return nil
}

func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = ""
}

func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merged := m.merged()
	v := View{
		Alerts:      make([]Alert, 0, len(merged)),
		LastRefresh: m.lastRefresh,
		LastError:   m.lastError,
	}
	for _, obs := range merged {
		a := m.display(obs)
		v.Alerts = append(v.Alerts, a)
		if a.ID == m.selected {
			selected := a
			v.Selected = &selected
		}
	}
	return v
}

func (m *Manager) Stats() poll.Stats {
	return m.loop.Stats()
}

func (m *Manager) merged() []Observation {
	hints := make([]Observation, 0, len(m.hints))
	for _, h := range m.hints {
		hints = append(hints, h)
	}
	return Merge(m.fetched, hints)
}

func (m *Manager) lookup(id string) (Observation, bool) {
	for _, obs := range m.merged() {
		if obs.Alert.ID == id {
			return obs, true
		}
	}
	return Observation{}, false
}

func (m *Manager) display(obs Observation) Alert {
	a := Alert{SOSAlert: obs.Alert, Provisional: !obs.Confirmed, RefetchPending: obs.Refetch}
	if obs.Confirmed {
		a.Confirmed = obs.Alert.Status
	}
	if p, ok := m.pending[obs.Alert.ID]; ok {
		a.Status = p.status
		a.Provisional = true
		a.Actions = []models.SOSStatus{}
		return a
	}
	a.Actions = a.Status.Next()
	return a
}
