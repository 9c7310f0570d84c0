// Package violations implements the officer review workflow for detected
// traffic violations.
package violations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joluc/junction-console/pkg/models"
)

var (
	ErrNotFound           = errors.New("violation not found")
	ErrNoPanel            = errors.New("no violation detail open")
	ErrTransitionInFlight = errors.New("violation transition already in flight")
	ErrInvalidQuery       = errors.New("invalid violation query")
)

type Filter string

const (
	FilterAll      Filter = "all"
	FilterPending  Filter = "pending"
	FilterApproved Filter = "approved"
	FilterRejected Filter = "rejected"
)

// status returns the value of the status query parameter; all sends none.
func (f Filter) status() string {
	if f == FilterAll {
		return ""
	}
	return string(f)
}

func (f Filter) valid() bool {
	switch f {
	case FilterAll, FilterPending, FilterApproved, FilterRejected:
		return true
	}
	return false
}

type SortKey string

const (
	SortTimestamp  SortKey = "timestamp"
	SortFineAmount SortKey = "fine_amount"
)

func (k SortKey) valid() bool {
	return k == SortTimestamp || k == SortFineAmount
}

type Query struct {
	Filter Filter  `json:"filter"`
	Sort   SortKey `json:"sort"`
}

func DefaultQuery() Query {
	return Query{Filter: FilterAll, Sort: SortTimestamp}
}

func (q Query) Validate() error {
	if !q.Filter.valid() {
		return fmt.Errorf("%w: filter %q", ErrInvalidQuery, q.Filter)
	}
	if !q.Sort.valid() {
		return fmt.Errorf("%w: sort %q", ErrInvalidQuery, q.Sort)
	}
	return nil
}

type Client interface {
	Violations(ctx context.Context, status string) ([]models.Violation, error)
	ViolationSummary(ctx context.Context) (models.AnalyticsSummary, error)
	UpdateViolationStatus(ctx context.Context, id string, update models.ViolationStatusUpdate) error
}

// Item is a list entry with the quick actions it offers. While a decision is
// in flight Status shows the requested status and Provisional is set.
type Item struct {
	models.Violation
	Confirmed   models.ViolationStatus   `json:"confirmed_status"`
	Provisional bool                     `json:"provisional"`
	Actions     []models.ViolationStatus `json:"actions"`
}

// Panel is the open detail view. Notes are the officer's draft and are sent
// with the next transition of this violation.
type Panel struct {
	Violation models.Violation         `json:"violation"`
	Notes     string                   `json:"notes"`
	Actions   []models.ViolationStatus `json:"actions"`
}

type View struct {
	Query       Query                    `json:"query"`
	Items       []Item                   `json:"items"`
	Summary     *models.AnalyticsSummary `json:"summary,omitempty"`
	Panel       *Panel                   `json:"panel,omitempty"`
	LastRefresh time.Time                `json:"last_refresh"`
	LastError   string                   `json:"last_error,omitempty"`
}

type provisional struct {
	status models.ViolationStatus
	at     time.Time
}

type Workflow struct {
	client    Client
	officerID string
	now       func() time.Time

	seq atomic.Uint64

	mu          sync.RWMutex
	query       Query
	items       []models.Violation
	summary     *models.AnalyticsSummary
	appliedSeq  uint64
	panel       *Panel
	pending     map[string]provisional
	lastRefresh time.Time
	lastError   string
}

func New(client Client, officerID string) *Workflow {
	return &Workflow{
		client:    client,
		officerID: officerID,
		now:       time.Now,
		query:     DefaultQuery(),
		pending:   make(map[string]provisional),
	}
}

// SetQuery changes filter and sort and re-queries the list.
func (w *Workflow) SetQuery(ctx context.Context, q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.query = q
	sortViolations(w.items, q.Sort)
	w.mu.Unlock()
	return w.Refresh(ctx)
}

// Refresh re-queries the list for the current filter together with the
// analytics summary. A half that fails keeps its previous value. Responses
// are dropped if a later refresh was applied first or the query changed
// while they were in flight.
func (w *Workflow) Refresh(ctx context.Context) error {
	seq := w.seq.Add(1)
	startedAt := w.now()
	w.mu.RLock()
	query := w.query
	w.mu.RUnlock()

	var g errgroup.Group
	var list []models.Violation
	var summary models.AnalyticsSummary
	var listErr, summaryErr error
	g.Go(func() error {
		list, listErr = w.client.Violations(ctx, query.Filter.status())
		return nil
	})
	g.Go(func() error {
		summary, summaryErr = w.client.ViolationSummary(ctx)
		return nil
	})
	_ = g.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if seq < w.appliedSeq || query.Filter != w.query.Filter {
		slog.Debug("discarding superseded violation refresh", "seq", seq, "applied", w.appliedSeq, "filter", query.Filter)
		return nil
	}
	w.appliedSeq = seq

	if summaryErr == nil {
		w.summary = &summary
	} else {
		slog.Error("violation summary refresh failed", "error", summaryErr)
	}
	if listErr != nil {
		slog.Error("violation list refresh failed", "filter", query.Filter, "error", listErr)
		w.lastError = listErr.Error()
		return listErr
	}

	items := make([]models.Violation, 0, len(list))
	for _, v := range list {
		if v.ID == "" {
			continue
		}
		items = append(items, v)
	}
	sortViolations(items, w.query.Sort)
	w.items = items
	w.lastRefresh = w.now()
	w.lastError = ""
	if summaryErr != nil {
		w.lastError = summaryErr.Error()
	}
	for id, p := range w.pending {
		if !p.at.After(startedAt) {
			delete(w.pending, id)
		}
	}

	if w.panel != nil {
		if v, ok := w.find(w.panel.Violation.ID); ok {
			w.panel.Violation = v
			w.panel.Actions = v.Status.Next()
		} else {
			slog.Debug("violation detail left the list", "violation", w.panel.Violation.ID)
			w.panel = nil
		}
	}

	slog.Debug("refreshed violations", "filter", query.Filter, "count", len(items))
	return summaryErr
}

// Open shows the detail panel for a listed violation, seeding the notes
// draft with any notes already on record.
func (w *Workflow) Open(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	w.panel = &Panel{Violation: v, Notes: v.OfficerNotes, Actions: v.Status.Next()}
	return nil
}

func (w *Workflow) SetNotes(notes string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panel == nil {
		return ErrNoPanel
	}
	w.panel.Notes = notes
	return nil
}

func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.panel = nil
}

// Transition submits an officer decision. Only pending violations can be
// decided. Notes are taken from the open panel when it shows this violation.
// The list shows the requested status provisionally until a refresh started
// after the request replaces it. On success the list and summary are
// refreshed and the panel is closed; on failure the provisional status is
// rolled back and the panel and its notes stay as they were.
func (w *Workflow) Transition(ctx context.Context, id string, target models.ViolationStatus) error {
	w.mu.Lock()
	v, ok := w.find(id)
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, busy := w.pending[id]; busy {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransitionInFlight, id)
	}
	if !v.Status.CanTransitionTo(target) {
		w.mu.Unlock()
		return &models.TransitionError{Entity: "violation", ID: id, From: string(v.Status), To: string(target)}
	}
	var notes string
	if w.panel != nil && w.panel.Violation.ID == id {
		notes = w.panel.Notes
	}
	at := w.now()
	w.pending[id] = provisional{status: target, at: at}
	w.mu.Unlock()

	err := w.client.UpdateViolationStatus(ctx, id, models.ViolationStatusUpdate{
		Status:       target,
		OfficerNotes: notes,
		ProcessedBy:  w.officerID,
		ProcessedAt:  models.NewTime(at),
	})

	w.mu.Lock()
	if err != nil {
		delete(w.pending, id)
		w.lastError = err.Error()
		w.mu.Unlock()
		slog.Error("violation status update failed", "violation", id, "status", target, "error", err)
		return err
	}
	if w.panel != nil && w.panel.Violation.ID == id {
		w.panel = nil
	}
	w.mu.Unlock()
	slog.Info("violation status updated", "violation", id, "from", v.Status, "to", target, "officer", w.officerID)

	if err := w.Refresh(ctx); err != nil {
		slog.Warn("violation updated but refresh failed", "violation", id, "error", err)
	}
	return nil
}

func (w *Workflow) View() View {
	w.mu.RLock()
	defer w.mu.RUnlock()

	v := View{
		Query:       w.query,
		Items:       make([]Item, 0, len(w.items)),
		LastRefresh: w.lastRefresh,
		LastError:   w.lastError,
	}
	for _, item := range w.items {
		entry := Item{Violation: item, Confirmed: item.Status, Actions: QuickActions(item.Status)}
		if p, ok := w.pending[item.ID]; ok {
			entry.Status = p.status
			entry.Provisional = true
			entry.Actions = []models.ViolationStatus{}
		}
		v.Items = append(v.Items, entry)
	}
	if w.summary != nil {
		summary := *w.summary
		v.Summary = &summary
	}
	if w.panel != nil {
		panel := *w.panel
		panel.Actions = append([]models.ViolationStatus(nil), w.panel.Actions...)
		v.Panel = &panel
	}
	return v
}

// QuickActions are the decisions offered directly on a list entry.
func QuickActions(status models.ViolationStatus) []models.ViolationStatus {
	if status != models.ViolationPending {
		return []models.ViolationStatus{}
	}
	return []models.ViolationStatus{models.ViolationApproved, models.ViolationRejected}
}

func (w *Workflow) find(id string) (models.Violation, bool) {
	for _, v := range w.items {
		if v.ID == id {
			return v, true
		}
	}
	return models.Violation{}, false
}

func sortViolations(items []models.Violation, key SortKey) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch key {
		case SortFineAmount:
			if a.FineAmount != b.FineAmount {
				return a.FineAmount > b.FineAmount
			}
		default:
			if !a.Timestamp.Equal(b.Timestamp.Time) {
				return a.Timestamp.After(b.Timestamp.Time)
			}
		}
		return a.ID < b.ID
	})
}
