package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joluc/junction-console/pkg/models"
)

type Notification struct {
	ID      string    `json:"id"`
	AlertID string    `json:"alert_id,omitempty"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}

func NewSOSNotification(alert models.SOSAlert, at time.Time) Notification {
	kind := string(alert.EmergencyType)
	if kind == "" {
		kind = string(models.EmergencyGeneral)
	}
	return Notification{
		ID:      uuid.NewString(),
		AlertID: alert.ID,
		Title:   "New SOS Alert!",
		Body:    fmt.Sprintf("Emergency: %s", strings.ToLower(kind)),
		At:      at,
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notifiers delivers to every notifier in order and returns the first error.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, notifier := range ns {
		if err := notifier.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	slog.Warn(n.Title, "body", n.Body, "alert", n.AlertID, "notification", n.ID)
	return nil
}

// Feed keeps the most recent notifications for the dashboard.
type Feed struct {
	size int

	mu    sync.Mutex
	items []Notification
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1
	}
	return &Feed{size: size}
}

func (f *Feed) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.size {
		f.items = append([]Notification(nil), f.items[len(f.items)-f.size:]...)
	}
	return nil
}

// Recent returns notifications newest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	for i, n := range f.items {
		out[len(f.items)-1-i] = n
	}
	return out
}

type DebouncerStats struct {
	Sent        uint64
	Duplicates  uint64
	RateLimited uint64
	Failed      uint64
}

// Debouncer forwards at most one notification per alert id within dedupTTL,
// and no more than the limiter allows overall.
type Debouncer struct {
	next     Notifier
	limiter  *rate.Limiter
	dedupTTL time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time

	sent        atomic.Uint64
	duplicates  atomic.Uint64
	rateLimited atomic.Uint64
	failed      atomic.Uint64
}

func NewDebouncer(next Notifier, every time.Duration, burst int, dedupTTL time.Duration) *Debouncer {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Debouncer{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		dedupTTL: dedupTTL,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Notify reports whether n was delivered. It is safe for concurrent use.
func (d *Debouncer) Notify(ctx context.Context, n Notification) bool {
	switch d.admit(n.AlertID) {
	case admitDuplicate:
		d.duplicates.Add(1)
		slog.Debug("duplicate alert notification dropped", "alert", n.AlertID)
		return false
	case admitRateLimited:
		d.rateLimited.Add(1)
		slog.Debug("alert notification rate limited", "alert", n.AlertID)
		return false
	}
	if err := d.next.Notify(ctx, n); err != nil {
		d.failed.Add(1)
		slog.Error("alert notification failed", "alert", n.AlertID, "error", err)
		return false
	}
	d.sent.Add(1)
	return true
}

type admission int

const (
	admitted admission = iota
	admitDuplicate
	admitRateLimited
)

// admit checks and records alertID under one lock so concurrent callers
// never both pass the duplicate check for the same id.
func (d *Debouncer) admit(alertID string) admission {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.dedupTTL {
			delete(d.seen, id)
		}
	}
	if alertID != "" {
		if _, ok := d.seen[alertID]; ok {
			return admitDuplicate
		}
	}
	if !d.limiter.Allow() {
		return admitRateLimited
	}
	if alertID != "" {
		d.seen[alertID] = now
	}
	return admitted
}

func (d *Debouncer) Stats() DebouncerStats {
	return DebouncerStats{
		Sent:        d.sent.Load(),
		Duplicates:  d.duplicates.Load(),
		RateLimited: d.rateLimited.Load(),
		Failed:      d.failed.Load(),
	}
}
