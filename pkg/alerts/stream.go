package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joluc/junction-console/pkg/models"
)

// Sink receives pushed SOS hints and performs the authoritative re-fetch.
type Sink interface {
	ObservePush(hint models.SOSAlert, at time.Time)
	Refresh(ctx context.Context) error
}

type StreamStats struct {
	Connected bool
	Events    uint64
	Ignored   uint64
}

// Controller owns one push connection. It does not reconnect: when the
// connection drops Run returns and the rest of the console keeps polling.
type Controller struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	sink      Sink
	flag      *Flag
	debouncer *Debouncer
	now       func() time.Time

	connected atomic.Bool
	events    atomic.Uint64
	ignored   atomic.Uint64
	refresh   chan struct{}
}

func NewController(url string, sink Sink, flag *Flag, debouncer *Debouncer) *Controller {
	return &Controller{
		url:       url,
		header:    http.Header{},
		dialer:    websocket.DefaultDialer,
		sink:      sink,
		flag:      flag,
		debouncer: debouncer,
		now:       time.Now,
		refresh:   make(chan struct{}, 1),
	}
}

// Run dials the push channel and handles frames until ctx is done or the
// connection fails. The connection, the refresh worker and the flag timer
// are released on every return path.
func (c *Controller) Run(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	defer c.flag.Stop()
	defer conn.Close()

	stop := context.AfterFunc(runCtx, func() { conn.Close() })
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.refreshWorker(runCtx)
	}()

	c.connected.Store(true)
	defer c.connected.Store(false)
	slog.Info("push channel connected", "url", c.url)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("push channel lost, continuing without live alerts", "error", err)
			return fmt.Errorf("read push channel: %w", err)
		}
		c.handleFrame(runCtx, frame)
	}
}

func (c *Controller) handleFrame(ctx context.Context, frame []byte) {
	hint, err := ParseSOSEvent(frame)
	if err != nil {
		c.ignored.Add(1)
		if errors.Is(err, ErrUnknownEvent) {
			slog.Debug("ignoring push event", "error", err)
		} else {
			slog.Warn("ignoring malformed push event", "error", err)
		}
		return
	}
	c.events.Add(1)

	now := c.now()
	if hint.ID != "" {
		c.sink.ObservePush(hint, now)
	}
	c.requestRefresh()
	c.flag.Raise()
	c.debouncer.Notify(ctx, NewSOSNotification(hint, now))
}

// requestRefresh coalesces bursts: while a refresh is pending further
// requests are absorbed by it.
func (c *Controller) requestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *Controller) refreshWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.refresh:
			if err := c.sink.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Error("refresh after push event failed", "error", err)
			}
		}
	}
}

func (c *Controller) NewAlert() bool {
	return c.flag.Active()
}

func (c *Controller) Stats() StreamStats {
	return StreamStats{
		Connected: c.connected.Load(),
		Events:    c.events.Load(),
		Ignored:   c.ignored.Load(),
	}
}
