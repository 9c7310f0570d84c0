package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joluc/junction-console/pkg/alerts"
	"github.com/joluc/junction-console/pkg/models"
	"github.com/joluc/junction-console/pkg/sos"
	"github.com/joluc/junction-console/pkg/telemetry"
	"github.com/joluc/junction-console/pkg/violations"
)

type fakeTelemetry struct {
	mu       sync.Mutex
	snapshot models.Snapshot
}

func (f *fakeTelemetry) GetSnapshot() models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeTelemetry) set(s models.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
}

func (f *fakeTelemetry) Stats() telemetry.Stats {
	return telemetry.Stats{Ticks: 3, Skipped: 1, JunctionFailures: 2}
}

// platform stands in for the traffic platform behind both lifecycles.
type platform struct {
	mu         sync.Mutex
	alerts     []models.SOSAlert
	violations []models.Violation
	rejectPUT  bool
}

func (p *platform) ActiveSOS(context.Context) ([]models.SOSAlert, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.SOSAlert
	for _, a := range p.alerts {
		if !a.Status.Terminal() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *platform) UpdateSOSStatus(_ context.Context, id string, u models.SOSStatusUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectPUT {
		return errors.New("PUT sos: status 500")
	}
	for i := range p.alerts {
		if p.alerts[i].ID == id {
			p.alerts[i].Status = u.Status
		}
	}
	return nil
}

func (p *platform) Violations(_ context.Context, status string) ([]models.Violation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Violation
	for _, v := range p.violations {
		if status == "" || string(v.Status) == status {
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *platform) ViolationSummary(context.Context) (models.AnalyticsSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := models.AnalyticsSummary{TotalViolations: len(p.violations)}
	for _, v := range p.violations {
		s.TotalFineAmount += v.FineAmount
		if v.Status == models.ViolationPending {
			s.PendingViolations++
		}
	}
	return s, nil
}

func (p *platform) UpdateViolationStatus(_ context.Context, id string, u models.ViolationStatusUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectPUT {
		return errors.New("PUT violation: status 500")
	}
	for i := range p.violations {
		if p.violations[i].ID == id {
			p.violations[i].Status = u.Status
		}
	}
	return nil
}

type fixture struct {
	server     *httptest.Server
	platform   *platform
	telemetry  *fakeTelemetry
	sos        *sos.Manager
	violations *violations.Workflow
	feed       *alerts.Feed
}

type feedStats struct {
	*alerts.Feed
}

func (feedStats) Stats() alerts.DebouncerStats { return alerts.DebouncerStats{Sent: 4, Duplicates: 1} }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := &platform{
		alerts: []models.SOSAlert{
			{ID: "SOS_1", EmergencyType: models.EmergencyMedical, Priority: 9, Status: models.SOSActive},
			{ID: "SOS_2", EmergencyType: models.EmergencyFire, Priority: 5, Status: models.SOSResponding},
		},
		violations: []models.Violation{
			{ID: "V1", ViolationType: models.SpeedingViolation, FineAmount: 1200, Status: models.ViolationPending},
			{ID: "V2", ViolationType: models.IllegalParking, FineAmount: 733.5, Status: models.ViolationApproved},
		},
	}
	f := &fixture{
		platform:   p,
		telemetry:  &fakeTelemetry{},
		sos:        sos.New(p, "OFFICER_001", time.Hour),
		violations: violations.New(p, "OFFICER_001"),
		feed:       alerts.NewFeed(5),
	}
	require.NoError(t, f.sos.Refresh(context.Background()))
	require.NoError(t, f.violations.Refresh(context.Background()))

	srv := New(Options{
		Telemetry:     f.telemetry,
		SOS:           f.sos,
		Violations:    f.violations,
		Notifications: feedStats{f.feed},
	})
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.telemetry.set(models.Snapshot{LastRefresh: time.Now()})
	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.telemetry.set(models.Snapshot{LastRefresh: time.Now(), VehiclesError: "timeout"})
	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTelemetryView(t *testing.T) {
	f := newFixture(t)
	f.telemetry.set(models.Snapshot{
		Junctions: []models.JunctionSnapshot{{ID: "J2", VehiclesCount: 40, Efficiency: 62}},
		Vehicles:  []models.VehicleSnapshot{{ID: "car_1", Type: "car"}},
	})

	resp, body := f.do(t, http.MethodGet, "/api/telemetry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	junctions := body["junctions"].([]any)
	require.Len(t, junctions, 1)
	j := junctions[0].(map[string]any)
	assert.Equal(t, "red", j["color"])
	assert.Equal(t, 400.0, j["radius"])
	assert.Len(t, body["vehicles"], 1)
}

func TestSOSEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/sos", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["alerts"], 2)
	markers := body["markers"].([]any)
	assert.Equal(t, "high", markers[0].(map[string]any)["priority"])

	resp, body = f.do(t, http.MethodPost, "/api/sos/SOS_1/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SOS_1", body["selected"].(map[string]any)["id"])

	resp, _ = f.do(t, http.MethodPost, "/api/sos/SOS_404/select", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sos/SOS_1/status", `{"status": "completed"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "active cannot complete directly")

	resp, _ = f.do(t, http.MethodPost, "/api/sos/SOS_1/status", `{"status": "teleported"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sos/SOS_1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/sos/SOS_1/status", `{"status": "cancelled"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["alerts"], 1)
	assert.Nil(t, body["selected"])

	f.platform.mu.Lock()
	f.platform.rejectPUT = true
	f.platform.mu.Unlock()
	resp, body = f.do(t, http.MethodPost, "/api/sos/SOS_2/status", `{"status": "dispatched"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "status 500")

	resp, _ = f.do(t, http.MethodDelete, "/api/sos/selection", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestViolationEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/violations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "₹1,934", body["total_fine"])

	resp, body = f.do(t, http.MethodPut, "/api/violations/view", `{"filter": "pending"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, "timestamp", body["query"].(map[string]any)["sort"])

	resp, _ = f.do(t, http.MethodPut, "/api/violations/view", `{"filter": "everything"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/violations/panel/notes", `{"notes": "x"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no panel open")

	resp, body = f.do(t, http.MethodPost, "/api/violations/V1/open", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["panel"].(map[string]any)["actions"], 3)

	resp, _ = f.do(t, http.MethodPut, "/api/violations/panel/notes", `{"notes": "plate verified"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/violations/V1/status", `{"status": "approved"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["panel"])
	assert.Empty(t, body["items"])

	resp, _ = f.do(t, http.MethodPost, "/api/violations/V2/status", `{"status": "rejected"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "V2 is filtered out of the pending list")

	resp, _ = f.do(t, http.MethodDelete, "/api/violations/panel", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNotificationsFeed(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/notifications", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.feed.Notify(context.Background(), alerts.Notification{ID: "n1", Title: "New SOS Alert!"}))
	r, err := http.Get(f.server.URL + "/api/notifications")
	require.NoError(t, err)
	defer r.Body.Close()
	var recent []alerts.Notification
	require.NoError(t, json.NewDecoder(r.Body).Decode(&recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "n1", recent[0].ID)
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t)
	f.telemetry.set(models.Snapshot{
		LastRefresh:     time.Now(),
		RefreshDuration: 100 * time.Millisecond,
		Junctions:       []models.JunctionSnapshot{{ID: "J1", VehiclesCount: 12, Efficiency: 91.5}},
	})

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	body := buf.String()

	for _, want := range []string{
		"junction_console_up 1",
		"junction_console_refresh_duration_seconds 0.100000",
		"junction_console_scrapes_total 1",
		`junction_console_telemetry_failures_total{source="junctions"} 2`,
		`junction_console_junction_vehicles{junction="J1",grade="green"} 12`,
		`junction_console_sos_active_alerts{priority="high"} 1`,
		`junction_console_sos_active_alerts{priority="low"} 1`,
		`junction_console_notifications_total{result="sent"} 4`,
		"junction_console_violations_pending 1",
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "junction_console_push_connected", "no stream configured")
}

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, `J\"1\\\n`, EscapeLabel("J\"1\\\n"))
}
