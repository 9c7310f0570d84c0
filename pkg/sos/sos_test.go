package sos

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joluc/junction-console/pkg/models"
)

type fakeClient struct {
	mu        sync.Mutex
	active    []models.SOSAlert
	fetchErr  error
	updateErr error
	updates   []update
	// onUpdate lets a test change server state when a PUT lands.
	onUpdate func(id string, status models.SOSStatus)
	fetches  int
}

type update struct {
	id string
	models.SOSStatusUpdate
}

func (f *fakeClient) ActiveSOS(context.Context) ([]models.SOSAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]models.SOSAlert(nil), f.active...), nil
}

func (f *fakeClient) UpdateSOSStatus(_ context.Context, id string, u models.SOSStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update{id: id, SOSStatusUpdate: u})
	if f.onUpdate != nil {
		f.onUpdate(id, u.Status)
	}
	return nil
}

func (f *fakeClient) setStatus(id string, status models.SOSStatus) {
	for i := range f.active {
		if f.active[i].ID == id {
			f.active[i].Status = status
		}
	}
}

func (f *fakeClient) set(fn func(*fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func alert(id string, priority int, status models.SOSStatus) models.SOSAlert {
	return models.SOSAlert{
		ID:            id,
		EmergencyType: models.EmergencyMedical,
		Priority:      priority,
		Status:        status,
		Timestamp:     models.NewTime(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)),
	}
}

func newManager(client Client) *Manager {
	return New(client, "OFFICER_001", time.Hour)
}

func ids(v View) []string {
	out := make([]string, 0, len(v.Alerts))
	for _, a := range v.Alerts {
		out = append(out, a.ID)
	}
	return out
}

func TestRefreshOrdersAndDropsTerminal(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{
		alert("SOS_1", 7, models.SOSActive),
		alert("SOS_2", 10, models.SOSResponding),
		alert("SOS_3", 9, models.SOSCompleted),
		alert("", 9, models.SOSActive),
	}}
	m := newManager(client)

	require.NoError(t, m.Refresh(context.Background()))
	v := m.View()
	assert.Equal(t, []string{"SOS_2", "SOS_1"}, ids(v))
	assert.False(t, v.Alerts[0].Provisional)
	assert.Equal(t, models.SOSResponding, v.Alerts[0].Confirmed)
	assert.Equal(t, []models.SOSStatus{models.SOSDispatched, models.SOSCompleted, models.SOSCancelled}, v.Alerts[0].Actions)
}

func TestRefreshFailureKeepsList(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 7, models.SOSActive)}}
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))

	client.set(func(f *fakeClient) { f.fetchErr = errors.New("502 bad gateway") })
	assert.Error(t, m.Refresh(context.Background()))

	v := m.View()
	assert.Equal(t, []string{"SOS_1"}, ids(v))
	assert.Equal(t, "502 bad gateway", v.LastError)
}

func TestTransitionServerWinsOverProvisional(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_9", 9, models.SOSActive)}}
	// The platform moves the alert past the requested status.
	client.onUpdate = func(id string, _ models.SOSStatus) { client.setStatus(id, models.SOSDispatched) }
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))

	require.NoError(t, m.Transition(context.Background(), "SOS_9", models.SOSResponding))

	v := m.View()
	require.Len(t, v.Alerts, 1)
	assert.Equal(t, models.SOSDispatched, v.Alerts[0].Status)
	assert.False(t, v.Alerts[0].Provisional)

	require.Len(t, client.updates, 1)
	u := client.updates[0]
	assert.Equal(t, "SOS_9", u.id)
	assert.Equal(t, models.SOSResponding, u.Status)
	assert.Equal(t, "OFFICER_001", u.OfficerID)
	assert.False(t, u.ResponseTime.IsZero())
}

func TestTransitionShowsProvisionalUntilConfirmed(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 8, models.SOSActive)}}
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))

	// The update is accepted but the follow-up fetch fails.
	client.onUpdate = func(string, models.SOSStatus) { client.fetchErr = errors.New("timeout") }
	require.NoError(t, m.Transition(context.Background(), "SOS_1", models.SOSResponding))

	v := m.View()
	assert.Equal(t, models.SOSResponding, v.Alerts[0].Status)
	assert.Equal(t, models.SOSActive, v.Alerts[0].Confirmed)
	assert.True(t, v.Alerts[0].Provisional)
	assert.Empty(t, v.Alerts[0].Actions)

	err := m.Transition(context.Background(), "SOS_1", models.SOSDispatched)
	assert.True(t, errors.Is(err, ErrTransitionInFlight))

	client.set(func(f *fakeClient) {
		f.fetchErr = nil
		f.setStatus("SOS_1", models.SOSResponding)
	})
	require.NoError(t, m.Refresh(context.Background()))
	v = m.View()
	assert.Equal(t, models.SOSResponding, v.Alerts[0].Status)
	assert.False(t, v.Alerts[0].Provisional)
}

func TestTransitionFailureRollsBack(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 8, models.SOSActive)}}
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Select("SOS_1"))

	client.set(func(f *fakeClient) { f.updateErr = errors.New("status 500") })
	err := m.Transition(context.Background(), "SOS_1", models.SOSResponding)
	require.Error(t, err)

	v := m.View()
	require.Len(t, v.Alerts, 1)
	assert.Equal(t, models.SOSActive, v.Alerts[0].Status)
	assert.False(t, v.Alerts[0].Provisional)
	assert.Equal(t, "status 500", v.LastError)
	require.NotNil(t, v.Selected, "selection survives a rejected write")
}

func TestTransitionTableEnforced(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 8, models.SOSActive)}}
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))

	err := m.Transition(context.Background(), "SOS_1", models.SOSCompleted)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	err = m.Transition(context.Background(), "SOS_404", models.SOSResponding)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Empty(t, client.updates, "rejected transitions never reach the server")
}

func TestTerminalTransitionRemovesAlertAndClosesPanel(t *testing.T) {
	for _, target := range []models.SOSStatus{models.SOSCompleted, models.SOSCancelled} {
		t.Run(string(target), func(t *testing.T) {
			client := &fakeClient{active: []models.SOSAlert{
				alert("SOS_1", 8, models.SOSDispatched),
				alert("SOS_2", 5, models.SOSActive),
			}}
			client.onUpdate = func(id string, status models.SOSStatus) { client.setStatus(id, status) }
			m := newManager(client)
			require.NoError(t, m.Refresh(context.Background()))
			require.NoError(t, m.Select("SOS_1"))

			require.NoError(t, m.Transition(context.Background(), "SOS_1", target))

			v := m.View()
			assert.Equal(t, []string{"SOS_2"}, ids(v))
			assert.Nil(t, v.Selected)
		})
	}
}

func TestSelectionClearedWhenAlertDisappears(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 8, models.SOSActive), alert("SOS_2", 5, models.SOSActive)}}
	m := newManager(client)
	require.NoError(t, m.Refresh(context.Background()))

	require.NoError(t, m.Select("SOS_2"))
	assert.Equal(t, "SOS_2", m.View().Selected.ID)

	client.set(func(f *fakeClient) { f.active = f.active[:1] })
	require.NoError(t, m.Refresh(context.Background()))
	assert.Nil(t, m.View().Selected)

	assert.True(t, errors.Is(m.Select("SOS_2"), ErrNotFound))
}

func TestPushHintIsProvisionalUntilFetched(t *testing.T) {
	client := &fakeClient{active: []models.SOSAlert{alert("SOS_1", 8, models.SOSActive)}}
	m := newManager(client)
	clock := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	require.NoError(t, m.Refresh(context.Background()))

	m.ObservePush(models.SOSAlert{ID: "SOS_2", EmergencyType: models.EmergencyFire, Priority: 9}, clock.Add(time.Second))
	m.ObservePush(models.SOSAlert{ID: "SOS_1"}, clock.Add(time.Second))

	v := m.View()
	assert.Equal(t, []string{"SOS_2", "SOS_1"}, ids(v))
	assert.True(t, v.Alerts[0].Provisional)
	assert.Empty(t, v.Alerts[0].Confirmed)
	// SOS_1 already has a fetched record; the hint only flags it.
	assert.False(t, v.Alerts[1].Provisional)
	assert.True(t, v.Alerts[1].RefetchPending)
	assert.Equal(t, 8, v.Alerts[1].Priority)

	// The fetch triggered by the push confirms SOS_2 and replaces both hints.
	clock = clock.Add(2 * time.Second)
	full := alert("SOS_2", 9, models.SOSActive)
	full.Location = models.AlertLocation{Lat: 12.97, Lon: 77.59, Address: "MG Road"}
	client.set(func(f *fakeClient) { f.active = append(f.active, full) })
	require.NoError(t, m.Refresh(context.Background()))

	v = m.View()
	require.Len(t, v.Alerts, 2)
	for _, a := range v.Alerts {
		assert.False(t, a.Provisional, a.ID)
		assert.False(t, a.RefetchPending, a.ID)
	}
	assert.Equal(t, "MG Road", v.Alerts[0].Location.Address)
}

func TestPushHintNeverReplacesFetchedRecord(t *testing.T) {
	fetched := alert("SOS_1", 9, models.SOSResponding)
	fetched.Location = models.AlertLocation{Lat: 12.9716, Lon: 77.5946, Address: "MG Road"}
	client := &fakeClient{active: []models.SOSAlert{fetched}}
	client.onUpdate = func(id string, status models.SOSStatus) { client.setStatus(id, status) }
	m := newManager(client)
	clock := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	require.NoError(t, m.Refresh(context.Background()))

	m.ObservePush(models.SOSAlert{ID: "SOS_1", EmergencyType: models.EmergencyMedical}, clock.Add(time.Second))

	v := m.View()
	require.Len(t, v.Alerts, 1)
	a := v.Alerts[0]
	assert.Equal(t, models.SOSResponding, a.Status)
	assert.Equal(t, models.SOSResponding, a.Confirmed)
	assert.Equal(t, 9, a.Priority)
	assert.Equal(t, "MG Road", a.Location.Address)
	assert.InDelta(t, 12.9716, a.Location.Lat, 1e-9)
	assert.False(t, a.Provisional)
	assert.True(t, a.RefetchPending)
	assert.Equal(t, []models.SOSStatus{models.SOSDispatched, models.SOSCompleted, models.SOSCancelled}, a.Actions)

	// Transitions are checked against the fetched status, not the hint.
	clock = clock.Add(2 * time.Second)
	require.NoError(t, m.Transition(context.Background(), "SOS_1", models.SOSCompleted))
	assert.Empty(t, ids(m.View()))
}

func TestHintArrivingDuringFetchSurvivesIt(t *testing.T) {
	client := &fakeClient{}
	m := newManager(client)
	clock := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	// The fetch starts at clock; the hint is stamped after that.
	m.ObservePush(models.SOSAlert{ID: "SOS_5"}, clock.Add(time.Millisecond))
	require.NoError(t, m.Refresh(context.Background()))

	assert.Equal(t, []string{"SOS_5"}, ids(m.View()))
}

// blockingClient holds each ActiveSOS call until the test releases it.
type blockingClient struct {
	fakeClient
	calls chan chan []models.SOSAlert
}

func (b *blockingClient) ActiveSOS(ctx context.Context) ([]models.SOSAlert, error) {
	reply := make(chan []models.SOSAlert)
	b.calls <- reply
	select {
	case alerts := <-reply:
		return alerts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestOutOfOrderFetchesNeverRegress(t *testing.T) {
	client := &blockingClient{calls: make(chan chan []models.SOSAlert)}
	m := newManager(client)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Refresh(context.Background())
	}()
	older := <-client.calls

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Refresh(context.Background())
	}()
	newer := <-client.calls

	newer <- []models.SOSAlert{alert("SOS_1", 8, models.SOSDispatched)}
	older <- []models.SOSAlert{alert("SOS_1", 8, models.SOSActive), alert("SOS_0", 3, models.SOSActive)}
	wg.Wait()

	v := m.View()
	assert.Equal(t, []string{"SOS_1"}, ids(v))
	assert.Equal(t, models.SOSDispatched, v.Alerts[0].Status)
}

func TestMergeOneRecordPerID(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		var poll, push []Observation
		want := map[string]Observation{}
		hinted := map[string]time.Time{}
		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("SOS_%d", rng.Intn(6))
			obs := Observation{
				Alert:     models.SOSAlert{ID: id, Priority: rng.Intn(10) + 1},
				At:        base.Add(time.Duration(rng.Intn(5)) * time.Second),
				Confirmed: rng.Intn(2) == 0,
			}
			if obs.Confirmed {
				poll = append(poll, obs)
			} else {
				push = append(push, obs)
			}
			if !obs.Confirmed && obs.At.After(hinted[id]) {
				hinted[id] = obs.At
			}
			if cur, ok := want[id]; !ok || (obs.Confirmed && !cur.Confirmed) || (obs.Confirmed == cur.Confirmed && obs.At.After(cur.At)) {
				want[id] = obs
			}
		}

		for _, merged := range [][]Observation{Merge(poll, push), Merge(push, poll)} {
			seen := map[string]bool{}
			for _, obs := range merged {
				require.False(t, seen[obs.Alert.ID], "duplicate id %s", obs.Alert.ID)
				seen[obs.Alert.ID] = true
				w := want[obs.Alert.ID]
				assert.True(t, w.At.Equal(obs.At), "round %d id %s: wrong observation kept", round, obs.Alert.ID)
				assert.Equal(t, w.Confirmed, obs.Confirmed)
				assert.Equal(t, w.Confirmed && hinted[obs.Alert.ID].After(w.At), obs.Refetch, "round %d id %s", round, obs.Alert.ID)
			}
			assert.Len(t, merged, len(want))
		}
	}
}

func TestMergeOrdering(t *testing.T) {
	at := time.Now()
	older := models.NewTime(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	newer := models.NewTime(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	merged := Merge([]Observation{
		{Alert: models.SOSAlert{ID: "c", Priority: 5, Timestamp: older}, At: at},
		{Alert: models.SOSAlert{ID: "b", Priority: 5, Timestamp: newer}, At: at},
		{Alert: models.SOSAlert{ID: "a", Priority: 9, Timestamp: older}, At: at},
		{Alert: models.SOSAlert{ID: "d", Priority: 5, Timestamp: older}, At: at},
	})

	var got []string
	for _, o := range merged {
		got = append(got, o.Alert.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestRunStopsOnCancel(t *testing.T) {
	m := New(&fakeClient{}, "OFFICER_001", 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Stats().Ticks >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sos poller kept running after cancel")
	}
}
