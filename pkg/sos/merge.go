package sos

import (
	"sort"
	"time"

	"github.com/joluc/junction-console/pkg/models"
)

// Observation is one source's view of an alert at a point in time.
// Confirmed observations come from a fetch of the active list; unconfirmed
// ones come from push events.
type Observation struct {
	Alert     models.SOSAlert
	At        time.Time
	Confirmed bool
	// Refetch is set on a confirmed observation when a later unconfirmed one
	// for the same id was seen and no fetch has caught up with it yet.
	Refetch bool
}

// Merge unions any number of observation sets into exactly one observation
// per alert id. A confirmed observation always beats an unconfirmed one;
// otherwise the most recent wins. An unconfirmed observation newer than the
// confirmed record only marks it for re-fetch. Observations without an id
// are dropped. The result is ordered by priority, then newest alert first,
// then id.
func Merge(views ...[]Observation) []Observation {
	byID := make(map[string]Observation)
	hinted := make(map[string]time.Time)
	for _, view := range views {
		for _, obs := range view {
			id := obs.Alert.ID
			if id == "" {
				continue
			}
			if !obs.Confirmed && obs.At.After(hinted[id]) {
				hinted[id] = obs.At
			}
			current, ok := byID[id]
			if !ok || outranks(obs, current) {
				byID[id] = obs
			}
		}
	}
	for id, obs := range byID {
		obs.Refetch = obs.Confirmed && hinted[id].After(obs.At)
		byID[id] = obs
	}

	out := make([]Observation, 0, len(byID))
	for _, obs := range byID {
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Alert, out[j].Alert
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Timestamp.Equal(b.Timestamp.Time) {
			return a.Timestamp.After(b.Timestamp.Time)
		}
		return a.ID < b.ID
	})
	return out
}

func outranks(candidate, current Observation) bool {
	if candidate.Confirmed != current.Confirmed {
		return candidate.Confirmed
	}
	return candidate.At.After(current.At)
}

func observe(alerts []models.SOSAlert, at time.Time) []Observation {
	out := make([]Observation, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, Observation{Alert: a, At: at, Confirmed: true})
	}
	return out
}
