// Package telemetry keeps the latest junction and vehicle snapshot.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joluc/junction-console/pkg/geo"
	"github.com/joluc/junction-console/pkg/models"
	"github.com/joluc/junction-console/pkg/poll"
)

// Source is the pair of telemetry reads issued on every tick.
type Source interface {
	Junctions(ctx context.Context) ([]models.JunctionSnapshot, error)
	Vehicles(ctx context.Context) ([]models.VehicleSnapshot, error)
}

type Stats struct {
	Ticks            uint64
	Skipped          uint64
	JunctionFailures uint64
	VehicleFailures  uint64
}

type Synchronizer struct {
	source   Source
	resolver *geo.Resolver
	loop     *poll.Loop

	mu       sync.RWMutex
	snapshot models.Snapshot

	junctionFailures atomic.Uint64
	vehicleFailures  atomic.Uint64
}

func New(source Source, resolver *geo.Resolver, interval time.Duration) *Synchronizer {
	s := &Synchronizer{
		source:   source,
		resolver: resolver,
	}
	s.loop = &poll.Loop{Name: "telemetry", Interval: interval, Fn: s.Refresh}
	return s
}

// Run refreshes immediately and then on every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	s.loop.Run(ctx)
}

// Refresh fetches junctions and vehicles independently. A source that fails
// keeps its previous data in the published snapshot; the other source is
// still updated.
func (s *Synchronizer) Refresh(ctx context.Context) {
	start := time.Now()

	var g errgroup.Group
	var junctions []models.JunctionSnapshot
	var vehicles []models.VehicleSnapshot
	var junctionErr, vehicleErr error
	g.Go(func() error {
		junctions, junctionErr = s.source.Junctions(ctx)
		return nil
	})
	g.Go(func() error {
		vehicles, vehicleErr = s.source.Vehicles(ctx)
		return nil
	})
	_ = g.Wait()

	if junctionErr == nil {
		junctions = s.place(junctions)
	}
	duration := time.Since(start)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot
	next.LastRefresh = now
	next.RefreshDuration = duration

	if junctionErr != nil {
		s.junctionFailures.Add(1)
		slog.Error("junction refresh failed", "error", junctionErr)
		next.JunctionsError = junctionErr.Error()
	} else {
		next.Junctions = junctions
		next.JunctionsRefreshed = now
		next.JunctionsError = ""
	}

	if vehicleErr != nil {
		s.vehicleFailures.Add(1)
		slog.Error("vehicle refresh failed", "error", vehicleErr)
		next.VehiclesError = vehicleErr.Error()
	} else {
		next.Vehicles = vehicles
		next.VehiclesRefreshed = now
		next.VehiclesError = ""
	}

	if junctionErr == nil && vehicleErr == nil {
		slog.Info("refreshed telemetry", "junctions", len(junctions), "vehicles", len(vehicles), "durationMs", duration.Milliseconds())
	}

	s.snapshot = next
}

func (s *Synchronizer) place(junctions []models.JunctionSnapshot) []models.JunctionSnapshot {
	out := make([]models.JunctionSnapshot, len(junctions))
	for i, j := range junctions {
		pos, known := s.resolver.Junction(j.ID)
		if !known {
			slog.Debug("unknown junction, using default anchor", "junction", j.ID)
		}
		j.Position = pos
		out[i] = j
	}
	return out
}

func (s *Synchronizer) GetSnapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Synchronizer) Stats() Stats {
	ls := s.loop.Stats()
	return Stats{
		Ticks:            ls.Ticks,
		Skipped:          ls.Skipped,
		JunctionFailures: s.junctionFailures.Load(),
		VehicleFailures:  s.vehicleFailures.Load(),
	}
}
