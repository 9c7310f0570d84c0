// Package geo places platform identifiers on the map.
package geo

import "github.com/joluc/junction-console/pkg/models"

// Anchor is the map centre and the fallback position for unknown junctions.
var Anchor = models.Coordinate{Lat: 12.9716, Lon: 77.5946}

// PlanarScale converts simulation metres to degrees of offset from Anchor.
const PlanarScale = 1000.0

var junctionPositions = map[string]models.Coordinate{
	"J0": {Lat: 12.9716, Lon: 77.5946},
	"J1": {Lat: 12.9750, Lon: 77.6000},
	"J2": {Lat: 12.9680, Lon: 77.5900},
	"J3": {Lat: 12.9800, Lon: 77.5950},
	"J4": {Lat: 12.9650, Lon: 77.6050},
}

// Resolver is a fixed lookup table. The zero value is not usable; use
// NewResolver or DefaultResolver.
type Resolver struct {
	positions map[string]models.Coordinate
	fallback  models.Coordinate
}

func NewResolver(positions map[string]models.Coordinate, fallback models.Coordinate) *Resolver {
	copied := make(map[string]models.Coordinate, len(positions))
	for id, pos := range positions {
		copied[id] = pos
	}
	return &Resolver{positions: copied, fallback: fallback}
}

func DefaultResolver() *Resolver {
	return NewResolver(junctionPositions, Anchor)
}

// Junction returns the position of a junction, or the fallback anchor when
// the id is unknown. The boolean reports whether the id was known.
func (r *Resolver) Junction(id string) (models.Coordinate, bool) {
	pos, ok := r.positions[id]
	if !ok {
		return r.fallback, false
	}
	return pos, true
}

// Project maps a planar vehicle offset onto map coordinates around the anchor.
func (r *Resolver) Project(p models.PlanarPosition) models.Coordinate {
	return models.Coordinate{
		Lat: r.fallback.Lat + p.Y/PlanarScale,
		Lon: r.fallback.Lon + p.X/PlanarScale,
	}
}
