package models

import "time"

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PlanarPosition is a vehicle offset in the simulation's local frame, in metres.
type PlanarPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// JunctionSnapshot holds one junction's metrics for a single tick. Speeds are
// km/h, durations and waiting time are seconds, efficiency is a percentage.
type JunctionSnapshot struct {
	ID            string     `json:"id"`
	Position      Coordinate `json:"position"`
	VehiclesCount int        `json:"vehicles_count"`
	AvgSpeed      float64    `json:"avg_speed"`
	Efficiency    float64    `json:"efficiency"`
	WaitingTime   float64    `json:"waiting_time"`
	QueueLength   int        `json:"queue_length"`
	GreenDuration int        `json:"green_duration"`
	RedDuration   int        `json:"red_duration,omitempty"`
}

type VehicleSnapshot struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position PlanarPosition `json:"position"`
	Speed    float64        `json:"speed"`
}

// Emergency reports whether the vehicle should be highlighted as an emergency responder.
func (v VehicleSnapshot) Emergency() bool {
	switch v.Type {
	case "ambulance", "fire_truck", "fire", "police":
		return true
	}
	return false
}

// Snapshot is one published view of live telemetry. A Snapshot is never
// modified after it has been handed out; each refresh builds a new one.
type Snapshot struct {
	Junctions []JunctionSnapshot
	Vehicles  []VehicleSnapshot

	JunctionsRefreshed time.Time
	VehiclesRefreshed  time.Time
	LastRefresh        time.Time
	RefreshDuration    time.Duration

	JunctionsError string
	VehiclesError  string
}

// Healthy reports whether the most recent tick refreshed both sources.
func (s Snapshot) Healthy() bool {
	return !s.LastRefresh.IsZero() && s.JunctionsError == "" && s.VehiclesError == ""
}
