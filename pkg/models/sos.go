package models

import "strings"

type EmergencyType string

const (
	EmergencyMedical  EmergencyType = "medical"
	EmergencyFire     EmergencyType = "fire"
	EmergencyAccident EmergencyType = "accident"
	EmergencyCrime    EmergencyType = "crime"
	EmergencyGeneral  EmergencyType = "general"
)

// Known reports whether t is one of the emergency kinds the console renders
// distinctly. Unknown kinds are kept as sent and rendered as general.
func (t EmergencyType) Known() bool {
	switch EmergencyType(strings.ToLower(string(t))) {
	case EmergencyMedical, EmergencyFire, EmergencyAccident, EmergencyCrime, EmergencyGeneral:
		return true
	}
	return false
}

type AlertLocation struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

type GreenCorridor struct {
	Route     []string `json:"route"`
	Duration  int      `json:"duration"`
	CreatedAt Time     `json:"created_at"`
}

// SOSAlert is the console's copy of a server-side emergency record. Only
// Status changes after creation, and only through a confirmed round trip.
type SOSAlert struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id,omitempty"`
	EmergencyType EmergencyType  `json:"emergency_type"`
	Priority      int            `json:"priority"`
	Location      AlertLocation  `json:"location"`
	Timestamp     Time           `json:"timestamp"`
	Status        SOSStatus      `json:"status"`
	Description   string         `json:"description,omitempty"`
	Contact       string         `json:"contact,omitempty"`
	GreenCorridor *GreenCorridor `json:"green_corridor,omitempty"`
}

// SOSStatusUpdate is the body of PUT sos/{id}/status.
type SOSStatusUpdate struct {
	Status       SOSStatus `json:"status"`
	ResponseTime Time      `json:"response_time"`
	OfficerID    string    `json:"officer_id"`
}
