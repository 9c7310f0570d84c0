package models

import "math"

type ViolationType string

const (
	RedLightViolation ViolationType = "RED_LIGHT_VIOLATION"
	SpeedingViolation ViolationType = "SPEEDING_VIOLATION"
	WrongSideDriving  ViolationType = "WRONG_SIDE_DRIVING"
	IllegalParking    ViolationType = "ILLEGAL_PARKING"
	MobilePhoneUse    ViolationType = "MOBILE_PHONE_USE"
	SeatBeltViolation ViolationType = "SEAT_BELT_VIOLATION"
)

var ViolationTypes = []ViolationType{
	RedLightViolation,
	SpeedingViolation,
	WrongSideDriving,
	IllegalParking,
	MobilePhoneUse,
	SeatBeltViolation,
}

type Evidence struct {
	Photo      string  `json:"photo,omitempty"`
	Video      string  `json:"video,omitempty"`
	Confidence float64 `json:"confidence"`
}

type Violation struct {
	ID            string          `json:"id"`
	VehicleID     string          `json:"vehicle_id"`
	ViolationType ViolationType   `json:"violation_type"`
	Location      string          `json:"location"`
	Timestamp     Time            `json:"timestamp"`
	FineAmount    float64         `json:"fine_amount"`
	Status        ViolationStatus `json:"status"`
	Evidence      *Evidence       `json:"evidence,omitempty"`
	Speed         *float64        `json:"speed,omitempty"`
	SpeedLimit    *float64        `json:"speed_limit,omitempty"`
	OfficerNotes  string          `json:"officer_notes"`
}

// ExcessSpeed returns how far the recorded speed exceeded the limit, or
// false when either value is missing.
func (v Violation) ExcessSpeed() (float64, bool) {
	if v.Speed == nil || v.SpeedLimit == nil {
		return 0, false
	}
	return math.Max(0, *v.Speed-*v.SpeedLimit), true
}

// ViolationStatusUpdate is the body of PUT violations/{id}/status.
type ViolationStatusUpdate struct {
	Status       ViolationStatus `json:"status"`
	OfficerNotes string          `json:"officer_notes"`
	ProcessedBy  string          `json:"processed_by"`
	ProcessedAt  Time            `json:"processed_at"`
}

// AnalyticsSummary is computed server-side and displayed as is.
type AnalyticsSummary struct {
	TotalViolations   int                   `json:"total_violations"`
	PendingViolations int                   `json:"pending_violations"`
	TotalFineAmount   float64               `json:"total_fine_amount"`
	AverageFine       float64               `json:"average_fine"`
	ViolationTypes    map[ViolationType]int `json:"violation_types,omitempty"`
}
