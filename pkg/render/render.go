// Package render holds the presentation rules shared by every view of the
// console: marker colours and sizes, severity classes and number formats.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joluc/junction-console/pkg/geo"
	"github.com/joluc/junction-console/pkg/models"
)

type Class string

const (
	High   Class = "high"
	Medium Class = "medium"
	Low    Class = "low"
)

type Color string

const (
	Green  Color = "green"
	Orange Color = "orange"
	Red    Color = "red"
)

// JunctionColor grades a junction by signal efficiency in percent.
func JunctionColor(efficiency float64) Color {
	switch {
	case efficiency >= 85:
		return Green
	case efficiency >= 70:
		return Orange
	default:
		return Red
	}
}

// JunctionRadius is the marker radius in metres.
func JunctionRadius(vehicles int) float64 {
	return float64(vehicles) * 10
}

func PriorityClass(priority int) Class {
	switch {
	case priority >= 9:
		return High
	case priority >= 7:
		return Medium
	default:
		return Low
	}
}

func SeverityClass(fine float64) Class {
	switch {
	case fine >= 1000:
		return High
	case fine >= 500:
		return Medium
	default:
		return Low
	}
}

var statusColors = map[models.ViolationStatus]string{
	models.ViolationPending:     "#ff9800",
	models.ViolationApproved:    "#4caf50",
	models.ViolationRejected:    "#f44336",
	models.ViolationUnderReview: "#2196f3",
}

func StatusColor(status models.ViolationStatus) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return "#9e9e9e"
}

// Rupees formats an amount as whole rupees, rounding half away from zero:
// 733.5 is ₹734 and 125000 is ₹125,000.
func Rupees(amount float64) string {
	return "₹" + humanize.Comma(int64(math.Round(amount)))
}

// Confidence formats a detection confidence in [0,1] as a whole percentage.
func Confidence(c float64) string {
	return fmt.Sprintf("%d%%", int64(math.Round(c*100)))
}

func ViolationLabel(t models.ViolationType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// EmergencyLabel renders unknown emergency kinds as general.
func EmergencyLabel(t models.EmergencyType) string {
	if !t.Known() {
		return string(models.EmergencyGeneral)
	}
	return strings.ToLower(string(t))
}

type JunctionMarker struct {
	models.JunctionSnapshot
	Color  Color   `json:"color"`
	Radius float64 `json:"radius"`
}

type VehicleMarker struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Position  models.Coordinate `json:"position"`
	Speed     float64           `json:"speed"`
	Emergency bool              `json:"emergency"`
}

type SOSMarker struct {
	ID            string            `json:"id"`
	EmergencyType string            `json:"emergency_type"`
	Priority      Class             `json:"priority"`
	Position      models.Coordinate `json:"position"`
	Corridor      []string          `json:"corridor,omitempty"`
}

type ViolationRow struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Severity    Class  `json:"severity"`
	Fine        string `json:"fine"`
	StatusColor string `json:"status_color"`
	Confidence  string `json:"confidence,omitempty"`
}

func JunctionMarkers(junctions []models.JunctionSnapshot) []JunctionMarker {
	out := make([]JunctionMarker, 0, len(junctions))
	for _, j := range junctions {
		out = append(out, JunctionMarker{
			JunctionSnapshot: j,
			Color:            JunctionColor(j.Efficiency),
			Radius:           JunctionRadius(j.VehiclesCount),
		})
	}
	return out
}

func VehicleMarkers(resolver *geo.Resolver, vehicles []models.VehicleSnapshot) []VehicleMarker {
	out := make([]VehicleMarker, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, VehicleMarker{
			ID:        v.ID,
			Type:      v.Type,
			Position:  resolver.Project(v.Position),
			Speed:     v.Speed,
			Emergency: v.Emergency(),
		})
	}
	return out
}

func NewSOSMarker(a models.SOSAlert) SOSMarker {
	m := SOSMarker{
		ID:            a.ID,
		EmergencyType: EmergencyLabel(a.EmergencyType),
		Priority:      PriorityClass(a.Priority),
		Position:      models.Coordinate{Lat: a.Location.Lat, Lon: a.Location.Lon},
	}
	if a.GreenCorridor != nil {
		m.Corridor = append([]string(nil), a.GreenCorridor.Route...)
	}
	return m
}

func NewViolationRow(v models.Violation) ViolationRow {
	row := ViolationRow{
		ID:          v.ID,
		Label:       ViolationLabel(v.ViolationType),
		Severity:    SeverityClass(v.FineAmount),
		Fine:        Rupees(v.FineAmount),
		StatusColor: StatusColor(v.Status),
	}
	if v.Evidence != nil {
		row.Confidence = Confidence(v.Evidence.Confidence)
	}
	return row
}
