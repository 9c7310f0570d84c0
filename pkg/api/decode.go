package api

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/joluc/junction-console/pkg/models"
)

// ExtractJunctions reads the junction telemetry payload. The platform sends
// a mapping from junction id to metrics; a list of objects carrying an "id"
// is accepted too. Entries without an id are skipped. Junctions are returned
// sorted by id and without positions.
func ExtractJunctions(payload any) []models.JunctionSnapshot {
	var out []models.JunctionSnapshot
	switch value := payload.(type) {
	case map[string]any:
		for id, raw := range value {
			item, ok := raw.(map[string]any)
			if !ok || strings.TrimSpace(id) == "" {
				continue
			}
			out = append(out, parseJunction(strings.TrimSpace(id), item))
		}
	case []any:
		for _, raw := range value {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id := getID(item, "id", "junction_id")
			if id == "" {
				continue
			}
			out = append(out, parseJunction(id, item))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parseJunction(id string, item map[string]any) models.JunctionSnapshot {
	vehicles, _ := getNumber(item, "vehicles_count", "vehicles")
	speed, _ := getNumber(item, "avg_speed")
	efficiency, _ := getNumber(item, "efficiency")
	waiting, _ := getNumber(item, "waiting_time")
	queue, _ := getNumber(item, "queue_length")
	green, _ := getNumber(item, "green_duration")
	red, _ := getNumber(item, "red_duration")

	return models.JunctionSnapshot{
		ID:            id,
		VehiclesCount: nonNegativeInt(vehicles),
		AvgSpeed:      nonNegative(speed),
		Efficiency:    clamp(efficiency, 0, 100),
		WaitingTime:   nonNegative(waiting),
		QueueLength:   nonNegativeInt(queue),
		GreenDuration: nonNegativeInt(green),
		RedDuration:   nonNegativeInt(red),
	}
}

// ExtractVehicles reads the vehicle telemetry payload, a list of vehicle
// records. Records without an id are skipped; order is preserved.
func ExtractVehicles(payload any) []models.VehicleSnapshot {
	items, ok := payload.([]any)
	if !ok {
		return nil
	}

	out := make([]models.VehicleSnapshot, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id := getID(item, "id")
		if id == "" {
			continue
		}

		var pos models.PlanarPosition
		if p, ok := item["position"].(map[string]any); ok {
			pos.X, _ = getNumber(p, "x")
			pos.Y, _ = getNumber(p, "y")
		}
		speed, _ := getNumber(item, "speed")

		out = append(out, models.VehicleSnapshot{
			ID:       id,
			Type:     strings.ToLower(strings.TrimSpace(getString(item, "type"))),
			Position: pos,
			Speed:    nonNegative(speed),
		})
	}
	return out
}

func getString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := item[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func getID(item map[string]any, keys ...string) string {
	for _, key := range keys {
		raw, ok := item[key]
		if !ok || raw == nil {
			continue
		}
		if id := toID(raw); id != "" {
			return id
		}
	}
	return ""
}

func toID(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func getNumber(item map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := item[key]
		if !ok || raw == nil {
			continue
		}
		if value, ok := toFloat64(raw); ok {
			return value, true
		}
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNegative(v float64) float64 {
	return math.Max(0, v)
}

// nonNegativeInt saturates at math.MaxInt32 instead of overflowing.
func nonNegativeInt(v float64) int {
	return int(math.Round(clamp(v, 0, math.MaxInt32)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
