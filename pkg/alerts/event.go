// Package alerts listens to the platform's push channel and turns SOS events
// into refresh requests, a transient "new alert" flag and notifications.
package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joluc/junction-console/pkg/models"
)

const TypeSOSAlert = "sos_alert"

var (
	ErrMalformedEvent = errors.New("malformed push event")
	ErrUnknownEvent   = errors.New("unknown push event type")
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sosPayload struct {
	SOSID         string               `json:"sos_id"`
	ID            string               `json:"id"`
	EmergencyType models.EmergencyType `json:"emergency_type"`
	Priority      int                  `json:"priority"`
}

// ParseSOSEvent decodes a push frame. The returned alert is a hint only: it
// carries whatever the event had (id, type, priority) and is never a
// confirmed record.
func ParseSOSEvent(frame []byte) (models.SOSAlert, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return models.SOSAlert{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch strings.TrimSpace(env.Type) {
	case "":
		return models.SOSAlert{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	case TypeSOSAlert:
	default:
		return models.SOSAlert{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	var data sosPayload
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return models.SOSAlert{}, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
		}
	}

	id := data.SOSID
	if id == "" {
		id = data.ID
	}
	return models.SOSAlert{
		ID:            strings.TrimSpace(id),
		EmergencyType: data.EmergencyType,
		Priority:      data.Priority,
		Status:        models.SOSActive,
	}, nil
}
