package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned for status changes missing from a
	// lifecycle's transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: %s -> %s: %v", e.Entity, e.ID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type SOSStatus string

const (
	SOSActive     SOSStatus = "active"
	SOSResponding SOSStatus = "responding"
	SOSDispatched SOSStatus = "dispatched"
	SOSCompleted  SOSStatus = "completed"
	SOSCancelled  SOSStatus = "cancelled"
)

var sosTransitions = map[SOSStatus][]SOSStatus{
	SOSActive:     {SOSResponding, SOSDispatched, SOSCancelled},
	SOSResponding: {SOSDispatched, SOSCompleted, SOSCancelled},
	SOSDispatched: {SOSCompleted, SOSCancelled},
}

// ParseSOSStatus maps a wire value onto the lifecycle. The platform creates
// alerts as "received", which is the same state as active.
func ParseSOSStatus(value string) (SOSStatus, error) {
	switch s := SOSStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case "received", "":
		return SOSActive, nil
	case SOSActive, SOSResponding, SOSDispatched, SOSCompleted, SOSCancelled:
		return s, nil
	}
	return SOSStatus(value), fmt.Errorf("%w: sos %q", ErrUnknownStatus, value)
}

func (s SOSStatus) Terminal() bool {
	return s == SOSCompleted || s == SOSCancelled
}

// Next lists the statuses an officer may move an alert to from s.
func (s SOSStatus) Next() []SOSStatus {
	return append([]SOSStatus(nil), sosTransitions[s]...)
}

func (s SOSStatus) CanTransitionTo(target SOSStatus) bool {
	for _, next := range sosTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// UnmarshalJSON keeps unknown values verbatim so a newer server status does
// not fail the whole list; such alerts simply offer no transitions.
func (s *SOSStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, _ := ParseSOSStatus(raw)
	*s = parsed
	return nil
}

type ViolationStatus string

const (
	ViolationPending     ViolationStatus = "pending"
	ViolationApproved    ViolationStatus = "approved"
	ViolationRejected    ViolationStatus = "rejected"
	ViolationUnderReview ViolationStatus = "under_review"
)

var violationTransitions = map[ViolationStatus][]ViolationStatus{
	ViolationPending: {ViolationApproved, ViolationRejected, ViolationUnderReview},
}

func ParseViolationStatus(value string) (ViolationStatus, error) {
	switch s := ViolationStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case ViolationPending, ViolationApproved, ViolationRejected, ViolationUnderReview:
		return s, nil
	}
	return ViolationStatus(value), fmt.Errorf("%w: violation %q", ErrUnknownStatus, value)
}

func (s ViolationStatus) Next() []ViolationStatus {
	return append([]ViolationStatus(nil), violationTransitions[s]...)
}

func (s ViolationStatus) CanTransitionTo(target ViolationStatus) bool {
	for _, next := range violationTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}
