// Package state defines the governance proposal lifecycle shared by the DAO
// engine, the event journal and the snapshot format. Transitions are
// one-directional: active -> passed -> executed, or active -> rejected.
package state

import (
	"encoding/json"
	"fmt"
)

// ProposalStatus represents the lifecycle status of a governance proposal.
type ProposalStatus int32

const (
	// StatusUnknown indicates an uninitialized or unrecognised status.
	StatusUnknown ProposalStatus = iota

	// StatusActive indicates the proposal is open for voting.
	StatusActive

	// StatusPassed indicates the vote succeeded and execution is pending.
	StatusPassed

	// StatusRejected indicates the vote failed or quorum was not reached.
	StatusRejected

	// StatusExecuted indicates a passed proposal has been executed.
	StatusExecuted
)

// String returns the string representation of the status.
func (s ProposalStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusActive:
		return "active"
	case StatusPassed:
		return "passed"
	case StatusRejected:
		return "rejected"
	case StatusExecuted:
		return "executed"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s ProposalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ProposalStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to ProposalStatus.
func ParseStatus(s string) ProposalStatus {
	switch s {
	case "active", "open":
		return StatusActive
	case "passed":
		return StatusPassed
	case "rejected", "failed":
		return StatusRejected
	case "executed":
		return StatusExecuted
	default:
		return StatusUnknown
	}
}

// IsTerminal returns true if no transition out of this status is permitted.
func (s ProposalStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusRejected
}

// IsOpen returns true if the proposal still accepts votes.
func (s ProposalStatus) IsOpen() bool {
	return s == StatusActive
}

// ValidTransitions defines allowed proposal transitions.
var ValidTransitions = map[ProposalStatus][]ProposalStatus{
	StatusActive: {StatusPassed, StatusRejected},
	StatusPassed: {StatusExecuted},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to ProposalStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns to when the move is permitted, or a TransitionError.
func Transition(from, to ProposalStatus) (ProposalStatus, error) {
	if !CanTransition(from, to) {
		return from, NewTransitionError(from, to)
	}
	return to, nil
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From ProposalStatus
	To   ProposalStatus
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid proposal transition: %s -> %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to ProposalStatus) TransitionError {
	return TransitionError{From: from, To: to}
}
