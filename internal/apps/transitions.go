// Package apps tracks job applications and their status state machine.
//
// Valid status graph:
//
//	APPLIED ──► INTERVIEWING ──► OFFER ──► ACCEPTED
//	    │              │            │
//	    ├──────────────┼────────────┴──► REJECTED
//	    └──────────────┴───────────────► WITHDRAWN
//
// ACCEPTED, REJECTED and WITHDRAWN are terminal states.
package apps

import "fmt"

// Status values for an application.
type Status string

const (
	StatusApplied      Status = "APPLIED"
	StatusInterviewing Status = "INTERVIEWING"
	StatusOffer        Status = "OFFER"
	StatusAccepted     Status = "ACCEPTED"
	StatusRejected     Status = "REJECTED"
	StatusWithdrawn    Status = "WITHDRAWN"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusApplied:      {StatusInterviewing, StatusRejected, StatusWithdrawn},
	StatusInterviewing: {StatusOffer, StatusRejected, StatusWithdrawn},
	StatusOffer:        {StatusAccepted, StatusRejected, StatusWithdrawn},
	// ACCEPTED, REJECTED and WITHDRAWN are terminal — no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusApplied, StatusInterviewing, StatusOffer, StatusAccepted, StatusRejected, StatusWithdrawn:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by
// the state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when status has no outgoing transitions.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}

// IsAccepted returns true when status is ACCEPTED (stops polling-driven
// surfacing interest for the persona's search).
func IsAccepted(s Status) bool { return s == StatusAccepted }
