package quote

import "tradectl/internal/domain"

// EventKind classifies orchestrator notifications.
type EventKind string

const (
	EventQuoted   EventKind = "quoted"
	EventRejected EventKind = "rejected"
	EventTick     EventKind = "tick"
	EventExpired  EventKind = "expired"
)

// Event is delivered to subscribers outside the orchestrator lock.
type Event struct {
	Kind             EventKind
	Input            Input
	Quote            domain.Quote
	SecondsRemaining int
	// Reason is set on EventRejected.
	Reason error
}
