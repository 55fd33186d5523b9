package domain

import (
	"fmt"
	"strings"
)

// TradeStatus is the closed set of lifecycle states reported by the backend.
type TradeStatus string

const (
	StatusPending          TradeStatus = "PENDING"
	StatusPaymentConfirmed TradeStatus = "PAYMENT_CONFIRMED"
	StatusCompleted        TradeStatus = "COMPLETED"
	StatusCancelled        TradeStatus = "CANCELLED"
	StatusExpired          TradeStatus = "EXPIRED"
	StatusFailed           TradeStatus = "FAILED"
)

var transitions = map[TradeStatus][]TradeStatus{
	StatusPending:          {StatusPaymentConfirmed, StatusCancelled, StatusExpired, StatusFailed},
	StatusPaymentConfirmed: {StatusCompleted},
}

// ParseTradeStatus accepts the backend's spelling in any case.
func ParseTradeStatus(v string) (TradeStatus, error) {
	s := TradeStatus(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusPaymentConfirmed, StatusCompleted, StatusCancelled, StatusExpired, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown trade status %q", v)
}

// UnmarshalText accepts the backend's spelling in any case. Values outside
// the closed set are kept upper-cased rather than failing the whole payload;
// check Known before acting on them.
func (s *TradeStatus) UnmarshalText(b []byte) error {
	*s = TradeStatus(strings.ToUpper(strings.TrimSpace(string(b))))
	return nil
}

// Known reports whether s is one of the lifecycle states.
func (s TradeStatus) Known() bool {
	_, err := ParseTradeStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no further transition can happen.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether next is a legal successor of s.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}
