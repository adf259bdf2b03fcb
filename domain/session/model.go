// Package session holds the Session entity and its finite state machine:
// the consultation between a client and a reader, priced per whole started
// minute.
package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the session modality.
type Type string

const (
	TypeChat  Type = "chat"
	TypeVoice Type = "voice"
	TypeVideo Type = "video"
)

// ValidType reports whether t is a recognized session modality.
func ValidType(t Type) bool {
	switch t {
	case TypeChat, TypeVoice, TypeVideo:
		return true
	default:
		return false
	}
}

// Status is a Session's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDisputed:
		return true
	default:
		return false
	}
}

// transitions enumerates every legal (from, to) pair of the FSM in spec
// section 4.1. No other transition exists.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusActive: true, StatusCancelled: true},
	StatusActive:  {StatusCompleted: true, StatusDisputed: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal FSM
// edge.
func CanTransition(from, to Status) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Session is one consultation. RatePerMin is frozen at request time and
// never changes afterward. External channel names, once set, never change.
type Session struct {
	ID              string
	ClientID        string
	ReaderID        string
	Type            Type
	Status          Status
	RatePerMin      decimal.Decimal
	RequestedAt     time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds int
	TotalAmount     decimal.Decimal
	PlatformFee     decimal.Decimal
	ReaderEarnings  decimal.Decimal
	RTCChannel      string
	PubSubChannel   string
	PartialSettled  bool
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reserve returns the minimum client balance required to request a session
// at the given rate (three times the per-minute rate, spec section 4.1).
func Reserve(ratePerMin decimal.Decimal) decimal.Decimal {
	return ratePerMin.Mul(decimal.NewFromInt(3))
}

// BillingWindow returns the whole-minute billing quantities for a session
// that ran from start to end: minutes billed (ceil, minimum 1) and the
// duration in whole seconds (minimum 1). Billing is per whole started
// minute; this is intentional anti-abuse behavior and must not be "fixed"
// to special-case zero-length sessions (spec section 9, open question 1).
func BillingWindow(start, end time.Time) (durationSeconds int, minutesBilled int) {
	durationSeconds = int(end.Sub(start).Seconds())
	if durationSeconds < 1 {
		durationSeconds = 1
	} else {
		// Round partial seconds up: a session lasting 1.2s bills as 2s of
		// wall-clock duration before being rolled into whole minutes.
		if frac := end.Sub(start) - time.Duration(durationSeconds)*time.Second; frac > 0 {
			durationSeconds++
		}
	}
	minutesBilled = (durationSeconds + 59) / 60
	if minutesBilled < 1 {
		minutesBilled = 1
	}
	return durationSeconds, minutesBilled
}
