// Package reader holds the ReaderProfile entity: per-minute rates,
// availability/presence, pending earnings, and the external payout account
// handle.
package reader

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/domain/user"
)

// ExternalAccountStatus is the state of the reader's external payout
// account handle.
type ExternalAccountStatus string

const (
	ExternalAccountPending    ExternalAccountStatus = "pending"
	ExternalAccountActive     ExternalAccountStatus = "active"
	ExternalAccountRestricted ExternalAccountStatus = "restricted"
)

// Rates holds the three per-minute rates a reader charges.
type Rates struct {
	Chat  decimal.Decimal
	Voice decimal.Decimal
	Video decimal.Decimal
}

// RateFor returns the configured rate for the given session type.
func (r Rates) RateFor(t session.Type) (decimal.Decimal, bool) {
	switch t {
	case session.TypeChat:
		return r.Chat, true
	case session.TypeVoice:
		return r.Voice, true
	case session.TypeVideo:
		return r.Video, true
	default:
		return decimal.Zero, false
	}
}

// Profile is the one-to-one earning record for a reader user. Invariant:
// TotalEarned = PendingBalance + TotalPaidOut + outstanding in-flight
// payouts. Invariant: at most one session holds this reader in status
// InSession at any moment.
type Profile struct {
	UserID                string
	Rates                 Rates
	Available             bool
	Presence              user.Presence
	PendingBalance        decimal.Decimal
	TotalEarned           decimal.Decimal
	TotalPaidOut          decimal.Decimal
	Rating                float64
	ReviewCount           int
	TotalReadings         int
	ExternalAccountHandle string
	ExternalAccountStatus ExternalAccountStatus
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// EligibleForPayout reports whether the reader currently qualifies for an
// automated payout run (spec section 4.6).
func (p Profile) EligibleForPayout(minPayout decimal.Decimal) bool {
	return p.ExternalAccountStatus == ExternalAccountActive && p.PendingBalance.GreaterThanOrEqual(minPayout)
}
