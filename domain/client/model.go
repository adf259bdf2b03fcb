// Package client holds the ClientProfile entity: the one-to-one wallet
// record for a client user.
package client

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoReload captures optional auto top-up parameters.
type AutoReload struct {
	Enabled   bool
	Threshold decimal.Decimal
	Amount    decimal.Decimal
}

// Profile is the one-to-one wallet record for a client user. Invariant:
// Balance >= 0 at all times observable outside a transaction.
type Profile struct {
	UserID       string
	Balance      decimal.Decimal
	TotalSpent   decimal.Decimal
	AutoReload   *AutoReload
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasReserve reports whether the profile's balance covers the given
// per-minute rate's three-minute reserve (spec section 4.1).
func (p Profile) HasReserve(ratePerMin decimal.Decimal) bool {
	reserve := ratePerMin.Mul(decimal.NewFromInt(3))
	return p.Balance.GreaterThanOrEqual(reserve)
}
