// Package ledger holds the Transaction entity: the append-only journal row
// written by every balance-moving operation.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a journal row.
type TransactionType string

const (
	TransactionDeposit        TransactionType = "deposit"
	TransactionReadingPayment TransactionType = "reading_payment"
	TransactionReadingEarning TransactionType = "reading_earning"
	TransactionPayout         TransactionType = "payout"
	TransactionRefund         TransactionType = "refund"
	TransactionGift           TransactionType = "gift"
	TransactionShopPurchase   TransactionType = "shop_purchase"
)

// TransactionStatus tracks the external processor's view of a row.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is an append-only journal row. Rows are never updated except
// for Status; all other fields are immutable once written.
type Transaction struct {
	ID          string
	UserID      string
	SessionID   string // optional, empty when not session-linked
	Type        TransactionType
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      TransactionStatus
	ExternalRef string // optional external processor reference
	RefundOf    string // for Type==refund, the ID of the transaction it reverses
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NetAmount is Amount - Fee, derived rather than stored redundantly.
func (t Transaction) NetAmount() decimal.Decimal {
	return t.Amount.Sub(t.Fee)
}
