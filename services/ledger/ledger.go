// Package ledger is the single source of truth for monetary movement:
// deposits, session settlement, payouts, and refunds, all inside row-locked
// transactions keyed by the storage layer.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainledger "github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/metrics"
	"github.com/orbitline/sessioncore/storage"
)

// PlatformFeeFraction is the operator's fixed share of every session total.
var PlatformFeeFraction = decimal.NewFromFloat(0.30)

// Ledger wraps storage.LedgerStore with the business rules of section 4.2.
type Ledger struct {
	store storage.LedgerStore
}

func New(store storage.LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Deposit credits a client's balance, idempotent by externalRef.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*domainledger.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apierrors.Validation("deposit amount must be positive")
	}
	now := time.Now().UTC()
	t := &domainledger.Transaction{
		ID: uuid.NewString(), UserID: userID, Type: domainledger.TransactionDeposit,
		Amount: amount, Status: domainledger.TransactionCompleted, ExternalRef: externalRef,
		CreatedAt: now, UpdatedAt: now,
	}
	result, err := l.store.RecordDeposit(ctx, t)
	if err != nil {
		return nil, apierrors.Internal("failed to record deposit", err)
	}
	return result, nil
}

// InitDeposit opens a payment-intent-backed deposit: the transaction is
// journaled as pending and the balance is not touched until ConfirmDeposit
// observes the processor's webhook.
func (l *Ledger) InitDeposit(ctx context.Context, userID string, amount decimal.Decimal) (*domainledger.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apierrors.Validation("deposit amount must be positive")
	}
	now := time.Now().UTC()
	t := &domainledger.Transaction{
		ID: uuid.NewString(), UserID: userID, Type: domainledger.TransactionDeposit,
		Amount: amount, Status: domainledger.TransactionPending, ExternalRef: uuid.NewString(),
		CreatedAt: now, UpdatedAt: now,
	}
	result, err := l.store.RecordPendingDeposit(ctx, t)
	if err != nil {
		return nil, apierrors.Internal("failed to record pending deposit", err)
	}
	return result, nil
}

// ConfirmDeposit is driven by the payment processor's webhook (spec section
// C.3): it credits the client's balance exactly once per externalRef.
func (l *Ledger) ConfirmDeposit(ctx context.Context, externalRef string) (*domainledger.Transaction, error) {
	t, err := l.store.ConfirmDeposit(ctx, externalRef)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("no deposit found for that reference")
		}
		return nil, apierrors.Internal("failed to confirm deposit", err)
	}
	return t, nil
}

// FailDeposit marks a pending deposit failed without crediting the balance.
func (l *Ledger) FailDeposit(ctx context.Context, externalRef string) (*domainledger.Transaction, error) {
	t, err := l.store.FailDeposit(ctx, externalRef)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("no deposit found for that reference")
		}
		return nil, apierrors.Internal("failed to fail deposit", err)
	}
	return t, nil
}

// SettleSessionResult carries the final, possibly pro-rata-scaled, amounts
// a settlement computed, so the orchestrator can write them back onto the
// session row it already holds.
type SettleSessionResult struct {
	TotalAmount    decimal.Decimal
	PlatformFee    decimal.Decimal
	ReaderEarnings decimal.Decimal
	Partial        bool
}

// SettleSession debits the client, credits the reader's pending balance,
// and journals both legs atomically. sess.TotalAmount/PlatformFee/
// ReaderEarnings must already hold the full (unscaled) computed charge;
// SettleSession scales them down pro-rata if the client's balance can't
// cover the full amount.
func (l *Ledger) SettleSession(ctx context.Context, sess *session.Session) (SettleSessionResult, error) {
	var result SettleSessionResult
	fullTotal := sess.TotalAmount

	err := l.store.SettleSession(ctx, sess, func(clientBalance, _ decimal.Decimal) (debit, credit, fee decimal.Decimal, err error) {
		charged := fullTotal
		partial := false
		if clientBalance.LessThan(fullTotal) {
			charged = clientBalance
			partial = true
		}

		var scaledFee decimal.Decimal
		if fullTotal.IsZero() {
			scaledFee = decimal.Zero
		} else {
			ratio := charged.Div(fullTotal)
			scaledFee = sess.PlatformFee.Mul(ratio).RoundBank(2)
		}
		scaledEarnings := charged.Sub(scaledFee)

		result = SettleSessionResult{TotalAmount: charged, PlatformFee: scaledFee, ReaderEarnings: scaledEarnings, Partial: partial}
		return charged, scaledEarnings, scaledFee, nil
	})
	if err != nil {
		return SettleSessionResult{}, apierrors.Internal("failed to settle session", err)
	}

	sess.TotalAmount = result.TotalAmount
	sess.PlatformFee = result.PlatformFee
	sess.ReaderEarnings = result.ReaderEarnings
	sess.PartialSettled = result.Partial

	metrics.RecordSettlement(result.TotalAmount.InexactFloat64(), result.Partial)
	return result, nil
}

// ComputeCharge applies the fixed 70/30 split to a whole-minute billed
// amount using half-even rounding on the fee, deriving earnings by
// subtraction so earnings+fee==total always holds exactly.
func ComputeCharge(ratePerMin decimal.Decimal, minutesBilled int) (total, fee, earnings decimal.Decimal) {
	total = ratePerMin.Mul(decimal.NewFromInt(int64(minutesBilled))).Round(2)
	fee = total.Mul(PlatformFeeFraction).RoundBank(2)
	earnings = total.Sub(fee)
	return total, fee, earnings
}

// RecordPayout moves a reader's pending balance into a pending payout
// transaction; the caller (payout scheduler) drives it to completed/failed
// after invoking the external transfer.
func (l *Ledger) RecordPayout(ctx context.Context, readerID string, amount decimal.Decimal) (*domainledger.Transaction, error) {
	t, err := l.store.RecordPayout(ctx, readerID, amount)
	if err != nil {
		return nil, apierrors.Internal("failed to record payout", err)
	}
	return t, nil
}

func (l *Ledger) MarkPayoutStatus(ctx context.Context, transactionID string, status domainledger.TransactionStatus) error {
	if err := l.store.MarkPayoutStatus(ctx, transactionID, status); err != nil {
		return apierrors.Internal("failed to update payout status", err)
	}
	return nil
}

// SweepStaleProcessing fails payouts stuck pending past olderThan. Called
// once at scheduler startup so a crash mid-transfer can't strand funds.
func (l *Ledger) SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := l.store.SweepStaleProcessing(ctx, olderThan)
	if err != nil {
		return 0, apierrors.Internal("failed to sweep stale payouts", err)
	}
	return n, nil
}

// Refund implements spec section 4.2's refund(transaction_id, reason):
// admin-only, marks the original transaction refunded and journals a new
// refund row, crediting the user's balance only when the original moved
// money out of it.
func (l *Ledger) Refund(ctx context.Context, transactionID, reason string) (*domainledger.Transaction, error) {
	t, err := l.store.RefundTransaction(ctx, transactionID, reason)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("transaction not found")
		}
		if err == storage.ErrConflict {
			return nil, apierrors.Conflict("transaction already refunded")
		}
		return nil, apierrors.Internal("failed to record refund", err)
	}
	return t, nil
}

// GetTransaction looks up a single journal row, used by the admin refund
// endpoint to validate before acting.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*domainledger.Transaction, error) {
	t, err := l.store.GetByID(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("transaction not found")
		}
		return nil, apierrors.Internal("failed to look up transaction", err)
	}
	return t, nil
}

func (l *Ledger) ListByUser(ctx context.Context, userID string, limit int) ([]*domainledger.Transaction, error) {
	txs, err := l.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apierrors.Internal("failed to list transactions", err)
	}
	return txs, nil
}

// GetByExternalRef backs webhook idempotency: a repeated payment-intent
// notification is recognized and dropped rather than double-applied.
func (l *Ledger) GetByExternalRef(ctx context.Context, externalRef string) (*domainledger.Transaction, error) {
	t, err := l.store.GetByExternalRef(ctx, externalRef)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, apierrors.Internal("failed to look up transaction", err)
	}
	return t, nil
}
