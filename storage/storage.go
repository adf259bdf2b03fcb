// Package storage defines the persistence ports consumed by services. Two
// implementations exist: postgres (production) and memory (tests).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/review"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/domain/user"
)

// ErrNotFound is returned by any lookup that finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write would violate a uniqueness or
// optimistic-concurrency invariant (duplicate external_ref, stale version).
var ErrConflict = errors.New("storage: conflict")

// UserStore persists identity-linked user rows.
type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByExternalSub(ctx context.Context, sub string) (*user.User, error)
}

// ClientStore persists client wallet profiles.
type ClientStore interface {
	Create(ctx context.Context, p *client.Profile) error
	Get(ctx context.Context, userID string) (*client.Profile, error)
	// UpdateBalance applies delta (positive or negative) to Balance and adds
	// spent (non-negative) to TotalSpent, atomically, returning the new
	// balance. Implementations must serialize concurrent calls per userID.
	UpdateBalance(ctx context.Context, userID string, delta, spent decimal.Decimal) (decimal.Decimal, error)
}

// ReaderStore persists reader earning/presence profiles.
type ReaderStore interface {
	Create(ctx context.Context, p *reader.Profile) error
	Get(ctx context.Context, userID string) (*reader.Profile, error)
	Update(ctx context.Context, p *reader.Profile) error
	// CompareAndSwapPresence atomically transitions a reader's presence from
	// `from` to `to` in a single round-trip ("UPDATE ... WHERE presence =
	// from" in Postgres; a check-then-set under the store's single mutex in
	// memory) and reports whether the swap applied. ok=false, err=nil means
	// the reader's presence no longer matched `from` at the moment of the
	// attempt — the race-losing path of sections 4.1/4.3/5, never a storage
	// failure.
	CompareAndSwapPresence(ctx context.Context, userID string, from, to user.Presence) (ok bool, p *reader.Profile, err error)
	ListAvailable(ctx context.Context) ([]*reader.Profile, error)
	// ListEligibleForPayout returns active-account readers whose
	// PendingBalance is at least minPayout.
	ListEligibleForPayout(ctx context.Context, minPayout decimal.Decimal) ([]*reader.Profile, error)
}

// SessionStore persists consultation sessions.
type SessionStore interface {
	Create(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, s *session.Session) error
	// WithLock loads the session row under a row-level lock ("SELECT ... FOR
	// UPDATE" in Postgres; a per-session mutex held for fn's duration in
	// memory), invokes fn with the locked row, persists it when fn reports
	// persist=true, and releases the lock on return. This is section 5's
	// only hard concurrency requirement: every state-changing orchestrator
	// operation (accept, decline, end, the timeout sweep) serialises per
	// session through this call so two such operations for the same session
	// can never interleave.
	WithLock(ctx context.Context, id string, fn func(*session.Session) (persist bool, err error)) (*session.Session, error)
	// ListPendingOlderThan returns pending sessions requested before cutoff,
	// used by the timeout sweep.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*session.Session, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*session.Session, error)
	ListByReader(ctx context.Context, readerID string, limit int) ([]*session.Session, error)
}

// LedgerStore persists the append-only transaction journal and performs the
// atomic multi-row settlement writes.
type LedgerStore interface {
	// RecordDeposit inserts a completed deposit transaction, idempotent by
	// ExternalRef: a repeat call with the same ExternalRef returns the
	// original row and ErrConflict-free success without double-crediting.
	RecordDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error)

	// RecordPendingDeposit inserts a deposit transaction in status pending
	// without crediting the balance, idempotent by ExternalRef (the payment
	// processor's intent id): a repeat call returns the original row.
	RecordPendingDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error)
	// ConfirmDeposit moves a pending deposit to completed and credits the
	// client's balance, idempotent: a repeat call with the same externalRef
	// returns the already-completed row without double-crediting.
	ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error)
	// FailDeposit moves a pending deposit to failed without touching the
	// balance, idempotent.
	FailDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error)

	// SettleSession atomically: locks the client and reader rows in
	// ascending-ID order, debits the client, credits the reader's pending
	// balance, and writes the paired payment/earning transactions. It does
	// not write the session row; the caller persists that. apply receives
	// the locked, in-transaction balances and must return the amounts to move.
	SettleSession(ctx context.Context, sess *session.Session, apply func(clientBalance, readerPending decimal.Decimal) (debit, credit, fee decimal.Decimal, err error)) error

	// RecordPayout inserts a payout transaction and deducts amount from the
	// reader's pending balance in the same transaction, returning the new
	// transaction row in status pending.
	RecordPayout(ctx context.Context, readerID string, amount decimal.Decimal) (*ledger.Transaction, error)
	MarkPayoutStatus(ctx context.Context, transactionID string, status ledger.TransactionStatus) error
	// SweepStaleProcessing marks payout transactions stuck in pending for
	// longer than olderThan as failed, restoring the reader's pending
	// balance. Used on scheduler restart.
	SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error)

	// GetByID looks up a single journal row by primary key.
	GetByID(ctx context.Context, id string) (*ledger.Transaction, error)
	// RefundTransaction implements spec section 4.2's admin refund: it marks
	// transactionID refunded and appends a new refund row, crediting the
	// user's balance only when the original was a deposit or reading_payment.
	// Returns ErrConflict if the original is already refunded.
	RefundTransaction(ctx context.Context, transactionID, reason string) (*ledger.Transaction, error)

	ListByUser(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*ledger.Transaction, error)
}

// ReviewStore persists client reviews of completed sessions.
type ReviewStore interface {
	Create(ctx context.Context, r *review.Review) error
	GetByID(ctx context.Context, id string) (*review.Review, error)
	GetBySession(ctx context.Context, sessionID string) (*review.Review, error)
	ListByReader(ctx context.Context, readerID string, limit int) ([]*review.Review, error)
	UpdateResponse(ctx context.Context, id string, response string) error
}

// NotificationStore persists the per-user notification inbox.
type NotificationStore interface {
	Create(ctx context.Context, n *notification.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error)
	MarkRead(ctx context.Context, id string, userID string) error
}
