package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/storage"
)

// LedgerStore implements storage.LedgerStore on PostgreSQL.
type LedgerStore struct {
	DB *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{DB: db}
}

func (s *LedgerStore) RecordDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	if t.ExternalRef != "" {
		if existing, err := s.GetByExternalRef(ctx, t.ExternalRef); err == nil {
			return existing, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE client_profiles SET balance = balance + $1, updated_at = now() WHERE user_id = $2
	`, t.Amount, t.UserID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LedgerStore) RecordPendingDeposit(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	if t.ExternalRef != "" {
		if existing, err := s.GetByExternalRef(ctx, t.ExternalRef); err == nil {
			return existing, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	t.Status = ledger.TransactionPending
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt, t.UpdatedAt = now, now
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, session_id, type, amount, fee, status, external_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.UserID, t.SessionID, t.Type, t.Amount, t.Fee, t.Status, t.ExternalRef, t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LedgerStore) ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var t ledger.Transaction
	if err := tx.QueryRowContext(ctx, ledgerSelect+` WHERE external_ref = $1 FOR UPDATE`, externalRef).Scan(
		&t.ID, &t.UserID, &t.SessionID, &t.Type, &t.Amount, &t.Fee, &t.Status, &t.ExternalRef, &t.RefundOf, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if t.Status != ledger.TransactionPending {
		return &t, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE client_profiles SET balance = balance + $1, updated_at = now() WHERE user_id = $2
	`, t.Amount, t.UserID); err != nil {
		return nil, err
	}
	t.Status = ledger.TransactionCompleted
	t.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_transactions SET status = $2, updated_at = $3 WHERE id = $1
	`, t.ID, t.Status, t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *LedgerStore) FailDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	t, err := s.GetByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	if t.Status == ledger.TransactionFailed || t.Status == ledger.TransactionCompleted {
		return t, nil
	}
	t.Status = ledger.TransactionFailed
	t.UpdatedAt = time.Now().UTC()
	if _, err := s.DB.ExecContext(ctx, `
		UPDATE ledger_transactions SET status = $2, updated_at = $3 WHERE id = $1
	`, t.ID, t.Status, t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

// SettleSession locks the client and reader rows in ascending user-ID order
// to avoid deadlocking against a concurrent settlement that touches the
// same pair, then lets apply compute the split from the locked balances.
// It never writes the sessions row itself: the caller holds that row's lock
// (via SessionStore.WithLock) for the duration of the FSM transition and is
// the sole writer, so SettleSession only moves money.
func (s *LedgerStore) SettleSession(ctx context.Context, sess *session.Session, apply func(clientBalance, readerPending decimal.Decimal) (debit, credit, fee decimal.Decimal, err error)) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock both rows before reading either, always in ascending user-id
	// order, so two settlements sharing a client or reader never deadlock.
	var clientBalance, readerPending decimal.Decimal
	lockClient := func() error {
		return tx.QueryRowContext(ctx, `SELECT balance FROM client_profiles WHERE user_id = $1 FOR UPDATE`, sess.ClientID).Scan(&clientBalance)
	}
	lockReader := func() error {
		return tx.QueryRowContext(ctx, `SELECT pending_balance FROM reader_profiles WHERE user_id = $1 FOR UPDATE`, sess.ReaderID).Scan(&readerPending)
	}
	if sess.ClientID < sess.ReaderID {
		if err := lockClient(); err != nil {
			return err
		}
		if err := lockReader(); err != nil {
			return err
		}
	} else {
		if err := lockReader(); err != nil {
			return err
		}
		if err := lockClient(); err != nil {
			return err
		}
	}

	debit, credit, fee, err := apply(clientBalance, readerPending)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	payment := &ledger.Transaction{
		ID: uuid.NewString(), UserID: sess.ClientID, SessionID: sess.ID,
		Type: ledger.TransactionReadingPayment, Amount: debit, Fee: decimal.Zero,
		Status: ledger.TransactionCompleted, CreatedAt: now, UpdatedAt: now,
	}
	earning := &ledger.Transaction{
		ID: uuid.NewString(), UserID: sess.ReaderID, SessionID: sess.ID,
		Type: ledger.TransactionReadingEarning, Amount: credit, Fee: fee,
		Status: ledger.TransactionCompleted, CreatedAt: now, UpdatedAt: now,
	}
	if err := insertTransaction(ctx, tx, payment); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, earning); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE client_profiles SET balance = balance - $1, total_spent = total_spent + $1, updated_at = now()
		WHERE user_id = $2
	`, debit, sess.ClientID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE reader_profiles SET pending_balance = pending_balance + $1, total_earned = total_earned + $1,
			total_readings = total_readings + 1, updated_at = now()
		WHERE user_id = $2
	`, credit, sess.ReaderID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *LedgerStore) RecordPayout(ctx context.Context, readerID string, amount decimal.Decimal) (*ledger.Transaction, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var pending decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT pending_balance FROM reader_profiles WHERE user_id = $1 FOR UPDATE`, readerID).Scan(&pending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if pending.LessThan(amount) {
		return nil, errors.New("storage: payout exceeds pending balance")
	}

	now := time.Now().UTC()
	t := &ledger.Transaction{
		ID: uuid.NewString(), UserID: readerID, Type: ledger.TransactionPayout,
		Amount: amount, Status: ledger.TransactionPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE reader_profiles SET pending_balance = pending_balance - $1, updated_at = now() WHERE user_id = $2
	`, amount, readerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LedgerStore) MarkPayoutStatus(ctx context.Context, transactionID string, status ledger.TransactionStatus) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	var amount decimal.Decimal
	var prevStatus ledger.TransactionStatus
	if err := tx.QueryRowContext(ctx, `
		SELECT user_id, amount, status FROM ledger_transactions WHERE id = $1 FOR UPDATE
	`, transactionID).Scan(&userID, &amount, &prevStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}

	if status == ledger.TransactionFailed && prevStatus == ledger.TransactionPending {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reader_profiles SET pending_balance = pending_balance + $1, updated_at = now() WHERE user_id = $2
		`, amount, userID); err != nil {
			return err
		}
	}
	if status == ledger.TransactionCompleted {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reader_profiles SET total_paid_out = total_paid_out + $1, updated_at = now() WHERE user_id = $2
		`, amount, userID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_transactions SET status = $2, updated_at = now() WHERE id = $1
	`, transactionID, status); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepStaleProcessing fails payouts stuck pending past olderThan,
// restoring the reader's pending balance, and returns how many were swept.
func (s *LedgerStore) SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM ledger_transactions WHERE type = $1 AND status = $2 AND created_at < $3
	`, ledger.TransactionPayout, ledger.TransactionPending, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.MarkPayoutStatus(ctx, id, ledger.TransactionFailed); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	rows, err := s.DB.QueryContext(ctx, ledgerSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ledger.Transaction
	for rows.Next() {
		t, err := scanLedger(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *LedgerStore) GetByExternalRef(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	t, err := scanLedger(s.DB.QueryRowContext(ctx, ledgerSelect+` WHERE external_ref = $1`, externalRef).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

const ledgerSelect = `
	SELECT id, user_id, session_id, type, amount, fee, status, external_ref, refund_of, created_at, updated_at
	FROM ledger_transactions`

func scanLedger(scan func(...any) error) (*ledger.Transaction, error) {
	var t ledger.Transaction
	if err := scan(&t.ID, &t.UserID, &t.SessionID, &t.Type, &t.Amount, &t.Fee, &t.Status, &t.ExternalRef, &t.RefundOf, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *ledger.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, session_id, type, amount, fee, status, external_ref, refund_of, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, t.ID, t.UserID, t.SessionID, t.Type, t.Amount, t.Fee, t.Status, t.ExternalRef, t.RefundOf, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *LedgerStore) GetByID(ctx context.Context, id string) (*ledger.Transaction, error) {
	t, err := scanLedger(s.DB.QueryRowContext(ctx, ledgerSelect+` WHERE id = $1`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// RefundTransaction implements spec section 4.2's admin refund inside a
// single transaction: lock the original row, reject a repeat refund, flip
// its status, credit the balance only for deposit/reading_payment originals,
// and append the new refund row.
func (s *LedgerStore) RefundTransaction(ctx context.Context, transactionID, reason string) (*ledger.Transaction, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var orig ledger.Transaction
	if err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, type, amount, fee, status, external_ref, refund_of, created_at, updated_at
		FROM ledger_transactions WHERE id = $1 FOR UPDATE
	`, transactionID).Scan(&orig.ID, &orig.UserID, &orig.SessionID, &orig.Type, &orig.Amount, &orig.Fee,
		&orig.Status, &orig.ExternalRef, &orig.RefundOf, &orig.CreatedAt, &orig.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if orig.Status == ledger.TransactionRefunded {
		return nil, storage.ErrConflict
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_transactions SET status = $2, updated_at = $3 WHERE id = $1
	`, transactionID, ledger.TransactionRefunded, now); err != nil {
		return nil, err
	}

	refund := &ledger.Transaction{
		ID: uuid.NewString(), UserID: orig.UserID, SessionID: orig.SessionID,
		Type: ledger.TransactionRefund, Amount: orig.Amount, RefundOf: transactionID,
		Status: ledger.TransactionCompleted, CreatedAt: now, UpdatedAt: now,
	}
	if err := insertTransaction(ctx, tx, refund); err != nil {
		return nil, err
	}

	if orig.Type == ledger.TransactionDeposit || orig.Type == ledger.TransactionReadingPayment {
		if _, err := tx.ExecContext(ctx, `
			UPDATE client_profiles SET balance = balance + $1, updated_at = now() WHERE user_id = $2
		`, orig.Amount, orig.UserID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return refund, nil
}
