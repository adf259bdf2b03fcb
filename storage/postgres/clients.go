package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/storage"
)

// ClientStore implements storage.ClientStore on PostgreSQL.
type ClientStore struct {
	DB *sql.DB
}

func NewClientStore(db *sql.DB) *ClientStore {
	return &ClientStore{DB: db}
}

func (s *ClientStore) Create(ctx context.Context, p *client.Profile) error {
	var enabled bool
	threshold, amount := decimal.Zero, decimal.Zero
	if p.AutoReload != nil {
		enabled = p.AutoReload.Enabled
		threshold = p.AutoReload.Threshold
		amount = p.AutoReload.Amount
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO client_profiles
			(user_id, balance, total_spent, auto_reload_enabled, auto_reload_threshold, auto_reload_amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.UserID, p.Balance, p.TotalSpent, enabled, threshold, amount, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *ClientStore) Get(ctx context.Context, userID string) (*client.Profile, error) {
	var p client.Profile
	var enabled bool
	var threshold, amount decimal.Decimal
	row := s.DB.QueryRowContext(ctx, `
		SELECT user_id, balance, total_spent, auto_reload_enabled, auto_reload_threshold, auto_reload_amount, created_at, updated_at
		FROM client_profiles WHERE user_id = $1
	`, userID)
	if err := row.Scan(&p.UserID, &p.Balance, &p.TotalSpent, &enabled, &threshold, &amount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	p.AutoReload = &client.AutoReload{Enabled: enabled, Threshold: threshold, Amount: amount}
	return &p, nil
}

// UpdateBalance applies delta to balance and spent to total_spent in a
// single row-locked update, returning the resulting balance. The WHERE
// clause on the locked row prevents a concurrent debit from driving the
// balance negative between read and write.
func (s *ClientStore) UpdateBalance(ctx context.Context, userID string, delta, spent decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = tx.Rollback() }()

	var balance decimal.Decimal
	row := tx.QueryRowContext(ctx, `SELECT balance FROM client_profiles WHERE user_id = $1 FOR UPDATE`, userID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, storage.ErrNotFound
		}
		return decimal.Zero, err
	}

	newBalance := balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, errors.New("storage: balance would go negative")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE client_profiles SET balance = $1, total_spent = total_spent + $2, updated_at = now()
		WHERE user_id = $3
	`, newBalance, spent, userID); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
