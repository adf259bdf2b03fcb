package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/storage"
)

// ReaderStore implements storage.ReaderStore on PostgreSQL.
type ReaderStore struct {
	DB *sql.DB
}

func NewReaderStore(db *sql.DB) *ReaderStore {
	return &ReaderStore{DB: db}
}

func (s *ReaderStore) Create(ctx context.Context, p *reader.Profile) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reader_profiles
			(user_id, rate_chat, rate_voice, rate_video, available, presence, pending_balance,
			 total_earned, total_paid_out, rating, review_count, total_readings,
			 external_account_handle, external_account_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, p.UserID, p.Rates.Chat, p.Rates.Voice, p.Rates.Video, p.Available, p.Presence, p.PendingBalance,
		p.TotalEarned, p.TotalPaidOut, p.Rating, p.ReviewCount, p.TotalReadings,
		p.ExternalAccountHandle, p.ExternalAccountStatus, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *ReaderStore) Get(ctx context.Context, userID string) (*reader.Profile, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, readerSelect+` WHERE user_id = $1`, userID))
}

func (s *ReaderStore) Update(ctx context.Context, p *reader.Profile) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE reader_profiles SET
			rate_chat=$2, rate_voice=$3, rate_video=$4, available=$5, presence=$6,
			pending_balance=$7, total_earned=$8, total_paid_out=$9, rating=$10,
			review_count=$11, total_readings=$12, external_account_handle=$13,
			external_account_status=$14, updated_at=now()
		WHERE user_id = $1
	`, p.UserID, p.Rates.Chat, p.Rates.Voice, p.Rates.Video, p.Available, p.Presence,
		p.PendingBalance, p.TotalEarned, p.TotalPaidOut, p.Rating, p.ReviewCount,
		p.TotalReadings, p.ExternalAccountHandle, p.ExternalAccountStatus)
	return err
}

// CompareAndSwapPresence flips presence from `from` to `to` in one
// round-trip and reports whether the row still matched `from` at the time
// of the update. A false, nil-error result is the race-losing path, not a
// failure.
func (s *ReaderStore) CompareAndSwapPresence(ctx context.Context, userID string, from, to user.Presence) (bool, *reader.Profile, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE reader_profiles SET presence=$3, updated_at=now()
		WHERE user_id=$1 AND presence=$2
	`, userID, from, to)
	if err != nil {
		return false, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return n == 1, p, nil
}

func (s *ReaderStore) ListAvailable(ctx context.Context) ([]*reader.Profile, error) {
	rows, err := s.DB.QueryContext(ctx, readerSelect+` WHERE available = TRUE AND presence = $1`, user.PresenceOnline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReaderRows(rows)
}

func (s *ReaderStore) ListEligibleForPayout(ctx context.Context, minPayout decimal.Decimal) ([]*reader.Profile, error) {
	rows, err := s.DB.QueryContext(ctx, readerSelect+` WHERE external_account_status = $1 AND pending_balance >= $2`,
		reader.ExternalAccountActive, minPayout)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReaderRows(rows)
}

const readerSelect = `
	SELECT user_id, rate_chat, rate_voice, rate_video, available, presence, pending_balance,
	       total_earned, total_paid_out, rating, review_count, total_readings,
	       external_account_handle, external_account_status, created_at, updated_at
	FROM reader_profiles`

func (s *ReaderStore) scanOne(row *sql.Row) (*reader.Profile, error) {
	var p reader.Profile
	if err := row.Scan(&p.UserID, &p.Rates.Chat, &p.Rates.Voice, &p.Rates.Video, &p.Available, &p.Presence,
		&p.PendingBalance, &p.TotalEarned, &p.TotalPaidOut, &p.Rating, &p.ReviewCount, &p.TotalReadings,
		&p.ExternalAccountHandle, &p.ExternalAccountStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanReaderRows(rows *sql.Rows) ([]*reader.Profile, error) {
	var out []*reader.Profile
	for rows.Next() {
		var p reader.Profile
		if err := rows.Scan(&p.UserID, &p.Rates.Chat, &p.Rates.Voice, &p.Rates.Video, &p.Available, &p.Presence,
			&p.PendingBalance, &p.TotalEarned, &p.TotalPaidOut, &p.Rating, &p.ReviewCount, &p.TotalReadings,
			&p.ExternalAccountHandle, &p.ExternalAccountStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
