package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/storage"
)

// SessionStore implements storage.SessionStore on PostgreSQL.
type SessionStore struct {
	DB *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{DB: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions
			(id, client_id, reader_id, type, status, rate_per_min, requested_at, start_time, end_time,
			 duration_seconds, total_amount, platform_fee, reader_earnings, rtc_channel, pubsub_channel,
			 partial_settled, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sess.ID, sess.ClientID, sess.ReaderID, sess.Type, sess.Status, sess.RatePerMin, sess.RequestedAt,
		sess.StartTime, sess.EndTime, sess.DurationSeconds, sess.TotalAmount, sess.PlatformFee,
		sess.ReaderEarnings, sess.RTCChannel, sess.PubSubChannel, sess.PartialSettled, sess.Notes,
		sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id))
}

func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sessions SET
			status=$2, start_time=$3, end_time=$4, duration_seconds=$5, total_amount=$6,
			platform_fee=$7, reader_earnings=$8, rtc_channel=$9, pubsub_channel=$10,
			partial_settled=$11, notes=$12, updated_at=now()
		WHERE id = $1
	`, sess.ID, sess.Status, sess.StartTime, sess.EndTime, sess.DurationSeconds, sess.TotalAmount,
		sess.PlatformFee, sess.ReaderEarnings, sess.RTCChannel, sess.PubSubChannel,
		sess.PartialSettled, sess.Notes)
	return err
}

// WithLock loads the session row under SELECT ... FOR UPDATE, invokes fn,
// and persists the row back in the same transaction when fn asks for it.
// This serializes every state-changing orchestrator operation per session,
// so accept/decline/end/the timeout sweep can never interleave on one row.
func (s *SessionStore) WithLock(ctx context.Context, id string, fn func(*session.Session) (bool, error)) (*session.Session, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := scanSession(tx.QueryRowContext(ctx, sessionSelect+` WHERE id = $1 FOR UPDATE`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	persist, fnErr := fn(sess)
	if persist {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET
				status=$2, start_time=$3, end_time=$4, duration_seconds=$5, total_amount=$6,
				platform_fee=$7, reader_earnings=$8, rtc_channel=$9, pubsub_channel=$10,
				partial_settled=$11, notes=$12, updated_at=now()
			WHERE id = $1
		`, sess.ID, sess.Status, sess.StartTime, sess.EndTime, sess.DurationSeconds, sess.TotalAmount,
			sess.PlatformFee, sess.ReaderEarnings, sess.RTCChannel, sess.PubSubChannel,
			sess.PartialSettled, sess.Notes); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, fnErr
}

func (s *SessionStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	rows, err := s.DB.QueryContext(ctx, sessionSelect+` WHERE status = $1 AND requested_at < $2`,
		session.StatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

func (s *SessionStore) ListByClient(ctx context.Context, clientID string, limit int) ([]*session.Session, error) {
	rows, err := s.DB.QueryContext(ctx, sessionSelect+` WHERE client_id = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)`,
		clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

func (s *SessionStore) ListByReader(ctx context.Context, readerID string, limit int) ([]*session.Session, error) {
	rows, err := s.DB.QueryContext(ctx, sessionSelect+` WHERE reader_id = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)`,
		readerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

const sessionSelect = `
	SELECT id, client_id, reader_id, type, status, rate_per_min, requested_at, start_time, end_time,
	       duration_seconds, total_amount, platform_fee, reader_earnings, rtc_channel, pubsub_channel,
	       partial_settled, notes, created_at, updated_at
	FROM sessions`

func scanSession(scan func(...any) error) (*session.Session, error) {
	var sess session.Session
	if err := scan(&sess.ID, &sess.ClientID, &sess.ReaderID, &sess.Type, &sess.Status, &sess.RatePerMin,
		&sess.RequestedAt, &sess.StartTime, &sess.EndTime, &sess.DurationSeconds, &sess.TotalAmount,
		&sess.PlatformFee, &sess.ReaderEarnings, &sess.RTCChannel, &sess.PubSubChannel,
		&sess.PartialSettled, &sess.Notes, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) scanOne(row *sql.Row) (*session.Session, error) {
	sess, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func scanSessionRows(rows *sql.Rows) ([]*session.Session, error) {
	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
