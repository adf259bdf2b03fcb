package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/orbitline/sessioncore/domain/review"
	"github.com/orbitline/sessioncore/storage"
)

// ReviewStore implements storage.ReviewStore on PostgreSQL.
type ReviewStore struct {
	DB *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{DB: db}
}

func (s *ReviewStore) Create(ctx context.Context, r *review.Review) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reviews (id, session_id, client_id, reader_id, rating, comment, response, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.ID, r.SessionID, r.ClientID, r.ReaderID, r.Rating, r.Comment, r.Response, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *ReviewStore) GetByID(ctx context.Context, id string) (*review.Review, error) {
	return scanReview(s.DB.QueryRowContext(ctx, reviewSelect+` WHERE id = $1`, id).Scan)
}

func (s *ReviewStore) GetBySession(ctx context.Context, sessionID string) (*review.Review, error) {
	return scanReview(s.DB.QueryRowContext(ctx, reviewSelect+` WHERE session_id = $1`, sessionID).Scan)
}

func (s *ReviewStore) ListByReader(ctx context.Context, readerID string, limit int) ([]*review.Review, error) {
	rows, err := s.DB.QueryContext(ctx, reviewSelect+` WHERE reader_id = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)`, readerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*review.Review
	for rows.Next() {
		r, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ReviewStore) UpdateResponse(ctx context.Context, id string, response string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE reviews SET response = $2, updated_at = now() WHERE id = $1`, id, response)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const reviewSelect = `
	SELECT id, session_id, client_id, reader_id, rating, comment, response, created_at, updated_at
	FROM reviews`

func scanReview(scan func(...any) error) (*review.Review, error) {
	var r review.Review
	if err := scan(&r.ID, &r.SessionID, &r.ClientID, &r.ReaderID, &r.Rating, &r.Comment, &r.Response, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
