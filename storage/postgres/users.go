package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/storage"
)

// UserStore implements storage.UserStore on PostgreSQL.
type UserStore struct {
	DB *sql.DB
}

// NewUserStore constructs a PostgreSQL-backed user store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{DB: db}
}

func (s *UserStore) Create(ctx context.Context, u *user.User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, external_sub, role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.ID, u.ExternalSub, u.Role, u.CreatedAt, u.UpdatedAt)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*user.User, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, `
		SELECT id, external_sub, role, created_at, updated_at FROM users WHERE id = $1
	`, id))
}

func (s *UserStore) GetByExternalSub(ctx context.Context, sub string) (*user.User, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, `
		SELECT id, external_sub, role, created_at, updated_at FROM users WHERE external_sub = $1
	`, sub))
}

func (s *UserStore) scanOne(row *sql.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.ExternalSub, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
