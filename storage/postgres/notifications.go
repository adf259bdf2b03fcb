package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/storage"
)

// NotificationStore implements storage.NotificationStore on PostgreSQL.
type NotificationStore struct {
	DB *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{DB: db}
}

func (s *NotificationStore) Create(ctx context.Context, n *notification.Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, metadata, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, meta, n.Read, n.CreatedAt)
	return err
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, type, title, body, metadata, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &meta, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) MarkRead(ctx context.Context, id string, userID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
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
