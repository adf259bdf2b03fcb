// Package eventbus fans session lifecycle, presence, and notification
// events out over the pub/sub transport with at-least-once delivery.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/pkg/metrics"
	"github.com/orbitline/sessioncore/storage"
)

// Publisher is the narrow transport port the bus retries against. It is
// satisfied by *pgnotify.Bus and by any fake used in tests.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

const (
	retryBaseDelay = 250 * time.Millisecond
	maxRetries     = 5
)

// Bus publishes domain events on the channel conventions below and mirrors
// every per-user notification into durable storage so late-joining
// subscribers can rehydrate by REST.
//
//	reading:<session_id>     session-started, message, session-ended
//	notifications:<user_id>  notification (type-tagged payload)
//	readers:status            status-update
type Bus struct {
	transport Publisher
	store     storage.NotificationStore
	log       *logger.Logger
}

func New(transport Publisher, store storage.NotificationStore, log *logger.Logger) *Bus {
	return &Bus{transport: transport, store: store, log: log}
}

func SessionChannel(sessionID string) string      { return "reading:" + sessionID }
func UserChannel(userID string) string            { return "notifications:" + userID }
func StreamChannel(streamID string) string        { return "stream:" + streamID }
const PresenceChannel = "readers:status"

// PresenceUpdate is published on PresenceChannel.
type PresenceUpdate struct {
	ReaderID  string    `json:"reader_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent is published on a per-session channel.
type SessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// PublishSession publishes a session lifecycle event, retrying transient
// transport failures with exponential backoff before giving up.
func (b *Bus) PublishSession(ctx context.Context, sessionID, eventType string, data interface{}) error {
	return b.publishWithRetry(ctx, SessionChannel(sessionID), SessionEvent{Type: eventType, SessionID: sessionID, Data: data}, "session")
}

// PublishPresence publishes a reader presence transition.
func (b *Bus) PublishPresence(ctx context.Context, readerID, status string) error {
	return b.publishWithRetry(ctx, PresenceChannel, PresenceUpdate{ReaderID: readerID, Status: status, Timestamp: time.Now().UTC()}, "presence")
}

// NotifyUser publishes a notification on the user's inbox channel and
// persists it durably. The durable write happens first: a subscriber that
// never sees the transient publish can still rehydrate by REST.
func (b *Bus) NotifyUser(ctx context.Context, userID string, typ notification.Type, title, body string, metadata map[string]string) (*notification.Notification, error) {
	n := &notification.Notification{
		UserID: userID, Type: typ, Title: title, Body: body, Metadata: metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.Create(ctx, n); err != nil {
		return nil, apierrors.Internal("failed to persist notification", err)
	}

	if err := b.publishWithRetry(ctx, UserChannel(userID), n, "notification"); err != nil {
		if b.log != nil {
			b.log.WithField("user_id", userID).WithField("type", typ).Warn("notification publish exhausted retries; durable row still written")
		}
	}
	return n, nil
}

func (b *Bus) publishWithRetry(ctx context.Context, channel string, payload interface{}, kind string) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = b.transport.Publish(ctx, channel, payload)
		if err == nil {
			metrics.RecordBusPublish(kind, nil)
			return nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			metrics.RecordBusPublish(kind, ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	metrics.RecordBusPublish(kind, err)
	return fmt.Errorf("eventbus: publish to %s exhausted %d retries: %w", channel, maxRetries, err)
}
