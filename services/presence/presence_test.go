package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/storage/memory"
)

type discardTransport struct{}

func (discardTransport) Publish(ctx context.Context, channel string, payload interface{}) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(discardTransport{}, store.Notifications(), logger.New("test", logger.Config{Level: "error"}))
	return New(store.Readers(), bus), store
}

func TestSetOfflineToOnline(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceOffline}))

	require.NoError(t, r.Set(ctx, "reader-1", user.PresenceOnline))

	p, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceOnline, p.Presence)
	require.True(t, p.Available)
}

func TestSetRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceOffline}))

	err := r.Set(ctx, "reader-1", user.PresenceBusy)
	require.Error(t, err)
	require.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestSetRejectsLeavingInSessionDirectly(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceInSession}))

	err := r.Set(ctx, "reader-1", user.PresenceOnline)
	require.Error(t, err)
}

func TestTryReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceOnline}))

	require.NoError(t, r.TryReserve(ctx, "reader-1"))
	p, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceInSession, p.Presence)

	require.NoError(t, r.Release(ctx, "reader-1"))
	p, err = store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceOnline, p.Presence)
}

func TestTryReserveFailsWhenNotOnline(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceInSession}))

	err := r.TryReserve(ctx, "reader-1")
	require.Error(t, err)
	require.Equal(t, apierrors.KindReaderUnavailable, apierrors.KindOf(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1", Presence: user.PresenceOnline}))

	require.NoError(t, r.Release(ctx, "reader-1"), "releasing a reader who isn't in_session must be a no-op, not an error")
	p, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceOnline, p.Presence)
}

func TestListOnline(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "online-1", Presence: user.PresenceOnline, Available: true}))
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "offline-1", Presence: user.PresenceOffline, Available: false}))

	ids, err := r.ListOnline(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"online-1"}, ids)
}
