package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/storage"
)

func TestUserStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := New()

	u := &user.User{ID: "user-1", ExternalSub: "sub-1", Role: user.RoleClient}
	require.NoError(t, store.Create(ctx, u))

	byID, err := store.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "sub-1", byID.ExternalSub)

	bySub, err := store.GetByExternalSub(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", bySub.ID)

	_, err = store.GetByExternalSub(ctx, "unknown")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClientUpdateBalanceRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.Clients().Create(ctx, &client.Profile{UserID: "client-1", Balance: decimal.NewFromInt(10)}))

	_, err := store.Clients().UpdateBalance(ctx, "client-1", decimal.NewFromInt(-20), decimal.Zero)
	require.Error(t, err)

	balance, err := store.Clients().UpdateBalance(ctx, "client-1", decimal.NewFromInt(-10), decimal.NewFromInt(10))
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestReaderUpdateRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := New()
	p := &reader.Profile{UserID: "reader-1", Presence: user.PresenceOffline}
	require.NoError(t, store.Readers().Create(ctx, p))

	p.Presence = user.PresenceOnline
	p.Available = true
	require.NoError(t, store.Readers().Update(ctx, p))

	got, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceOnline, got.Presence)
	require.True(t, got.Available)
}

func TestReaderUpdateUnknownReaderNotFound(t *testing.T) {
	ctx := context.Background()
	store := New()
	err := store.Readers().Update(ctx, &reader.Profile{UserID: "ghost"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}
