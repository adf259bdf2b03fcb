package identitysync

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/storage/memory"
)

func TestEnsureCreatesClientProfileOnFirstSync(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(store, store.Clients(), store.Readers())

	u, err := s.Ensure(ctx, "idp-sub-1", user.RoleClient)
	require.NoError(t, err)
	require.Equal(t, "idp-sub-1", u.ExternalSub)

	profile, err := store.Clients().Get(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, profile.Balance.IsZero())
}

func TestEnsureCreatesReaderProfileOnFirstSync(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(store, store.Clients(), store.Readers())

	u, err := s.Ensure(ctx, "idp-sub-2", user.RoleReader)
	require.NoError(t, err)

	profile, err := store.Readers().Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, user.PresenceOffline, profile.Presence)
}

func TestEnsureIsIdempotentForTheSameSubject(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(store, store.Clients(), store.Readers())

	first, err := s.Ensure(ctx, "idp-sub-3", user.RoleClient)
	require.NoError(t, err)

	second, err := s.Ensure(ctx, "idp-sub-3", user.RoleClient)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestEnsureRejectsRoleMismatchOnResync(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(store, store.Clients(), store.Readers())

	_, err := s.Ensure(ctx, "idp-sub-4", user.RoleClient)
	require.NoError(t, err)

	_, err = s.Ensure(ctx, "idp-sub-4", user.RoleReader)
	require.Error(t, err)
}

func TestEnsureSeedsReaderProfileWithConfiguredDefaultRates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defaults := reader.Rates{Chat: decimal.NewFromFloat(1.5), Voice: decimal.NewFromFloat(2.5), Video: decimal.NewFromFloat(3.5)}
	s := New(store, store.Clients(), store.Readers(), defaults)

	u, err := s.Ensure(ctx, "idp-sub-5", user.RoleReader)
	require.NoError(t, err)

	profile, err := store.Readers().Get(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, defaults.Chat.Equal(profile.Rates.Chat))
	require.True(t, defaults.Video.Equal(profile.Rates.Video))
}
