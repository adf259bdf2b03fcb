package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/storage/memory"
)

type discardTransport struct{}

func (discardTransport) Publish(ctx context.Context, channel string, payload interface{}) error { return nil }

func newTestAggregator(t *testing.T) (*Aggregator, *memory.Store) {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(discardTransport{}, store.Notifications(), logger.New("test", logger.Config{Level: "error"}))
	return New(store.Reviews(), store.Sessions(), store.Readers(), bus), store
}

func TestSubmitReviewRecomputesRating(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))

	r, err := a.Submit(ctx, "client-1", "sess-1", 4, "good reading")
	require.NoError(t, err)
	require.Equal(t, 4, r.Rating)

	profile, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, 1, profile.ReviewCount)
	require.Equal(t, 4.0, profile.Rating)

	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-2", ClientID: "client-2", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))
	_, err = a.Submit(ctx, "client-2", "sess-2", 2, "")
	require.NoError(t, err)

	profile, err = store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, 2, profile.ReviewCount)
	require.Equal(t, 3.0, profile.Rating)
}

func TestSubmitRejectsInvalidRating(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))

	_, err := a.Submit(ctx, "client-1", "sess-1", 0, "")
	require.Error(t, err)
	require.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestSubmitRejectsNonCompletedSession(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusActive,
	}))

	_, err := a.Submit(ctx, "client-1", "sess-1", 5, "")
	require.Error(t, err)
	require.Equal(t, apierrors.KindInvalidState, apierrors.KindOf(err))
}

func TestSubmitRejectsDuplicateReview(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))

	_, err := a.Submit(ctx, "client-1", "sess-1", 5, "")
	require.NoError(t, err)

	_, err = a.Submit(ctx, "client-1", "sess-1", 3, "changed my mind")
	require.Error(t, err)
	require.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestSubmitRejectsWrongClient(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))

	_, err := a.Submit(ctx, "someone-else", "sess-1", 5, "")
	require.Error(t, err)
	require.Equal(t, apierrors.KindNotAuthorized, apierrors.KindOf(err))
}

func TestRespondToUpdatesResponseField(t *testing.T) {
	ctx := context.Background()
	a, store := newTestAggregator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))
	require.NoError(t, store.Sessions().Create(ctx, &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1", Status: session.StatusCompleted,
	}))

	r, err := a.Submit(ctx, "client-1", "sess-1", 5, "lovely")
	require.NoError(t, err)

	require.NoError(t, a.RespondTo(ctx, "reader-1", r.ID, "thank you!"))

	stored, err := store.Reviews().GetBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "thank you!", stored.Response)
}
