package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domainclient "github.com/orbitline/sessioncore/domain/client"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/services/presence"
	"github.com/orbitline/sessioncore/services/tokenbroker"
	"github.com/orbitline/sessioncore/storage/memory"
)

// recordingTransport is a fake eventbus.Publisher that never fails, so tests
// exercise the real retry-free path without a transport dependency.
type recordingTransport struct {
	mu       sync.Mutex
	channels []string
}

func (r *recordingTransport) Publish(ctx context.Context, channel string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memory.Store) {
	t.Helper()
	store := memory.New()
	transport := &recordingTransport{}
	bus := eventbus.New(transport, store.Notifications(), logger.New("test", logger.Config{Level: "error"}))
	presenceRegistry := presence.New(store.Readers(), bus)
	tokens := tokenbroker.New("app-id", "app-cert", "pubsub-key")
	ledgerSvc := ledger.New(store.Ledger())
	return New(store.Sessions(), store.Clients(), store.Readers(), presenceRegistry, tokens, ledgerSvc, bus), store
}

func seedReaderAndClient(t *testing.T, store *memory.Store, rate decimal.Decimal, clientBalance decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "reader-1", Presence: user.PresenceOnline, Available: true,
		Rates:                 reader.Rates{Chat: rate, Voice: rate, Video: rate},
		ExternalAccountStatus: reader.ExternalAccountActive,
	}))
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-1", Balance: clientBalance}))
}

func TestHappyPathChatSession(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(2)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(100))

	sess, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.NoError(t, err)
	require.Equal(t, session.StatusPending, sess.Status)

	accepted, _, err := o.Accept(ctx, "reader-1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, accepted.Status)
	require.NotNil(t, accepted.StartTime)

	readerProfile, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceInSession, readerProfile.Presence)

	// Simulate a 90-second reading by backdating the start time.
	backdated := time.Now().UTC().Add(-90 * time.Second)
	accepted.StartTime = &backdated
	require.NoError(t, store.Sessions().Update(ctx, accepted))

	ended, err := o.End(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, ended.Status)
	require.GreaterOrEqual(t, ended.DurationSeconds, 90)

	total, fee, earnings := ledger.ComputeCharge(rate, 2)
	require.True(t, ended.TotalAmount.Equal(total))
	require.True(t, ended.PlatformFee.Equal(fee))
	require.True(t, ended.ReaderEarnings.Equal(earnings))
	require.False(t, ended.PartialSettled)

	readerProfile, err = store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.Equal(t, user.PresenceOnline, readerProfile.Presence, "reader must be released back to online at session end")

	// End is idempotent: calling it again returns the same completed row
	// without re-settling.
	again, err := o.End(ctx, "reader-1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, ended.TotalAmount.String(), again.TotalAmount.String())

	clientProfile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, clientProfile.Balance.Equal(decimal.NewFromInt(100).Sub(total)))
}

func TestRequestInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(10)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(5)) // reserve requires 30

	_, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.Error(t, err)
	require.Equal(t, apierrors.KindInsufficientBal, apierrors.KindOf(err))
}

func TestRequestReaderNotOnline(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "reader-1", Presence: user.PresenceOffline,
		Rates: reader.Rates{Chat: decimal.NewFromInt(2), Voice: decimal.NewFromInt(2), Video: decimal.NewFromInt(2)},
	}))
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-1", Balance: decimal.NewFromInt(100)}))

	_, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.Error(t, err)
	require.Equal(t, apierrors.KindReaderUnavailable, apierrors.KindOf(err))
}

func TestAcceptRaceSecondCallerLoses(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(2)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(100))
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-2", Balance: decimal.NewFromInt(100)}))

	first, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.NoError(t, err)
	second, err := o.Request(ctx, "client-2", "reader-1", session.TypeChat)
	require.NoError(t, err)

	_, _, err = o.Accept(ctx, "reader-1", first.ID)
	require.NoError(t, err, "first accept reserves the reader")

	_, _, err = o.Accept(ctx, "reader-1", second.ID)
	require.Error(t, err)
	require.Equal(t, apierrors.KindReaderUnavailable, apierrors.KindOf(err))

	lost, err := store.Sessions().Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCancelled, lost.Status, "the losing request must be auto-cancelled, not left pending")
}

// TestAcceptRaceIsExclusiveUnderConcurrency launches two accepts of two
// different sessions for the same reader at the same instant instead of one
// after another. The sessions' row locks do not serialize them; the
// presence compare-and-swap does: without it both goroutines can observe
// presence==online and both win.
func TestAcceptRaceIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(2)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(100))
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-2", Balance: decimal.NewFromInt(100)}))

	first, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.NoError(t, err)
	second, err := o.Request(ctx, "client-2", "reader-1", session.TypeChat)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	ids := []string{first.ID, second.ID}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _, err := o.Accept(ctx, "reader-1", ids[i])
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apierrors.KindOf(err) == apierrors.KindReaderUnavailable:
			failures++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent accept must succeed")
	require.Equal(t, 1, failures, "the other must lose with READER_UNAVAILABLE")

	var activeCount, cancelledCount int
	for _, id := range ids {
		sess, err := store.Sessions().Get(ctx, id)
		require.NoError(t, err)
		switch sess.Status {
		case session.StatusActive:
			activeCount++
		case session.StatusCancelled:
			cancelledCount++
		}
	}
	require.Equal(t, 1, activeCount)
	require.Equal(t, 1, cancelledCount)
}

func TestAcceptIsIdempotentForSameReader(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(2)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(100))

	sess, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.NoError(t, err)

	first, firstToken, err := o.Accept(ctx, "reader-1", sess.ID)
	require.NoError(t, err)
	second, secondToken, err := o.Accept(ctx, "reader-1", sess.ID)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.NotEmpty(t, firstToken.Token)
	require.NotEmpty(t, secondToken.Token)
}

func TestSweepTimeoutsCancelsStalePending(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t)
	rate := decimal.NewFromInt(2)
	seedReaderAndClient(t, store, rate, decimal.NewFromInt(100))

	sess, err := o.Request(ctx, "client-1", "reader-1", session.TypeChat)
	require.NoError(t, err)

	sess.RequestedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, store.Sessions().Update(ctx, sess))

	n, err := o.SweepTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	swept, err := store.Sessions().Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCancelled, swept.Status)
	require.Equal(t, "timeout", swept.Notes)
}
