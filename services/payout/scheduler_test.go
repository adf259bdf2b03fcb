package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domainledger "github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/storage/memory"
)

type fakeTransferrer struct {
	externalRef string
	err         error
	calls       []decimal.Decimal
}

func (f *fakeTransferrer) Transfer(ctx context.Context, accountHandle string, amount decimal.Decimal) (string, error) {
	f.calls = append(f.calls, amount)
	if f.err != nil {
		return "", f.err
	}
	return f.externalRef, nil
}

type discardTransport struct{}

func (discardTransport) Publish(ctx context.Context, channel string, payload interface{}) error { return nil }

func newTestScheduler(t *testing.T, transferrer Transferrer) (*Scheduler, *memory.Store, *ledger.Ledger) {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(discardTransport{}, store.Notifications(), logger.New("test", logger.Config{Level: "error"}))
	ledgerSvc := ledger.New(store.Ledger())
	s := New(store.Readers(), ledgerSvc, transferrer, bus, logger.New("test", logger.Config{Level: "error"}), decimal.NewFromInt(15))
	return s, store, ledgerSvc
}

func TestProcessSuccessMarksCompleted(t *testing.T) {
	ctx := context.Background()
	transferrer := &fakeTransferrer{externalRef: "ext-1"}
	s, store, ledgerSvc := newTestScheduler(t, transferrer)

	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "reader-1", PendingBalance: decimal.NewFromInt(20), ExternalAccountStatus: reader.ExternalAccountActive,
	}))

	err := s.Process(ctx, "reader-1", decimal.NewFromInt(20), "handle-1")
	require.NoError(t, err)

	txs, err := ledgerSvc.ListByUser(ctx, "reader-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domainledger.TransactionCompleted, txs[0].Status)
	require.Equal(t, domainledger.TransactionPayout, txs[0].Type)

	profile, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.True(t, profile.PendingBalance.IsZero())
}

func TestProcessTransferFailureMarksFailedAndRestoresBalance(t *testing.T) {
	ctx := context.Background()
	transferrer := &fakeTransferrer{err: errors.New("processor unreachable")}
	s, store, ledgerSvc := newTestScheduler(t, transferrer)

	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "reader-1", PendingBalance: decimal.NewFromInt(20), ExternalAccountStatus: reader.ExternalAccountActive,
	}))

	err := s.Process(ctx, "reader-1", decimal.NewFromInt(20), "handle-1")
	require.Error(t, err)

	txs, err := ledgerSvc.ListByUser(ctx, "reader-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domainledger.TransactionFailed, txs[0].Status)

	profile, err := store.Readers().Get(ctx, "reader-1")
	require.NoError(t, err)
	require.True(t, profile.PendingBalance.Equal(decimal.NewFromInt(20)), "a failed transfer must restore the reader's pending balance")
}

func TestRunOnceSkipsReadersBelowMinimumPayout(t *testing.T) {
	ctx := context.Background()
	transferrer := &fakeTransferrer{externalRef: "ext-1"}
	s, store, _ := newTestScheduler(t, transferrer)

	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "below-floor", PendingBalance: decimal.NewFromInt(5), ExternalAccountStatus: reader.ExternalAccountActive,
	}))
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{
		UserID: "above-floor", PendingBalance: decimal.NewFromInt(20), ExternalAccountStatus: reader.ExternalAccountActive,
	}))

	require.NoError(t, s.RunOnce(ctx))
	require.Len(t, transferrer.calls, 1, "only the reader above the minimum payout floor should be drained")
	require.True(t, transferrer.calls[0].Equal(decimal.NewFromInt(20)))
}
