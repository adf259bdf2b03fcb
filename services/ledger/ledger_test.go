package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domainclient "github.com/orbitline/sessioncore/domain/client"
	domainledger "github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/storage/memory"
)

func TestComputeChargeWholeSplit(t *testing.T) {
	total, fee, earnings := ComputeCharge(decimal.NewFromInt(10), 3)
	require.True(t, decimal.NewFromInt(30).Equal(total), "total = %s", total)
	require.True(t, decimal.NewFromInt(9).Equal(fee), "fee = %s", fee)
	require.True(t, decimal.NewFromInt(21).Equal(earnings), "earnings = %s", earnings)
	require.True(t, earnings.Add(fee).Equal(total), "earnings+fee must equal total exactly")
}

func TestComputeChargeBankersRounding(t *testing.T) {
	// total = 4.15, fee_unrounded = 1.245: the half-even digit (4) is even,
	// so the fee rounds down to 1.24 rather than up to 1.25.
	total, fee, earnings := ComputeCharge(decimal.NewFromFloat(4.15), 1)
	require.True(t, decimal.NewFromFloat(4.15).Equal(total))
	require.True(t, decimal.NewFromFloat(1.24).Equal(fee), "fee = %s, want 1.24 (round-half-to-even)", fee)
	require.True(t, decimal.NewFromFloat(2.91).Equal(earnings))
}

func newLedgerWithClient(t *testing.T, clientID string, balance decimal.Decimal) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Clients().Create(context.Background(), &domainclient.Profile{UserID: clientID, Balance: balance}))
	return New(store.Ledger()), store
}

func TestInitConfirmFailDepositIdempotent(t *testing.T) {
	ctx := context.Background()
	l, store := newLedgerWithClient(t, "client-1", decimal.Zero)

	tx, err := l.InitDeposit(ctx, "client-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, domainledger.TransactionPending, tx.Status)

	profile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.IsZero(), "balance must not move until the deposit is confirmed")

	confirmed, err := l.ConfirmDeposit(ctx, tx.ExternalRef)
	require.NoError(t, err)
	require.Equal(t, domainledger.TransactionCompleted, confirmed.Status)

	profile, err = store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.Equal(decimal.NewFromInt(50)))

	// A repeated webhook for the same intent must not double-credit.
	again, err := l.ConfirmDeposit(ctx, tx.ExternalRef)
	require.NoError(t, err)
	require.Equal(t, confirmed.ID, again.ID)

	profile, err = store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.Equal(decimal.NewFromInt(50)), "second confirmation must not re-credit")
}

func TestFailDepositLeavesBalanceUntouched(t *testing.T) {
	ctx := context.Background()
	l, store := newLedgerWithClient(t, "client-1", decimal.Zero)

	tx, err := l.InitDeposit(ctx, "client-1", decimal.NewFromInt(50))
	require.NoError(t, err)

	failed, err := l.FailDeposit(ctx, tx.ExternalRef)
	require.NoError(t, err)
	require.Equal(t, domainledger.TransactionFailed, failed.Status)

	profile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.IsZero())

	// Confirming an already-failed deposit must not resurrect it.
	again, err := l.ConfirmDeposit(ctx, tx.ExternalRef)
	require.NoError(t, err)
	require.Equal(t, domainledger.TransactionFailed, again.Status)
}

func TestInitDepositRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newLedgerWithClient(t, "client-1", decimal.Zero)
	_, err := l.InitDeposit(context.Background(), "client-1", decimal.Zero)
	require.Error(t, err)
}

func TestSettleSessionPartialWhenBalanceShort(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-1", Balance: decimal.NewFromInt(10)}))
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))

	l := New(store.Ledger())
	sess := &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1",
		TotalAmount: decimal.NewFromInt(30), PlatformFee: decimal.NewFromInt(9), ReaderEarnings: decimal.NewFromInt(21),
	}

	result, err := l.SettleSession(ctx, sess)
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.True(t, result.TotalAmount.Equal(decimal.NewFromInt(10)), "charged = %s, want 10 (client's full balance)", result.TotalAmount)
	require.True(t, result.PlatformFee.Equal(decimal.NewFromInt(3)), "fee scales 9 * (10/30) = 3")
	require.True(t, result.ReaderEarnings.Equal(decimal.NewFromInt(7)))
	require.True(t, sess.PartialSettled)

	profile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.IsZero())
}

func TestRefundDoubleRefundConflicts(t *testing.T) {
	ctx := context.Background()
	l, store := newLedgerWithClient(t, "client-1", decimal.Zero)

	tx, err := l.Deposit(ctx, "client-1", decimal.NewFromInt(20), "intent-1")
	require.NoError(t, err)

	refund, err := l.Refund(ctx, tx.ID, "duplicate charge")
	require.NoError(t, err)
	require.Equal(t, tx.ID, refund.RefundOf)
	require.Equal(t, domainledger.TransactionRefund, refund.Type)

	profile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.Equal(decimal.NewFromInt(20)), "refund of a deposit must re-credit the balance")

	_, err = l.Refund(ctx, tx.ID, "duplicate charge")
	require.Error(t, err, "refunding the same transaction twice must fail")
}

func TestRefundOfReadingEarningDoesNotCreditClient(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Clients().Create(ctx, &domainclient.Profile{UserID: "client-1", Balance: decimal.NewFromInt(100)}))
	require.NoError(t, store.Readers().Create(ctx, &reader.Profile{UserID: "reader-1"}))

	l := New(store.Ledger())
	sess := &session.Session{
		ID: "sess-1", ClientID: "client-1", ReaderID: "reader-1",
		TotalAmount: decimal.NewFromInt(30), PlatformFee: decimal.NewFromInt(9), ReaderEarnings: decimal.NewFromInt(21),
	}
	_, err := l.SettleSession(ctx, sess)
	require.NoError(t, err)

	txs, err := l.ListByUser(ctx, "reader-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	earningTx := txs[0]
	require.Equal(t, domainledger.TransactionReadingEarning, earningTx.Type)

	_, err = l.Refund(ctx, earningTx.ID, "reader dispute")
	require.NoError(t, err)

	profile, err := store.Clients().Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, profile.Balance.Equal(decimal.NewFromInt(70)), "refunding a reading_earning row must not touch the client's balance")
}
