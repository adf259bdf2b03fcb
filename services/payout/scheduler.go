// Package payout runs the daily drain of eligible reader pending balances
// to the external payment processor.
package payout

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/notification"
	domainledger "github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/pkg/metrics"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/storage"
)

// staleProcessingHorizon is how long a payout may sit in-flight before the
// restart sweep assumes the process crashed mid-transfer and fails it.
const staleProcessingHorizon = 30 * time.Minute

// Transferrer is the narrow external payment-processor port this scheduler
// consumes (section 6): it moves funds to the reader's external account.
type Transferrer interface {
	Transfer(ctx context.Context, accountHandle string, amount decimal.Decimal) (externalRef string, err error)
}

// Scheduler is the Payout Scheduler of section 4.6.
type Scheduler struct {
	readers     storage.ReaderStore
	ledger      *ledger.Ledger
	transferrer Transferrer
	bus         *eventbus.Bus
	log         *logger.Logger
	minPayout   decimal.Decimal

	cron *cron.Cron
}

func New(readers storage.ReaderStore, ledgerSvc *ledger.Ledger, transferrer Transferrer, bus *eventbus.Bus, log *logger.Logger, minPayout decimal.Decimal) *Scheduler {
	return &Scheduler{
		readers: readers, ledger: ledgerSvc, transferrer: transferrer, bus: bus, log: log, minPayout: minPayout,
		cron: cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start sweeps stale in-flight payouts left over from a prior crash, then
// schedules the daily 02:00 UTC run.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.ledger.SweepStaleProcessing(ctx, staleProcessingHorizon); err != nil {
		return err
	}
	_, err := s.cron.AddFunc("0 2 * * *", func() {
		if err := s.RunOnce(context.Background()); err != nil && s.log != nil {
			s.log.WithField("error", err).Error("payout run failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes the algorithm of section 4.6 once, synchronously.
// Failures processing one reader never block the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	eligible, err := s.readers.ListEligibleForPayout(ctx, s.minPayout)
	if err != nil {
		return err
	}

	for _, r := range eligible {
		s.processOne(ctx, r.UserID, r.PendingBalance, r.ExternalAccountHandle)
	}
	return nil
}

func (s *Scheduler) processOne(ctx context.Context, readerID string, amount decimal.Decimal, accountHandle string) {
	if err := s.Process(ctx, readerID, amount, accountHandle); err != nil {
		metrics.RecordPayoutRun("failed")
		s.notifyFailure(ctx, readerID, err)
		return
	}
	metrics.RecordPayoutRun("completed")
}

// Process drives a single reader's payout through RecordPayout, the
// external transfer, and the final status write. It is exported so the
// manual `POST /payments/reader/payout` route (section 6) can trigger the
// same sequence outside the daily cron run.
func (s *Scheduler) Process(ctx context.Context, readerID string, amount decimal.Decimal, accountHandle string) error {
	tx, err := s.ledger.RecordPayout(ctx, readerID, amount)
	if err != nil {
		return err
	}

	if _, err := s.transferrer.Transfer(ctx, accountHandle, amount); err != nil {
		_ = s.ledger.MarkPayoutStatus(ctx, tx.ID, domainledger.TransactionFailed)
		return err
	}

	return s.ledger.MarkPayoutStatus(ctx, tx.ID, domainledger.TransactionCompleted)
}

func (s *Scheduler) notifyFailure(ctx context.Context, readerID string, cause error) {
	if s.log != nil {
		s.log.WithField("reader_id", readerID).WithField("error", cause).Warn("payout failed")
	}
	if s.bus == nil {
		return
	}
	_, _ = s.bus.NotifyUser(ctx, readerID, notification.TypePayoutFailed,
		"Payout failed", "Your scheduled payout could not be completed and will be retried.", nil)
}
