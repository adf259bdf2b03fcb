// Command appserver runs the session core's HTTP surface: the orchestrator,
// ledger, presence registry, token broker, event bus, review aggregator,
// and payout scheduler wired against either PostgreSQL or an in-memory
// store, matching the teacher's cmd/appserver wiring shape.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/applications/httpapi"
	"github.com/orbitline/sessioncore/domain/reader"
	"github.com/orbitline/sessioncore/pkg/config"
	"github.com/orbitline/sessioncore/pkg/identity"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/pkg/pgnotify"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/services/identitysync"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/services/orchestrator"
	"github.com/orbitline/sessioncore/services/payout"
	"github.com/orbitline/sessioncore/services/presence"
	"github.com/orbitline/sessioncore/services/ratelimit"
	"github.com/orbitline/sessioncore/services/review"
	"github.com/orbitline/sessioncore/services/tokenbroker"
	"github.com/orbitline/sessioncore/storage"
	"github.com/orbitline/sessioncore/storage/memory"
	"github.com/orbitline/sessioncore/storage/postgres"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides SERVER_HOST/PORT)")
	migrate := flag.Bool("migrate", true, "apply the embedded schema on startup (ignored for in-memory storage)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("appserver", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	ledger.PlatformFeeFraction = decimal.NewFromFloat(cfg.PlatformFeeFraction())

	rootCtx := context.Background()

	var (
		userStore    storage.UserStore
		clientStore  storage.ClientStore
		readerStore  storage.ReaderStore
		sessionStore storage.SessionStore
		ledgerStore  storage.LedgerStore
		reviewStore  storage.ReviewStore
		noteStore    storage.NotificationStore
		db           *sql.DB
		transport    eventbus.Publisher
	)

	if cfg.Database.DSN != "" {
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.WithField("error", err).Fatal("open database")
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
		if err := db.PingContext(rootCtx); err != nil {
			log.WithField("error", err).Fatal("ping database")
		}
		if *migrate {
			if err := postgres.ApplySchema(rootCtx, db); err != nil {
				log.WithField("error", err).Fatal("apply schema")
			}
		}

		userStore = postgres.NewUserStore(db)
		clientStore = postgres.NewClientStore(db)
		readerStore = postgres.NewReaderStore(db)
		sessionStore = postgres.NewSessionStore(db)
		ledgerStore = postgres.NewLedgerStore(db)
		reviewStore = postgres.NewReviewStore(db)
		noteStore = postgres.NewNotificationStore(db)

		bus, err := pgnotify.NewWithDB(db, cfg.Database.DSN)
		if err != nil {
			log.WithField("error", err).Fatal("start pgnotify bus")
		}
		transport = bus
	} else {
		log.Warn("DATABASE_URL not set; running with in-memory storage, not for production use")
		store := memory.New()
		userStore = store
		clientStore = store.Clients()
		readerStore = store.Readers()
		sessionStore = store.Sessions()
		ledgerStore = store.Ledger()
		reviewStore = store.Reviews()
		noteStore = store.Notifications()
		transport = noopTransport{}
	}
	if db != nil {
		defer db.Close()
	}

	bus := eventbus.New(transport, noteStore, logger.New("eventbus", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}))
	presenceRegistry := presence.New(readerStore, bus)
	tokens := tokenbroker.New(cfg.RTC.AppID, cfg.RTC.Certificate, cfg.PubSub.APIKey)
	ledgerSvc := ledger.New(ledgerStore)
	orch := orchestrator.New(sessionStore, clientStore, readerStore, presenceRegistry, tokens, ledgerSvc, bus)
	reviews := review.New(reviewStore, sessionStore, readerStore, bus)

	minPayout := decimal.NewFromFloat(cfg.Platform.MinimumPayout)
	transferrer := payout.NewHTTPTransferrer(cfg.Payment.BaseURL, cfg.Payment.Secret)
	scheduler := payout.New(readerStore, ledgerSvc, transferrer, bus, logger.New("payout", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}), minPayout)
	if err := scheduler.Start(rootCtx); err != nil {
		log.WithField("error", err).Fatal("start payout scheduler")
	}
	defer scheduler.Stop()

	validator := identity.New(cfg.Identity.JWTSecret, cfg.Identity.Audience)
	limiter := ratelimit.New(nil)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	identitySyncer := identitysync.New(userStore, clientStore, readerStore, reader.Rates{
		Chat:  decimal.NewFromFloat(cfg.DefaultRates.Chat),
		Voice: decimal.NewFromFloat(cfg.DefaultRates.Voice),
		Video: decimal.NewFromFloat(cfg.DefaultRates.Video),
	})

	deps := httpapi.Deps{
		Orchestrator: orch, Ledger: ledgerSvc, Presence: presenceRegistry, Tokens: tokens, Reviews: reviews,
		Identity:      identitySyncer,
		Notifications: noteStore, Clients: clientStore, Readers: readerStore, Scheduler: scheduler, MinPayout: minPayout,
		IdentityValidator: validator, PaymentWebhookHMAC: []byte(cfg.Payment.WebhookSecret),
		Limiter: limiter, Log: logger.New("http", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}),
	}
	svc := httpapi.NewService(listenAddr, deps, validator)
	if err := svc.Start(rootCtx); err != nil {
		log.WithField("error", err).Fatal("start http service")
	}
	log.WithField("addr", svc.Addr()).Info("session core listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.WithField("error", err).Fatal("shutdown http service")
	}
}

// noopTransport discards every publish; used only when running with
// in-memory storage and no pub/sub backend configured.
type noopTransport struct{}

func (noopTransport) Publish(ctx context.Context, channel string, payload interface{}) error {
	return nil
}
