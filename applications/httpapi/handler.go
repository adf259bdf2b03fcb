// Package httpapi is the HTTP Surface of spec section 6: routes and
// request validation binding the orchestrator, ledger, presence registry,
// review aggregator, and notification store to the external contract. It
// holds no business logic of its own — every handler is a thin decode,
// auth/rate-limit guard, delegate, encode.
package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/pkg/identity"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/pkg/metrics"
	"github.com/orbitline/sessioncore/services/identitysync"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/services/orchestrator"
	"github.com/orbitline/sessioncore/services/payout"
	"github.com/orbitline/sessioncore/services/presence"
	"github.com/orbitline/sessioncore/services/ratelimit"
	"github.com/orbitline/sessioncore/services/review"
	"github.com/orbitline/sessioncore/services/tokenbroker"
	"github.com/orbitline/sessioncore/storage"
)

// handler holds every service the HTTP surface dispatches into.
type handler struct {
	orchestrator *orchestrator.Orchestrator
	ledger       *ledger.Ledger
	presence     *presence.Registry
	tokens       *tokenbroker.Broker
	reviews      *review.Aggregator
	identity     *identitysync.Syncer
	notes        storage.NotificationStore
	clients      storage.ClientStore
	readers      storage.ReaderStore
	scheduler    *payout.Scheduler
	minPayout    decimal.Decimal

	identityValidator  *identity.Validator
	paymentWebhookHMAC []byte

	limiter *ratelimit.Limiter
	log     *logger.Logger
}

// Deps bundles the constructor arguments for NewHandler.
type Deps struct {
	Orchestrator       *orchestrator.Orchestrator
	Ledger             *ledger.Ledger
	Presence           *presence.Registry
	Tokens             *tokenbroker.Broker
	Reviews            *review.Aggregator
	Identity           *identitysync.Syncer
	Notifications      storage.NotificationStore
	Clients            storage.ClientStore
	Readers            storage.ReaderStore
	Scheduler          *payout.Scheduler
	MinPayout          decimal.Decimal
	IdentityValidator  *identity.Validator
	PaymentWebhookHMAC []byte
	Limiter            *ratelimit.Limiter
	Log                *logger.Logger
}

// NewHandler builds the full routed mux for the session core's HTTP
// surface.
func NewHandler(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logger.NewDefault("http")
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(nil)
	}
	h := &handler{
		orchestrator: d.Orchestrator, ledger: d.Ledger, presence: d.Presence, tokens: d.Tokens,
		reviews: d.Reviews, identity: d.Identity, notes: d.Notifications, clients: d.Clients, readers: d.Readers,
		scheduler: d.Scheduler, minPayout: d.MinPayout,
		identityValidator: d.IdentityValidator, paymentWebhookHMAC: d.PaymentWebhookHMAC,
		limiter: d.Limiter, log: d.Log,
	}

	mux := http.NewServeMux()
	mountRoutes(mux,
		route{pattern: "/auth/sync", method: http.MethodPost, handler: h.rateLimited(ratelimit.CategoryAuthSync, h.authSync)},
		route{pattern: "/sessions/request", method: http.MethodPost, handler: h.rateLimited(ratelimit.CategorySessionReq, h.sessionsRequest)},
		route{pattern: "/sessions/", handler: h.sessionsDispatch},
		route{pattern: "/payments/add-funds", method: http.MethodPost, handler: h.rateLimited(ratelimit.CategoryPayments, h.paymentsAddFunds)},
		route{pattern: "/payments/reader/payout", method: http.MethodPost, handler: h.rateLimited(ratelimit.CategoryPayments, h.paymentsReaderPayout)},
		route{pattern: "/readers/me/status", method: http.MethodPatch, handler: h.readersSetStatus},
		route{pattern: "/readers/online", method: http.MethodGet, handler: h.readersOnline},
		route{pattern: "/realtime/pubsub-token", method: http.MethodPost, handler: h.realtimePubSubToken},
		route{pattern: "/webhooks/payments", method: http.MethodPost, handler: h.webhooksPayments},
		route{pattern: "/notifications", method: http.MethodGet, handler: h.notificationsList},
		route{pattern: "/notifications/", handler: h.notificationsDispatch},
		route{pattern: "/admin/transactions/", handler: h.adminTransactionsDispatch},
	)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
