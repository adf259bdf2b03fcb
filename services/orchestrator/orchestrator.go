// Package orchestrator drives the Session finite state machine: request,
// accept, decline, timeout sweep, and end. It is the coordination point
// between presence, the token broker, the ledger, and the event bus.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/metrics"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/services/ledger"
	"github.com/orbitline/sessioncore/services/presence"
	"github.com/orbitline/sessioncore/services/tokenbroker"
	"github.com/orbitline/sessioncore/storage"
)

// pendingSweepAge is the age at which a still-pending session is
// auto-cancelled by the end-of-life sweep (section 4.1).
const pendingSweepAge = 5 * time.Minute

// Orchestrator implements the Session Orchestrator of section 4.1.
type Orchestrator struct {
	sessions storage.SessionStore
	clients  storage.ClientStore
	readers  storage.ReaderStore

	presence *presence.Registry
	tokens   *tokenbroker.Broker
	ledger   *ledger.Ledger
	bus      *eventbus.Bus
}

func New(sessions storage.SessionStore, clients storage.ClientStore, readers storage.ReaderStore,
	presenceRegistry *presence.Registry, tokens *tokenbroker.Broker, ledgerSvc *ledger.Ledger, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{
		sessions: sessions, clients: clients, readers: readers,
		presence: presenceRegistry, tokens: tokens, ledger: ledgerSvc, bus: bus,
	}
}

// Request implements Orchestrator.request (section 4.1).
func (o *Orchestrator) Request(ctx context.Context, clientID, readerID string, typ session.Type) (*session.Session, error) {
	if !session.ValidType(typ) {
		return nil, apierrors.Validation("unrecognized session type")
	}

	readerProfile, err := o.readers.Get(ctx, readerID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.ReaderUnavailable("reader does not exist")
		}
		return nil, apierrors.Internal("failed to load reader", err)
	}
	if readerProfile.Presence != "online" {
		return nil, apierrors.ReaderUnavailable("reader is not online")
	}

	rate, ok := readerProfile.Rates.RateFor(typ)
	if !ok {
		return nil, apierrors.Validation("reader does not offer this session type")
	}

	clientProfile, err := o.clients.Get(ctx, clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("client profile not found")
		}
		return nil, apierrors.Internal("failed to load client", err)
	}
	if !clientProfile.HasReserve(rate) {
		return nil, apierrors.InsufficientBalance("balance below required reserve")
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	sess := &session.Session{
		ID: id, ClientID: clientID, ReaderID: readerID, Type: typ, Status: session.StatusPending,
		RatePerMin: rate, RequestedAt: now, RTCChannel: "reading-" + id, PubSubChannel: "reading:" + id,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, apierrors.Internal("failed to persist session", err)
	}
	metrics.RecordSessionTransition(string(typ), "request")

	if _, err := o.bus.NotifyUser(ctx, readerID, notification.TypeReadingRequest,
		"New reading request", "A client has requested a "+string(typ)+" reading.",
		map[string]string{"session_id": id}); err != nil {
		return sess, apierrors.Transient("session created but failed to notify reader", err)
	}
	return sess, nil
}

// Accept implements Orchestrator.accept (section 4.1). It is idempotent:
// a second accept on an already-active session owned by the same reader
// returns the same row and a freshly minted token without republishing.
// The whole transition runs inside a per-session row lock (section 5's only
// hard concurrency requirement) so a concurrent accept, decline, end, or
// timeout sweep on the same session can never interleave with this one.
func (o *Orchestrator) Accept(ctx context.Context, readerID, sessionID string) (*session.Session, tokenbroker.RTCToken, error) {
	var alreadyActive, raceLost bool
	sess, err := o.sessions.WithLock(ctx, sessionID, func(sess *session.Session) (bool, error) {
		if sess.ReaderID != readerID {
			return false, apierrors.NotAuthorized("session does not belong to this reader")
		}
		if sess.Status == session.StatusActive {
			alreadyActive = true
			return false, nil
		}
		if sess.Status != session.StatusPending {
			return false, apierrors.InvalidState("session is not pending")
		}

		if err := o.presence.TryReserve(ctx, readerID); err != nil {
			if apierrors.KindOf(err) == apierrors.KindReaderUnavailable {
				sess.Status = session.StatusCancelled
				sess.Notes = "reader_already_in_session"
				raceLost = true
				return true, err
			}
			return false, err
		}

		now := time.Now().UTC()
		sess.Status = session.StatusActive
		sess.StartTime = &now
		return true, nil
	})
	if err == storage.ErrNotFound {
		return nil, tokenbroker.RTCToken{}, apierrors.NotFound("session not found")
	}
	if err != nil {
		if raceLost {
			metrics.RecordAcceptRaceLoss(readerID)
		}
		if _, ok := err.(*apierrors.Error); !ok {
			err = apierrors.Internal("failed to persist session", err)
		}
		return nil, tokenbroker.RTCToken{}, err
	}

	if alreadyActive {
		return sess, o.tokens.IssueRTCToken(readerID, sess.RTCChannel, tokenbroker.RolePublisher), nil
	}
	metrics.RecordSessionTransition(string(sess.Type), "accept")

	clientToken := o.tokens.IssueRTCToken(sess.ClientID, sess.RTCChannel, tokenbroker.RolePublisher)
	readerToken := o.tokens.IssueRTCToken(readerID, sess.RTCChannel, tokenbroker.RolePublisher)

	if _, err := o.bus.NotifyUser(ctx, sess.ClientID, notification.TypeSessionAccepted,
		"Reading accepted", "Your reading request was accepted.",
		map[string]string{"session_id": sess.ID, "rtc_token": clientToken.Token, "channel": sess.RTCChannel}); err != nil {
		return sess, readerToken, apierrors.Transient("session accepted but failed to notify client", err)
	}
	if err := o.bus.PublishSession(ctx, sess.ID, "session-started", nil); err != nil {
		return sess, readerToken, apierrors.Transient("session accepted but failed to publish session-started", err)
	}

	return sess, readerToken, nil
}

// Decline implements Orchestrator.decline, serialized per session through
// the same row lock as Accept/End/SweepTimeouts.
func (o *Orchestrator) Decline(ctx context.Context, readerID, sessionID, reason string) (*session.Session, error) {
	sess, err := o.sessions.WithLock(ctx, sessionID, func(sess *session.Session) (bool, error) {
		if sess.ReaderID != readerID {
			return false, apierrors.NotAuthorized("session does not belong to this reader")
		}
		if sess.Status != session.StatusPending {
			return false, apierrors.InvalidState("session is not pending")
		}
		sess.Status = session.StatusCancelled
		sess.Notes = reason
		return true, nil
	})
	if err == storage.ErrNotFound {
		return nil, apierrors.NotFound("session not found")
	}
	if err != nil {
		if _, ok := err.(*apierrors.Error); !ok {
			err = apierrors.Internal("failed to persist session", err)
		}
		return nil, err
	}
	metrics.RecordSessionTransition(string(sess.Type), "decline")

	if _, err := o.bus.NotifyUser(ctx, sess.ClientID, notification.TypeSessionDeclined,
		"Reading declined", "The reader declined your request.",
		map[string]string{"session_id": sess.ID}); err != nil {
		return sess, apierrors.Transient("session declined but failed to notify client", err)
	}
	return sess, nil
}

// SweepTimeouts auto-cancels pending sessions older than the five-minute
// window, per the end-of-life sweep described in section 4.1. Each
// cancellation takes that session's row lock individually so it can never
// race a concurrent accept or decline of the same session.
func (o *Orchestrator) SweepTimeouts(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-pendingSweepAge)
	stale, err := o.sessions.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apierrors.Internal("failed to list pending sessions", err)
	}
	swept := 0
	for _, sess := range stale {
		_, err := o.sessions.WithLock(ctx, sess.ID, func(sess *session.Session) (bool, error) {
			if sess.Status != session.StatusPending {
				return false, nil // already transitioned by a concurrent accept/decline
			}
			sess.Status = session.StatusCancelled
			sess.Notes = "timeout"
			return true, nil
		})
		if err != nil {
			return swept, apierrors.Internal("failed to cancel timed-out session", err)
		}
		metrics.RecordSessionTransition(string(sess.Type), "timeout")
		swept++
	}
	return swept, nil
}

// End implements Orchestrator.end. It is idempotent: a second end returns
// the already-settled session without further ledger writes. The status
// check, the ledger settlement, and the session row's own completion are
// all performed while this session's row lock is held, so two concurrent
// ends can never both observe status==active and both settle.
func (o *Orchestrator) End(ctx context.Context, subjectID, sessionID string) (*session.Session, error) {
	var alreadyCompleted bool
	sess, err := o.sessions.WithLock(ctx, sessionID, func(sess *session.Session) (bool, error) {
		if subjectID != sess.ClientID && subjectID != sess.ReaderID {
			return false, apierrors.NotAuthorized("subject is not a party to this session")
		}
		if sess.Status == session.StatusCompleted {
			alreadyCompleted = true
			return false, nil
		}
		if sess.Status != session.StatusActive {
			return false, apierrors.InvalidState("session was never accepted")
		}
		if sess.StartTime == nil {
			return false, apierrors.Internal("active session missing start_time", nil)
		}

		now := time.Now().UTC()
		durationSeconds, minutesBilled := session.BillingWindow(*sess.StartTime, now)
		total, fee, earnings := ledger.ComputeCharge(sess.RatePerMin, minutesBilled)

		sess.EndTime = &now
		sess.DurationSeconds = durationSeconds
		sess.TotalAmount = total
		sess.PlatformFee = fee
		sess.ReaderEarnings = earnings
		sess.Status = session.StatusCompleted

		if _, err := o.ledger.SettleSession(ctx, sess); err != nil {
			// Leave the session row untouched on a settlement failure: end is
			// safely retryable because nothing has been persisted yet.
			return false, apierrors.Transient("failed to settle session", err)
		}
		return true, nil
	})
	if err == storage.ErrNotFound {
		return nil, apierrors.NotFound("session not found")
	}
	if err != nil {
		if _, ok := err.(*apierrors.Error); !ok {
			err = apierrors.Internal("failed to persist completed session", err)
		}
		return nil, err
	}
	if alreadyCompleted {
		return sess, nil // idempotent
	}
	metrics.RecordSessionTransition(string(sess.Type), "end")

	if err := o.presence.Release(ctx, sess.ReaderID); err != nil {
		return sess, apierrors.Transient("session ended but failed to release presence", err)
	}
	if err := o.bus.PublishSession(ctx, sess.ID, "session-ended", nil); err != nil {
		return sess, apierrors.Transient("session ended but failed to publish session-ended", err)
	}

	summary := map[string]string{
		"session_id": sess.ID,
		"total":      sess.TotalAmount.String(),
	}
	if _, err := o.bus.NotifyUser(ctx, sess.ClientID, notification.TypeSessionEnded, "Reading ended", "Your reading has ended.", summary); err != nil {
		return sess, apierrors.Transient("session ended but failed to notify client", err)
	}
	if _, err := o.bus.NotifyUser(ctx, sess.ReaderID, notification.TypeSessionEnded, "Reading ended", "Your reading has ended.", summary); err != nil {
		return sess, apierrors.Transient("session ended but failed to notify reader", err)
	}

	return sess, nil
}

// GetForParty backs GET /sessions/:id (section 6): it returns the session
// row plus whether subjectID is one of its two parties, so the HTTP
// surface can decide whether to attach an RTC token without leaking other
// sessions' rows to non-parties who merely know the id.
func (o *Orchestrator) GetForParty(ctx context.Context, subjectID, sessionID string) (*session.Session, bool, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, false, apierrors.NotFound("session not found")
		}
		return nil, false, apierrors.Internal("failed to load session", err)
	}
	isParty := subjectID == sess.ClientID || subjectID == sess.ReaderID
	if !isParty {
		return nil, false, apierrors.NotAuthorized("caller is not a party to this session")
	}
	return sess, isParty, nil
}

// PublishMessage implements POST /sessions/:id/messages (section 6): it
// requires the session be active and the caller a party, then fans the
// chat body out on the session's pub/sub channel. Message persistence is
// out of the core's scope (section 1); only the publish contract lives
// here.
func (o *Orchestrator) PublishMessage(ctx context.Context, subjectID, sessionID, body string) error {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apierrors.NotFound("session not found")
		}
		return apierrors.Internal("failed to load session", err)
	}
	if subjectID != sess.ClientID && subjectID != sess.ReaderID {
		return apierrors.NotAuthorized("caller is not a party to this session")
	}
	if sess.Status != session.StatusActive {
		return apierrors.InvalidState("session is not active")
	}
	if err := o.bus.PublishSession(ctx, sess.ID, "message", map[string]string{"from": subjectID, "body": body}); err != nil {
		return apierrors.Transient("failed to publish message", err)
	}
	return nil
}
