package httpapi

import (
	"net/http"
	"strings"

	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/services/ratelimit"
	"github.com/orbitline/sessioncore/services/tokenbroker"
)

// rateLimited wraps fn with a per-category budget check.
func (h *handler) rateLimited(cat ratelimit.Category, fn http.HandlerFunc) http.HandlerFunc {
	return wrapWithRateLimit(h.limiter, cat, fn)
}

// sessionsRequest implements POST /sessions/request.
func (h *handler) sessionsRequest(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		ReaderID string `json:"reader_id"`
		Type     string `json:"type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, badRequest("malformed request body"))
		return
	}
	sess, err := h.orchestrator.Request(r.Context(), subject, payload.ReaderID, session.Type(payload.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sessionView(sess, ""))
}

// sessionsDispatch routes /sessions/:id[/action].
func (h *handler) sessionsDispatch(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sessionID := parts[0]
	switch {
	case len(parts) == 1:
		h.rateLimited(ratelimit.CategoryGeneral, func(w http.ResponseWriter, r *http.Request) { h.sessionGet(w, r, sessionID) })(w, r)
	case len(parts) == 2 && parts[1] == "accept":
		withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { h.sessionAccept(w, r, sessionID) })(w, r)
	case len(parts) == 2 && parts[1] == "decline":
		withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { h.sessionDecline(w, r, sessionID) })(w, r)
	case len(parts) == 2 && parts[1] == "end":
		withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { h.sessionEnd(w, r, sessionID) })(w, r)
	case len(parts) == 2 && parts[1] == "review":
		withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { h.sessionReview(w, r, sessionID) })(w, r)
	case len(parts) == 2 && parts[1] == "messages":
		h.rateLimited(ratelimit.CategoryMessages, withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { h.sessionMessage(w, r, sessionID) }))(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) sessionAccept(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	sess, token, err := h.orchestrator.Accept(r.Context(), subject, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, struct {
		Session sessionPayload `json:"session"`
		Token   interface{}    `json:"token"`
	}{sessionView(sess, ""), token})
}

func (h *handler) sessionDecline(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r.Body, &payload)
	sess, err := h.orchestrator.Decline(r.Context(), subject, sessionID, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionView(sess, ""))
}

func (h *handler) sessionEnd(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	sess, err := h.orchestrator.End(r.Context(), subject, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionView(sess, ""))
}

// sessionGet implements GET /sessions/:id: returns an RTC token alongside
// the session when the caller is a party and the session is active.
func (h *handler) sessionGet(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	sess, isParty, err := h.orchestrator.GetForParty(r.Context(), subject, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	var token interface{}
	if isParty && sess.Status == session.StatusActive {
		token = h.tokens.IssueRTCToken(subject, sess.RTCChannel, tokenbroker.RolePublisher)
	}
	writeData(w, http.StatusOK, struct {
		Session sessionPayload `json:"session"`
		Token   interface{}    `json:"token,omitempty"`
	}{sessionView(sess, ""), token})
}

// sessionMessage implements POST /sessions/:id/messages: validates the
// session is active and fans the chat message out on the session channel.
// Message persistence itself is out of core scope (spec section 1); only
// the publish contract is specified here.
func (h *handler) sessionMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil || strings.TrimSpace(payload.Body) == "" {
		writeError(w, badRequest("message body is required"))
		return
	}
	if err := h.orchestrator.PublishMessage(r.Context(), subject, sessionID, payload.Body); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"status": "sent"})
}

func (h *handler) sessionReview(w http.ResponseWriter, r *http.Request, sessionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, badRequest("malformed request body"))
		return
	}
	rv, err := h.reviews.Submit(r.Context(), subject, sessionID, payload.Rating, payload.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, rv)
}

// sessionPayload is the wire shape for Session, hiding internal-only
// fields (Notes) from non-owning callers.
type sessionPayload struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	ReaderID        string `json:"reader_id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	RatePerMin      string `json:"rate_per_min"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	TotalAmount     string `json:"total_amount,omitempty"`
	PlatformFee     string `json:"platform_fee,omitempty"`
	ReaderEarnings  string `json:"reader_earnings,omitempty"`
	RTCChannel      string `json:"rtc_channel"`
	PartialSettled  bool   `json:"partial_settlement,omitempty"`
}

func sessionView(s *session.Session, _ string) sessionPayload {
	return sessionPayload{
		ID: s.ID, ClientID: s.ClientID, ReaderID: s.ReaderID, Type: string(s.Type), Status: string(s.Status),
		RatePerMin: s.RatePerMin.String(), DurationSeconds: s.DurationSeconds,
		TotalAmount: s.TotalAmount.String(), PlatformFee: s.PlatformFee.String(), ReaderEarnings: s.ReaderEarnings.String(),
		RTCChannel: s.RTCChannel, PartialSettled: s.PartialSettled,
	}
}
