package httpapi

import "net/http"

// realtimePubSubToken implements POST /realtime/pubsub-token: an
// authenticated caller mints a wildcard-scoped pub/sub credential so it can
// subscribe to its own notifications:<user_id> channel and to
// reading:<session_id> for any session it is a party to, per the fan-out
// design of section 4.5. Without this route the broker's pub/sub token was
// reachable only from unit tests.
func (h *handler) realtimePubSubToken(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, h.tokens.IssuePubSubToken(subject))
}
