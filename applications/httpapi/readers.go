package httpapi

import (
	"net/http"

	"github.com/orbitline/sessioncore/domain/user"
)

// readersSetStatus implements PATCH /readers/me/status: a reader-initiated
// presence transition (online/offline/busy). in_session is reachable only
// through the orchestrator, never this route.
func (h *handler) readersSetStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, badRequest("malformed request body"))
		return
	}
	if err := h.presence.Set(r.Context(), subject, user.Presence(payload.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": payload.Status})
}

// readersOnline implements GET /readers/online (spec section C.2): an
// unauthenticated read-model listing available reader ids, backing a
// browse/discovery page.
func (h *handler) readersOnline(w http.ResponseWriter, r *http.Request) {
	ids, err := h.presence.ListOnline(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string][]string{"reader_ids": ids})
}
