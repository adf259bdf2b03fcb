package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/storage"
)

// notificationsList implements GET /notifications: the authenticated
// caller's own inbox, most recent first.
func (h *handler) notificationsList(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	notes, err := h.notes.ListByUser(r.Context(), subject, limit)
	if err != nil {
		writeError(w, apierrors.Internal("failed to list notifications", err))
		return
	}
	writeData(w, http.StatusOK, notificationViews(notes))
}

// notificationsDispatch routes PATCH /notifications/:id/read (spec section
// C.4): the notification read/unread toggle the base HTTP surface table
// omits.
func (h *handler) notificationsDispatch(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/notifications"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "read" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	withMethod(http.MethodPatch, func(w http.ResponseWriter, r *http.Request) {
		h.notificationMarkRead(w, r, parts[0])
	})(w, r)
}

func (h *handler) notificationMarkRead(w http.ResponseWriter, r *http.Request, id string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.notes.MarkRead(r.Context(), id, subject); err != nil {
		if err == storage.ErrNotFound {
			writeError(w, apierrors.NotFound("notification not found"))
			return
		}
		writeError(w, apierrors.Internal("failed to update notification", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "read": "true"})
}

type notificationPayload struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt string            `json:"created_at"`
}

func notificationViews(notes []*notification.Notification) []notificationPayload {
	out := make([]notificationPayload, 0, len(notes))
	for _, n := range notes {
		out = append(out, notificationPayload{
			ID: n.ID, Type: string(n.Type), Title: n.Title, Body: n.Body,
			Metadata: n.Metadata, Read: n.Read, CreatedAt: n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}
