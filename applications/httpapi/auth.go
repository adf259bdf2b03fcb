package httpapi

import (
	"net/http"

	"github.com/orbitline/sessioncore/domain/user"
)

// authSync implements POST /auth/sync: the first-sight provisioning hook
// named by the User entity's lifecycle (spec section 3). The caller must
// already carry a validated identity token; this only upserts the core's
// local User row (and its client/reader profile) for that subject.
func (h *handler) authSync(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	role := roleOf(r.Context())
	if role == "" {
		role = user.RoleClient
	}
	u, err := h.identity.Ensure(r.Context(), subject, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, u)
}
