package httpapi

import (
	"net/http"
	"strings"

	"github.com/orbitline/sessioncore/domain/user"
	"github.com/orbitline/sessioncore/pkg/apierrors"
)

// adminTransactionsDispatch routes POST /admin/transactions/:id/refund (spec
// section C.1): Ledger.refund is named in section 4.2 but the base HTTP
// surface table in section 6 never exposes it, so it is added here gated on
// the admin role.
func (h *handler) adminTransactionsDispatch(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/transactions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "refund" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		h.adminRefund(w, r, parts[0])
	})(w, r)
}

func (h *handler) adminRefund(w http.ResponseWriter, r *http.Request, transactionID string) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	if roleOf(r.Context()) != user.RoleAdmin {
		writeError(w, apierrors.NotAuthorized("admin role required"))
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r.Body, &payload)

	tx, err := h.ledger.Refund(r.Context(), transactionID, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.WithField("admin_id", subject).WithField("transaction_id", transactionID).Info("transaction refunded")
	writeData(w, http.StatusOK, map[string]string{"refund_transaction_id": tx.ID, "status": string(tx.Status)})
}
