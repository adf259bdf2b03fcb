package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/orbitline/sessioncore/domain/ledger"
	"github.com/orbitline/sessioncore/pkg/apierrors"
)

// paymentsAddFunds implements POST /payments/add-funds: opens a
// payment-intent-backed deposit and hands the client the processor
// reference it must present to whatever client-side confirmation flow the
// payment processor SDK drives. The balance is not credited here — only
// webhooksPayments does that, once the processor confirms the charge.
func (h *handler) paymentsAddFunds(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, badRequest("malformed request body"))
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, badRequest("amount must be a positive decimal"))
		return
	}
	tx, err := h.ledger.InitDeposit(r.Context(), subject, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]string{
		"transaction_id": tx.ID,
		"payment_intent": tx.ExternalRef,
		"status":         string(tx.Status),
	})
}

// paymentsReaderPayout implements POST /payments/reader/payout: an
// authenticated reader draining their own pending balance outside the daily
// cron run (spec section 6). It rejects below-floor balances and inactive
// payout accounts the same way the scheduled run's eligibility filter does.
func (h *handler) paymentsReaderPayout(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireAuth(w, r)
	if !ok {
		return
	}
	profile, err := h.readers.Get(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	if !profile.EligibleForPayout(h.minPayout) {
		reason := "BELOW_MIN_PAYOUT"
		if profile.ExternalAccountStatus != "active" {
			reason = "ACCOUNT_NOT_ACTIVE"
		}
		writeError(w, apierrors.InvalidState("reader is not eligible for payout").WithDetail("code", reason))
		return
	}
	amount := profile.PendingBalance
	if err := h.scheduler.Process(r.Context(), profile.UserID, amount, profile.ExternalAccountHandle); err != nil {
		writeError(w, apierrors.Transient("payout transfer failed", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "completed", "amount": amount.String()})
}

// webhooksPayments implements POST /webhooks/payments: the payment
// processor's asynchronous confirmation of a previously-opened deposit
// intent, authenticated by an HMAC-SHA256 signature over the raw body the
// same way the teacher's inbound webhook handlers verify theirs.
func (h *handler) webhooksPayments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, badRequest("unreadable request body"))
		return
	}
	defer r.Body.Close()

	if !h.verifyWebhookSignature(r, body) {
		writeError(w, badRequest("invalid webhook signature"))
		return
	}

	var payload struct {
		PaymentIntent string `json:"payment_intent"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, badRequest("malformed webhook payload"))
		return
	}

	var tx *ledger.Transaction
	switch payload.Status {
	case "succeeded":
		tx, err = h.ledger.ConfirmDeposit(r.Context(), payload.PaymentIntent)
	case "failed":
		tx, err = h.ledger.FailDeposit(r.Context(), payload.PaymentIntent)
	default:
		writeError(w, badRequest("unrecognized webhook status"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"transaction_id": tx.ID, "status": string(tx.Status)})
}

// verifyWebhookSignature checks the X-Webhook-Signature header against an
// HMAC-SHA256 of the raw body, constant-time, the same shape the teacher's
// inbound webhook verifier uses. A nil configured secret fails closed.
func (h *handler) verifyWebhookSignature(r *http.Request, body []byte) bool {
	if len(h.paymentWebhookHMAC) == 0 {
		return false
	}
	sig := r.Header.Get("X-Webhook-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.paymentWebhookHMAC)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}
