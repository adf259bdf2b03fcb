package payout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPTransferrer is the external payment-processor collaborator named in
// section 6: a thin, timeout-bounded REST client that signs every request
// with the processor secret the same way the payment webhook is verified.
type HTTPTransferrer struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
}

// NewHTTPTransferrer builds a transferrer against baseURL (the processor's
// payout endpoint), signing requests with secret.
func NewHTTPTransferrer(baseURL, secret string) *HTTPTransferrer {
	return &HTTPTransferrer{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferRequest struct {
	AccountHandle string `json:"account_handle"`
	Amount        string `json:"amount"`
}

type transferResponse struct {
	ExternalRef string `json:"external_ref"`
}

// Transfer implements payout.Transferrer: POSTs the payout amount to the
// processor's transfer endpoint, signed the way the processor's own
// webhook signature is verified, and returns its external reference.
func (t *HTTPTransferrer) Transfer(ctx context.Context, accountHandle string, amount decimal.Decimal) (string, error) {
	body, err := json.Marshal(transferRequest{AccountHandle: accountHandle, Amount: amount.String()})
	if err != nil {
		return "", fmt.Errorf("payout: encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payout: build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", t.sign(body))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payout: transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("payout: read transfer response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("payout: processor returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed transferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("payout: decode transfer response: %w", err)
	}
	return parsed.ExternalRef, nil
}

func (t *HTTPTransferrer) sign(body []byte) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Transferrer = (*HTTPTransferrer)(nil)
