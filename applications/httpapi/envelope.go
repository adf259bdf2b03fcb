package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/pkg/apierrors"
)

// envelope is the response shape named in spec section 6: either a success
// payload or a typed error, never both.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeData writes a success envelope with the given HTTP status.
func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError converts any error into the fixed-kind error envelope of
// spec section 7, defaulting unrecognized errors to INTERNAL and never
// leaking the underlying cause into the response body.
func writeError(w http.ResponseWriter, err error) {
	var svcErr *apierrors.Error
	if !errors.As(err, &svcErr) {
		svcErr = apierrors.Internal("unexpected error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &errorBody{
			Code:    string(svcErr.Kind),
			Message: svcErr.Message,
			Details: svcErr.Details,
		},
	})
}

// writeUnauthenticated writes a bare 401: "unauthenticated" is a status
// code named in spec section 6 but is not one of the ten error kinds of
// section 7 (NOT_AUTHORIZED covers only the 403 ownership/role case), so
// it bypasses the typed error envelope the same way methodNotAllowed does.
func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &errorBody{Code: "UNAUTHENTICATED", Message: "authentication required"},
	})
}

func badRequest(message string) *apierrors.Error {
	return apierrors.Validation(message)
}

// parseAmount parses a client-supplied decimal string, rejecting anything
// non-positive so handlers never hand the ledger a zero or negative amount.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("amount must be positive")
	}
	return d, nil
}
