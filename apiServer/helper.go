package apiServer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cipherledger "github.com/i5heu/cipherledger"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
	Step      string `json:"step,omitempty"`
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(err error) int {
	switch ledgererr.Kind(err) {
	case ledgererr.ErrInvalidInput,
		ledgererr.ErrValueOutOfRange,
		ledgererr.ErrUnsupportedOperation:
		return http.StatusBadRequest
	case ledgererr.ErrMalformedCiphertext:
		return http.StatusUnprocessableEntity
	case ledgererr.ErrAuthorizationDenied:
		return http.StatusUnauthorized
	case ledgererr.ErrNotAuthorized:
		return http.StatusForbidden
	case ledgererr.ErrNotFound:
		return http.StatusNotFound
	case ledgererr.ErrAlreadyClassified, ledgererr.ErrInvalidTransition:
		return http.StatusConflict
	case ledgererr.ErrStore:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, cipherledger.ErrNotStarted) || errors.Is(err, cipherledger.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:     err.Error(),
		Retryable: ledgererr.Retryable(err),
	}
	if kind := ledgererr.Kind(err); kind != nil {
		resp.Kind = kindName(kind)
	}
	var perr *cipherledger.PersistError
	if errors.As(err, &perr) {
		resp.Step = string(perr.Step)
	}
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

func kindName(kind error) string {
	switch kind {
	case ledgererr.ErrValueOutOfRange:
		return "value_out_of_range"
	case ledgererr.ErrMalformedCiphertext:
		return "malformed_ciphertext"
	case ledgererr.ErrUnsupportedOperation:
		return "unsupported_operation"
	case ledgererr.ErrAuthorizationDenied:
		return "authorization_denied"
	case ledgererr.ErrNotAuthorized:
		return "not_authorized"
	case ledgererr.ErrAlreadyClassified:
		return "already_classified"
	case ledgererr.ErrInvalidTransition:
		return "invalid_transition"
	case ledgererr.ErrStore:
		return "store_error"
	case ledgererr.ErrNotFound:
		return "not_found"
	case ledgererr.ErrInvalidInput:
		return "invalid_input"
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

func WithLogger(logger *slog.Logger) Option { // HC
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option { // HC
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

// WithRegistry serves reg on /metrics and registers the HTTP
// metrics there. Ledger metrics show up when the ledger was
// configured with the same registry.
func WithRegistry(reg *prometheus.Registry) Option { // HC
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}
