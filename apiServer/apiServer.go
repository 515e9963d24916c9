// Package apiServer exposes a cipherledger.Ledger over HTTP.
package apiServer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	cipherledger "github.com/i5heu/cipherledger"
	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
)

// Ledger is the part of cipherledger.Ledger the server drives.
type Ledger interface {
	Submit(ctx context.Context, amount decimal.Decimal, sender, receiver ledger.Address, opts ...ledger.SubmitOption) (ledger.Transaction, error)
	Get(ctx context.Context, id string) (ledger.Transaction, error)
	List(ctx context.Context, status ledger.Status) (cipherledger.ListResult, error)
	Stats(ctx context.Context) (ledger.Stats, error)
	Classify(ctx context.Context, id string, caller ledger.Address) (ledger.Transaction, error)
	Evaluate(ctx context.Context, id string, op fhe.Operation) (fhe.EncodedValue, error)
	RetryIndex(ctx context.Context, id string) error
	Challenge() auth.ChallengeParams
	AuthorizeDecrypt(ctx context.Context, challenge string, signer auth.Signer) (*auth.Token, error)
	Reveal(ctx context.Context, id string, tok *auth.Token) (decimal.Decimal, error)
	Threshold() string
}

// CallerHeader carries the address of the account issuing a
// classify request.
const CallerHeader = "X-Ledger-Address"

type Server struct {
	mux      *http.ServeMux
	ledger   Ledger
	log      *slog.Logger
	auth     AuthFunc
	registry *prometheus.Registry
	metrics  *httpMetrics
}

type Option func(*Server)

func New(l Ledger, opts ...Option) *Server { // A
	s := &Server{
		mux:    http.NewServeMux(),
		ledger: l,
		log:    slog.Default(),
		auth:   allowAll,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newHTTPMetrics(s.registry)

	s.routes()
	return s
}

func (s *Server) routes() { // AC
	s.handle("POST /transactions", s.handleSubmit)
	s.handle("GET /transactions", s.handleList)
	s.handle("GET /transactions/{id}", s.handleGet)
	s.handle("POST /transactions/{id}/classify", s.handleClassify)
	s.handle("POST /transactions/{id}/evaluate", s.handleEvaluate)
	s.handle("POST /transactions/{id}/reveal", s.handleReveal)
	s.handle("POST /transactions/{id}/index", s.handleRetryIndex)
	s.handle("GET /challenge", s.handleChallenge)
	s.handle("GET /stats", s.handleStats)
	s.mux.Handle("GET /metrics", s.metricsHandler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // AC
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept, Authorization, " + CallerHeader
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.Warn("authentication failed", "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s.mux.ServeHTTP(w, r)
}
