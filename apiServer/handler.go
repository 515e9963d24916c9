package apiServer

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

type transactionResponse struct {
	ID        string           `json:"id"`
	Amount    fhe.EncodedValue `json:"amount"`
	Sender    string           `json:"sender"`
	Receiver  string           `json:"receiver"`
	Timestamp int64            `json:"timestamp"`
	Status    string           `json:"status"`
	AMLCheck  bool             `json:"amlCheck"`
}

func toResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		Amount:    tx.Amount,
		Sender:    string(tx.Sender),
		Receiver:  string(tx.Receiver),
		Timestamp: tx.CreatedAt.Unix(),
		Status:    string(tx.Status),
		AMLCheck:  tx.AMLChecked,
	}
}

type submitRequest struct {
	ID       string           `json:"id,omitempty"`
	Amount   *decimal.Decimal `json:"amount"`
	Sender   string           `json:"sender"`
	Receiver string           `json:"receiver"`
}

type listResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Missing      []string              `json:"missing,omitempty"`
	Corrupt      []string              `json:"corrupt,omitempty"`
}

type evaluateRequest struct {
	Operation string `json:"operation"`
	Factor    string `json:"factor,omitempty"`
}

type evaluateResponse struct {
	ID     string           `json:"id"`
	Result fhe.EncodedValue `json:"result"`
}

type challengeResponse struct {
	PublicKey          string `json:"publicKey"`
	ContractAddress    string `json:"contractAddress"`
	ChainID            uint64 `json:"chainId"`
	WindowStart        int64  `json:"windowStart"`
	WindowDurationDays uint32 `json:"windowDurationDays"`
	Message            string `json:"message"`
}

type revealRequest struct {
	Challenge string `json:"challenge"`
	// Signature is base64 encoded.
	Signature string `json:"signature"`
}

type revealResponse struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) { // PA
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", ledgererr.ErrInvalidInput, err))
		return
	}
	if req.Amount == nil {
		s.writeError(w, r, fmt.Errorf("%w: amount is required", ledgererr.ErrInvalidInput))
		return
	}

	var opts []ledger.SubmitOption
	if req.ID != "" {
		opts = append(opts, ledger.WithID(req.ID))
	}

	tx, err := s.ledger.Submit(
		r.Context(),
		*req.Amount,
		ledger.Address(req.Sender),
		ledger.Address(req.Receiver),
		opts...,
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(tx))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) { // A
	var status ledger.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := ledger.ParseStatus(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status = parsed
	}

	res, err := s.ledger.List(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listResponse{
		Transactions: make([]transactionResponse, 0, len(res.Transactions)),
		Missing:      res.Missing,
		Corrupt:      res.Corrupt,
	}
	for _, tx := range res.Transactions {
		resp.Transactions = append(resp.Transactions, toResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) { // A
	tx, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tx))
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) { // A
	caller := strings.TrimSpace(r.Header.Get(CallerHeader))
	if caller == "" {
		s.writeError(w, r, fmt.Errorf("%w: missing %s header", ledgererr.ErrInvalidInput, CallerHeader))
		return
	}

	tx, err := s.ledger.Classify(r.Context(), r.PathValue("id"), ledger.Address(caller))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tx))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) { // A
	var req evaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", ledgererr.ErrInvalidInput, err))
		return
	}
	op, err := fhe.ParseOperation(req.Operation, req.Factor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	result, err := s.ledger.Evaluate(r.Context(), id, op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{ID: id, Result: result})
}

func (s *Server) handleRetryIndex(w http.ResponseWriter, r *http.Request) { // A
	if err := s.ledger.RetryIndex(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) { // A
	p := s.ledger.Challenge()
	writeJSON(w, http.StatusOK, challengeResponse{
		PublicKey:          p.PublicKey,
		ContractAddress:    p.ContractAddress,
		ChainID:            p.ChainID,
		WindowStart:        p.WindowStart.Unix(),
		WindowDurationDays: p.WindowDurationDays,
		Message:            auth.BuildChallenge(p),
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) { // PA
	var req revealRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", ledgererr.ErrInvalidInput, err))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: signature is not base64", ledgererr.ErrInvalidInput))
		return
	}

	id := r.PathValue("id")
	if _, err := s.ledger.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	tok, err := s.ledger.AuthorizeDecrypt(r.Context(), req.Challenge, auth.PresignedSigner(sig))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	amount, err := s.ledger.Reveal(r.Context(), id, tok)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revealResponse{ID: id, Amount: amount})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) { // A
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ledger.Stats
		Threshold string `json:"threshold"`
	}{stats, s.ledger.Threshold()})
}
