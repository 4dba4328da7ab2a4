// Package http provides the operator HTTP API over the billing engine.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/nibble/app"
	"github.com/artpar/nibble/domain/command"
	"github.com/artpar/nibble/ports"
)

// AdminTokenHeader carries the operator token on every protected request.
const AdminTokenHeader = "X-Admin-Token"

// Handler serves the operator API: session billing control, account
// balances, health and metrics.
type Handler struct {
	engine    *app.Engine
	commander *app.Commander
	store     ports.BalanceStore
	hasher    ports.Hasher
	tokenHash []byte
	logger    zerolog.Logger
	metrics   http.Handler
}

// Deps contains dependencies for the operator API handler.
type Deps struct {
	Engine    *app.Engine
	Commander *app.Commander
	Store     ports.BalanceStore
	Hasher    ports.Hasher
	TokenHash []byte       // bcrypt hash of the admin token; empty disables auth
	Logger    zerolog.Logger
	Metrics   http.Handler // optional; defaults to promhttp.Handler()
}

// NewHandler creates the operator API handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		engine:    deps.Engine,
		commander: deps.Commander,
		store:     deps.Store,
		hasher:    deps.Hasher,
		tokenHash: deps.TokenHash,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if h.metrics == nil {
		h.metrics = promhttp.Handler()
	}
	if len(h.tokenHash) == 0 {
		h.logger.Warn().Msg("no admin token configured, operator API is unauthenticated")
	}
	return h
}

// Router returns the operator API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public endpoints
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	// Protected endpoints
	r.Route("/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sessions/{id}/billing", h.RunBillingCommand)
		r.Get("/sessions/{id}/billing", h.GetBilling)

		r.Get("/accounts/{account}/balance", h.GetBalance)
		r.Post("/accounts/{account}/credit", h.Credit)
	})

	return r
}

// AuthMiddleware rejects requests whose admin token does not match the
// configured hash. An empty configured hash disables the check.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.tokenHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(AdminTokenHeader)
		if token == "" || !h.hasher.Compare(h.tokenHash, token) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CommandRequest is a billing control command for one session.
type CommandRequest struct {
	Command      string  `json:"command"`
	Amount       float64 `json:"amount,omitempty"`
	IntervalSecs int     `json:"interval_secs,omitempty"`
}

// CommandResponse is the command outcome.
type CommandResponse struct {
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
}

// RunBillingCommand executes a billing control command against a live
// session.
func (h *Handler) RunBillingCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	cmd := command.Command{
		Verb:     command.Verb(req.Command),
		Amount:   req.Amount,
		Interval: time.Duration(req.IntervalSecs) * time.Second,
	}
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_command", err.Error())
		return
	}

	result, err := h.commander.Execute(r.Context(), sessionID, cmd)
	if err != nil {
		switch {
		case errors.Is(err, command.ErrUsage):
			writeError(w, http.StatusBadRequest, "bad_command", err.Error())
		case errors.Is(err, app.ErrNoSession):
			writeError(w, http.StatusNotFound, "no_session", err.Error())
		default:
			h.logger.Error().Err(err).
				Str("session", sessionID).
				Str("command", req.Command).
				Msg("billing command failed")
			writeError(w, http.StatusBadGateway, "store_error", "balance store unavailable")
		}
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{SessionID: sessionID, Result: result})
}

// BillingResponse is one session's billing view.
type BillingResponse struct {
	SessionID   string  `json:"session_id"`
	TotalBilled float64 `json:"total_billed"`
	Paused      bool    `json:"paused"`
}

// GetBilling returns the running total for a session. A session that
// never started billing is reported as not found.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	total, ok := h.engine.Check(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_billing", "session has no billing state")
		return
	}

	writeJSON(w, http.StatusOK, BillingResponse{
		SessionID:   sessionID,
		TotalBilled: total,
		Paused:      h.engine.Paused(sessionID),
	})
}

// BalanceResponse is one account's balance.
type BalanceResponse struct {
	Account string  `json:"account"`
	Balance float64 `json:"balance"`
}

// GetBalance reads an account's balance straight from the store. The
// engine's read-failure policy does not apply here; operators see the
// store as it is.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balance, err := h.store.Balance(r.Context(), account)
	if err != nil {
		h.logger.Error().Err(err).Str("account", account).Msg("balance read failed")
		writeError(w, http.StatusNotFound, "no_balance", "account balance unavailable")
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: balance})
}

// CreditRequest tops up an account.
type CreditRequest struct {
	Amount float64 `json:"amount"`
}

// Credit adds funds to an account.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}

	if err := h.store.Credit(r.Context(), account, req.Amount); err != nil {
		h.logger.Error().Err(err).Str("account", account).Msg("credit failed")
		writeError(w, http.StatusBadGateway, "store_error", "balance store unavailable")
		return
	}

	balance, err := h.store.Balance(r.Context(), account)
	if err != nil {
		// The credit landed; report it without the fresh balance.
		writeJSON(w, http.StatusOK, BalanceResponse{Account: account})
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: balance})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
