package monitor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/mailpulse/internal/extract"
	"github.com/HerbHall/mailpulse/internal/server"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// API exposes the scheduler, account store and extractor over HTTP.
type API struct {
	sched     *Scheduler
	store     *MonitorStore
	extractor CodeExtractor
	logger    *zap.Logger
}

// NewAPI creates the monitor HTTP API. store may be nil, in which case the
// account and code routes answer 503 and sessions are not checked against
// known accounts.
func NewAPI(sched *Scheduler, store *MonitorStore, extractor CodeExtractor, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{sched: sched, store: store, extractor: extractor, logger: logger}
}

// RegisterRoutes mounts the monitor routes on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/monitor/sessions/{account}", a.handleStartSession)
	mux.HandleFunc("GET /api/v1/monitor/sessions/{account}", a.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/monitor/sessions/{account}", a.handleStopSession)
	mux.HandleFunc("GET /api/v1/monitor/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/monitor/codes", a.handleListCodes)
	mux.HandleFunc("POST /api/v1/monitor/extract", a.handleExtract)
	mux.HandleFunc("GET /api/v1/monitor/accounts", a.handleListAccounts)
	mux.HandleFunc("POST /api/v1/monitor/accounts", a.handleUpsertAccount)
	mux.HandleFunc("DELETE /api/v1/monitor/accounts/{account}", a.handleDeleteAccount)
}

// StartSessionRequest overrides session defaults. Omitted fields keep
// their default values.
type StartSessionRequest struct {
	CheckIntervalMs   *int64 `json:"check_interval_ms,omitempty"`
	DurationMs        *int64 `json:"duration_ms,omitempty"`
	MaxRetries        *int   `json:"max_retries,omitempty"`
	Priority          *int   `json:"priority,omitempty"`
	AutoStopOnNewCode *bool  `json:"auto_stop_on_new_code,omitempty"`
}

// Settings applies the request on top of the default session settings.
func (r StartSessionRequest) Settings() models.SessionSettings {
	st := models.DefaultSessionSettings()
	if r.CheckIntervalMs != nil {
		st.CheckInterval = time.Duration(*r.CheckIntervalMs) * time.Millisecond
	}
	if r.DurationMs != nil {
		st.Duration = time.Duration(*r.DurationMs) * time.Millisecond
	}
	if r.MaxRetries != nil {
		st.MaxRetries = *r.MaxRetries
	}
	if r.Priority != nil {
		st.Priority = *r.Priority
	}
	if r.AutoStopOnNewCode != nil {
		st.AutoStopOnNewCode = *r.AutoStopOnNewCode
	}
	return st
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var req StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}

	if a.store != nil {
		acct, err := a.store.GetAccount(r.Context(), accountID)
		if err != nil {
			a.logger.Warn("failed to load account", zap.String("account_id", accountID), zap.Error(err))
			server.InternalError(w, "failed to load account", r.URL.Path)
			return
		}
		if acct == nil {
			server.NotFound(w, "unknown account", r.URL.Path)
			return
		}
	}

	sess, err := a.sched.Start(accountID, req.Settings())
	switch {
	case errors.Is(err, ErrConfiguration):
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	case errors.Is(err, ErrClosed):
		server.Unavailable(w, "scheduler is shutting down", r.URL.Path)
		return
	case err != nil:
		server.InternalError(w, "failed to start session", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sched.Session(r.PathValue("account"))
	if !ok {
		server.NotFound(w, "no active session for account", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if !a.sched.Stop(r.PathValue("account"), models.StopReasonManual) {
		server.NotFound(w, "no active session for account", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sched.Status())
}

func (a *API) handleListCodes(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		server.Unavailable(w, "code store not available", r.URL.Path)
		return
	}
	codes, err := a.store.ListCodes(r.Context(), r.URL.Query().Get("account"), parseLimit(r, 50))
	if err != nil {
		a.logger.Warn("failed to list codes", zap.Error(err))
		server.InternalError(w, "failed to list codes", r.URL.Path)
		return
	}
	if codes == nil {
		codes = []CodeRecord{}
	}
	writeJSON(w, http.StatusOK, codes)
}

// ExtractRequest runs the extractor over caller-supplied messages.
type ExtractRequest struct {
	Messages []models.Message `json:"messages"`
	All      bool             `json:"all"`
}

func (a *API) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeBody(r, &req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	cands := a.extractor.Extract(req.Messages, extract.Options{All: req.All})
	if cands == nil {
		cands = []models.CodeCandidate{}
	}
	writeJSON(w, http.StatusOK, cands)
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		server.Unavailable(w, "account store not available", r.URL.Path)
		return
	}
	accounts, err := a.store.ListAccounts(r.Context())
	if err != nil {
		a.logger.Warn("failed to list accounts", zap.Error(err))
		server.InternalError(w, "failed to list accounts", r.URL.Path)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// AccountRequest registers or updates a monitored account.
type AccountRequest struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		server.Unavailable(w, "account store not available", r.URL.Path)
		return
	}
	var req AccountRequest
	if err := decodeBody(r, &req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.ClientID == "" || req.RefreshToken == "" {
		server.BadRequest(w, "id, client_id and refresh_token are required", r.URL.Path)
		return
	}

	acct := &models.Account{
		ID:           req.ID,
		Email:        strings.TrimSpace(req.Email),
		ClientID:     req.ClientID,
		RefreshToken: req.RefreshToken,
	}
	if existing, err := a.store.GetAccount(r.Context(), req.ID); err == nil && existing != nil {
		acct.CreatedAt = existing.CreatedAt
	}
	if err := a.store.UpsertAccount(r.Context(), acct); err != nil {
		a.logger.Warn("failed to save account", zap.String("account_id", req.ID), zap.Error(err))
		server.InternalError(w, "failed to save account", r.URL.Path)
		return
	}
	a.logger.Info("account saved",
		zap.String("account_id", acct.ID),
		zap.String("refresh_token", maskSecret(acct.RefreshToken)),
	)
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		server.Unavailable(w, "account store not available", r.URL.Path)
		return
	}
	accountID := r.PathValue("account")
	deleted, err := a.store.DeleteAccount(r.Context(), accountID)
	if err != nil {
		a.logger.Warn("failed to delete account", zap.String("account_id", accountID), zap.Error(err))
		server.InternalError(w, "failed to delete account", r.URL.Path)
		return
	}
	if !deleted {
		server.NotFound(w, "unknown account", r.URL.Path)
		return
	}
	a.sched.Stop(accountID, models.StopReasonManual)
	w.WriteHeader(http.StatusNoContent)
}

// -- helpers --

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func parseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}

// maskSecret keeps only the last four characters of a credential for logs.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
