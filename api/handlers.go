/*
handlers.go - HTTP API handlers for the clan ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the stock and redeem services.

ENDPOINTS:
  Clans:
    GET    /api/clans/{id}                   Clan document
    GET    /api/clans/{id}/money             Clan money
    GET    /api/clans/{id}/transactions      Recent transactions
    GET    /api/clans/{id}/transfer/stock    Pending stock transaction
    POST   /api/clans/{id}/transfer/stock    Open a trade (leader)
    PATCH  /api/clans/{id}/transfer/stock    Confirm a trade
    DELETE /api/clans/{id}/transfer/stock    Reject a trade
    POST   /api/clans/{id}/transfer/redeem   Claim a planet

  Users:
    GET    /api/users/{username}             Public profile
    GET    /api/users/{username}/properties  Property map

  Admin:
    PUT    /api/admin/stocks/{symbol}        Set a day's rate
    GET    /api/scenarios                    List demo worlds
    POST   /api/scenarios/load               Load a demo world

REQUEST FLOW:
  1. Parse HTTP request
  2. Take the caller from the auth middleware
  3. Call the engine
  4. Count the outcome
  5. Serialize response or denial

ERROR HANDLING:
  Engine denials become {message} with a status by kind:
  - 400: Validation
  - 403: Unauthorized
  - 404: NotFound
  - 409: Precondition, Stale, concurrent modification
  - 429: Redeem attempts exhausted
  - 500: Anything else (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo worlds
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/freshy/clanwars/auth"
	"github.com/freshy/clanwars/factory"
	"github.com/freshy/clanwars/ledger"
	"github.com/freshy/clanwars/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.TxStore
	Stocks  *ledger.StockService
	Redeems *ledger.RedeemService
	Worlds  *factory.WorldFactory
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// StorageName is reported by /health.
	StorageName string
	// Clients reports connected realtime clients for /health.
	Clients func() int

	redeemLimit *clanLimiter

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler around the engine services.
func NewHandler(store ledger.TxStore, stocks *ledger.StockService, redeems *ledger.RedeemService) *Handler {
	return &Handler{
		Store:   store,
		Stocks:  stocks,
		Redeems: redeems,
		Worlds:  &factory.WorldFactory{Location: stocks.Config.Hours.Location},
		Metrics: metrics.New(),
		Logger:  slog.Default(),
	}
}

// LimitRedeems caps redeem attempts per clan. perMinute <= 0 disables it.
func (h *Handler) LimitRedeems(perMinute, burst int) {
	h.redeemLimit = newClanLimiter(perMinute, burst)
}

func (h *Handler) now() time.Time {
	return h.Stocks.Now()
}

// =============================================================================
// CLAN HANDLERS
// =============================================================================

// GetClan returns the clan document, or success=false when it does not exist.
func (h *Handler) GetClan(w http.ResponseWriter, r *http.Request) {
	clan, ok := h.loadClan(w, r)
	if !ok {
		return
	}
	if clan == nil {
		h.writeEnvelope(w, http.StatusOK, false, nil)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, clan)
}

// GetClanMoney returns the clan's money.
func (h *Handler) GetClanMoney(w http.ResponseWriter, r *http.Request) {
	clan, ok := h.loadClan(w, r)
	if !ok {
		return
	}
	if clan == nil {
		h.writeEnvelope(w, http.StatusOK, false, nil)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, clan.Properties.Money)
}

// GetClanTransactions returns the newest transactions involving the clan.
func (h *Handler) GetClanTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.writeDenial(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	txs, err := h.Store.ListTransactions(r.Context(), clanParam(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	h.writeEnvelope(w, http.StatusOK, true, txs)
}

func (h *Handler) loadClan(w http.ResponseWriter, r *http.Request) (*ledger.Clan, bool) {
	clan, err := h.Store.GetClan(r.Context(), clanParam(r))
	if ledger.IsNotFound(err) {
		return nil, true
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return clan, true
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// GetPendingStock returns the clan's pending stock transaction: 200 when
// there is one, 400 with success=false otherwise.
func (h *Handler) GetPendingStock(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Stocks.Pending(r.Context(), clanParam(r))
	if ledger.IsNotFound(err) {
		h.writeEnvelope(w, http.StatusBadRequest, false, nil)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, tx)
}

// CreateStock opens a trade.
func (h *Handler) CreateStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req StockOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.Stocks.Create(r.Context(), actor, clanParam(r), ledger.StockOrder{
		Method: req.Method,
		Symbol: req.Symbol,
		Amount: string(req.Amount),
	})
	h.Metrics.ObserveStock("create", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, tx)
}

// ConfirmStock adds the caller's confirmation.
func (h *Handler) ConfirmStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.Stocks.Confirm(r.Context(), actor, clanParam(r), req.TransactionID)
	h.Metrics.ObserveStock("confirm", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, tx)
}

// RejectStock adds the caller's rejection.
func (h *Handler) RejectStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.Stocks.Reject(r.Context(), actor, clanParam(r), req.TransactionID)
	h.Metrics.ObserveStock("reject", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, tx)
}

// =============================================================================
// REDEEM HANDLER
// =============================================================================

// Redeem claims a planet with its code.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	clanID := clanParam(r)
	if !h.redeemLimit.Allow(clanID) {
		h.Metrics.ObserveRedeemOutcome("rate_limited")
		h.writeDenial(w, http.StatusTooManyRequests, "Too many redeem attempts, please wait a moment")
		return
	}

	var req RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Redeems.Redeem(r.Context(), actor, clanID, ledger.RedeemRequest{
		Code:     req.Code,
		PlanetID: ledger.PlanetID(req.PlanetID),
	})
	h.Metrics.ObserveRedeem(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, result)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// GetUser returns a public profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	if user == nil {
		h.writeEnvelope(w, http.StatusOK, false, nil)
		return
	}
	h.writeEnvelope(w, http.StatusOK, true, toUserDTO(user))
}

// GetUserProperties returns the user's property map.
func (h *Handler) GetUserProperties(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	if user == nil {
		h.writeEnvelope(w, http.StatusOK, false, nil)
		return
	}
	props := user.Properties
	if props == nil {
		props = map[string]int64{}
	}
	h.writeEnvelope(w, http.StatusOK, true, props)
}

func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request) (*ledger.User, bool) {
	user, err := h.Store.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if ledger.IsNotFound(err) {
		return nil, true
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return user, true
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// PutStockRate records the rate of a symbol for a market day.
func (h *Handler) PutStockRate(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if !h.knownSymbol(symbol) {
		h.writeDenial(w, http.StatusBadRequest, "the symbol does not exist")
		return
	}

	var req StockRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(string(req.Rate)))
	if err != nil || !rate.IsPositive() {
		h.writeDenial(w, http.StatusBadRequest, "rate must be a positive number")
		return
	}

	hours := h.Stocks.Config.Hours
	day := hours.Day(h.now())
	if req.Date != "" {
		loc := hours.Location
		if loc == nil {
			loc = time.UTC
		}
		day, err = time.ParseInLocation("2006-01-02", req.Date, loc)
		if err != nil {
			h.writeDenial(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	entry := ledger.StockHistory{Date: day, Symbol: symbol, Rate: rate}
	if err := h.Store.SaveStockRate(r.Context(), entry); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Info("stock rate set", "symbol", symbol, "date", day.Format("2006-01-02"), "rate", rate)
	h.writeEnvelope(w, http.StatusOK, true, StockRateDTO{
		Symbol: symbol,
		Date:   day.Format("2006-01-02"),
		Rate:   rate.String(),
	})
}

func (h *Handler) knownSymbol(symbol string) bool {
	for _, s := range h.Stocks.Config.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if h.Clients != nil {
		clients = h.Clients()
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Storage: h.StorageName, Clients: clients})
}

// =============================================================================
// HELPERS
// =============================================================================

func clanParam(r *http.Request) ledger.ClanID {
	return ledger.ClanID(chi.URLParam(r, "id"))
}

// actor returns the authenticated caller or writes 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (*ledger.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeDenial(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return u, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeDenial(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, status int, success bool, data any) {
	writeJSON(w, status, Envelope{Success: success, Data: data, Timestamp: h.now().UTC()})
}

func (h *Handler) writeDenial(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, DenialResponse{Message: message})
}

// writeError maps an engine error to a denial.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		h.writeDenial(w, status, "Something went wrong, please try again")
		return
	}
	msg := ledger.Message(err)
	if errors.Is(err, ledger.ErrConcurrentModification) {
		msg = "The transaction was updated by someone else, please try again"
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	h.writeDenial(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrPrecondition),
		errors.Is(err, ledger.ErrStale),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrPendingExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
