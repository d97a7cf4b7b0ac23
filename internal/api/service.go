// Package api exposes the engine over HTTP and WebSocket for the UI layer.
//
// Request and response bodies carry money as decimal strings, never floats.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/alert"
	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/engine"
	"github.com/credo/carbon-engine/internal/journal"
	"github.com/credo/carbon-engine/internal/ledger"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/notify"
	"github.com/credo/carbon-engine/internal/order"
)

const defaultTransactionLimit = 100

// Service adapts engine commands and queries to HTTP handlers.
type Service struct {
	engine *engine.Engine
}

// NewService creates a new API service around eng.
func NewService(eng *engine.Engine) *Service {
	return &Service{engine: eng}
}

// --- Request types ---

// CashRequest is the JSON body for deposit and withdraw.
type CashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HoldingRequest is the JSON body for POST /account/holdings.
type HoldingRequest struct {
	AssetID     string          `json:"asset_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// RetireRequest is the JSON body for POST /certificates/{certID}/retire.
type RetireRequest struct {
	Reason string `json:"reason"`
}

// --- Assets and ticks ---

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Assets())
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Asset(chi.URLParam(r, "assetID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PostTick handles POST /api/v1/ticks
// Injects a price tick and returns the orders and alerts it fired.
func (s *Service) PostTick(w http.ResponseWriter, r *http.Request) {
	var tick model.Tick
	if err := json.NewDecoder(r.Body).Decode(&tick); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	report, err := s.engine.ProcessTick(r.Context(), tick)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Account ---

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Account())
}

// Deposit handles POST /api/v1/account/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := s.engine.Deposit(r.Context(), req.Amount)
	if err != nil {
		writeFailure(w, err, "transaction", tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Withdraw handles POST /api/v1/account/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := s.engine.Withdraw(r.Context(), req.Amount)
	if err != nil {
		writeFailure(w, err, "transaction", tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// AddHolding handles POST /api/v1/account/holdings
func (s *Service) AddHolding(w http.ResponseWriter, r *http.Request) {
	var req HoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h, err := s.engine.AddHolding(r.Context(), req.AssetID, req.Quantity, req.AvgBuyPrice)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// ListTransactions handles GET /api/v1/transactions
// Newest first, capped by ?limit= (default 100).
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.engine.RecentTransactions(limit))
}

// --- Orders ---

// ListOrders handles GET /api/v1/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.ActiveOrders()))
}

// OrderHistory handles GET /api/v1/orders/history
func (s *Service) OrderHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.OrderHistory()))
}

// PlaceOrder handles POST /api/v1/orders
// Conditional orders answer 201 with the created legs; market orders answer
// 200 with the executed trade, or 409 with the failed one.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var spec model.OrderSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pl, err := s.engine.PlaceOrder(r.Context(), spec)
	if err != nil {
		if pl.Trade != nil {
			writeFailure(w, err, "trade", pl.Trade)
			return
		}
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if pl.Trade != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, pl)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.engine.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// --- Alerts ---

// ListAlerts handles GET /api/v1/alerts
func (s *Service) ListAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.Alerts()))
}

// AddAlert handles POST /api/v1/alerts
func (s *Service) AddAlert(w http.ResponseWriter, r *http.Request) {
	var spec model.AlertSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.engine.AddPriceAlert(spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// RemoveAlert handles DELETE /api/v1/alerts/{alertID}
func (s *Service) RemoveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemovePriceAlert(chi.URLParam(r, "alertID")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Notifications ---

// ListNotifications handles GET /api/v1/notifications
func (s *Service) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.Notifications()))
}

// MarkNotificationRead handles POST /api/v1/notifications/{notificationID}/read
func (s *Service) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkNotificationRead(chi.URLParam(r, "notificationID")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearNotifications handles DELETE /api/v1/notifications
func (s *Service) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearNotifications()
	w.WriteHeader(http.StatusNoContent)
}

// --- Certificates, watchlist, snapshot ---

// ListCertificates handles GET /api/v1/certificates
func (s *Service) ListCertificates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.Certificates()))
}

// RetireCertificate handles POST /api/v1/certificates/{certID}/retire
func (s *Service) RetireCertificate(w http.ResponseWriter, r *http.Request) {
	var req RetireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cert, err := s.engine.RetireCertificate(r.Context(), chi.URLParam(r, "certID"), req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// GetWatchlist handles GET /api/v1/watchlist
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.Watchlist()))
}

// ToggleWatchlist handles POST /api/v1/watchlist/{assetID}
func (s *Service) ToggleWatchlist(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	watched, err := s.engine.ToggleWatchlist(r.Context(), assetID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "watched": watched})
}

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Market())
}

// GetSnapshot handles GET /api/v1/snapshot
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// --- helpers ---

// statusFor maps domain errors to HTTP status codes. Validation errors are
// checked first because an invalid order spec may wrap an unknown asset.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrInvalidOrderSpec),
		errors.Is(err, alert.ErrInvalidAlert),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, journal.ErrInvalidReason),
		errors.Is(err, journal.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidTick):
		return http.StatusBadRequest
	case errors.Is(err, credit.ErrUnknownAsset),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, alert.ErrAlertNotFound),
		errors.Is(err, journal.ErrCertificateNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings),
		errors.Is(err, journal.ErrAlreadyRetired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

// writeFailure reports a command that ran but failed, attaching the failed
// record under key.
func writeFailure(w http.ResponseWriter, err error, key string, record any) {
	writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), key: record})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
