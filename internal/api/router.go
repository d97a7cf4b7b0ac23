package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/credo/carbon-engine/internal/metrics"
)

// NewRouter mounts the service under /api/v1 plus /health and /metrics.
// hub may be nil, in which case /api/v1/ws is not served.
func NewRouter(svc *Service, hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"carbon-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/assets", svc.ListAssets)
		r.Get("/assets/{assetID}", svc.GetAsset)
		r.Post("/ticks", svc.PostTick)
		r.Get("/market", svc.GetMarket)

		r.Get("/account", svc.GetAccount)
		r.Post("/account/deposit", svc.Deposit)
		r.Post("/account/withdraw", svc.Withdraw)
		r.Post("/account/holdings", svc.AddHolding)
		r.Get("/transactions", svc.ListTransactions)

		r.Get("/orders", svc.ListOrders)
		r.Post("/orders", svc.PlaceOrder)
		r.Get("/orders/history", svc.OrderHistory)
		r.Delete("/orders/{orderID}", svc.CancelOrder)

		r.Get("/alerts", svc.ListAlerts)
		r.Post("/alerts", svc.AddAlert)
		r.Delete("/alerts/{alertID}", svc.RemoveAlert)

		r.Get("/notifications", svc.ListNotifications)
		r.Delete("/notifications", svc.ClearNotifications)
		r.Post("/notifications/{notificationID}/read", svc.MarkNotificationRead)

		r.Get("/certificates", svc.ListCertificates)
		r.Post("/certificates/{certID}/retire", svc.RetireCertificate)

		r.Get("/watchlist", svc.GetWatchlist)
		r.Post("/watchlist/{assetID}", svc.ToggleWatchlist)

		r.Get("/snapshot", svc.GetSnapshot)
	})
	return r
}

// cors allows the browser UI to call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
