package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/progami/targonos/backend/src/config"
	"github.com/progami/targonos/backend/src/database"
	"github.com/progami/targonos/backend/src/handlers"
	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/model"
	"github.com/progami/targonos/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
			"https://targonos.com":  true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Plutus backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	accountCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	tokens := ledger.NewTokenSource(
		config.Cfg.LedgerTokenURL,
		config.Cfg.LedgerClientID,
		config.Cfg.LedgerClientSecret,
	)
	ledgerSvc := ledger.NewHTTPService(
		config.Cfg.LedgerBaseURL,
		config.Cfg.LedgerPageSize,
		config.Cfg.LedgerCallInterval,
		tokens,
	)

	registry := &model.SQLRegistry{DB: database.DB}
	credStore := &model.SQLCredentialStore{DB: database.DB}

	poster := services.NewPostingService(ledgerSvc, registry, credStore, config.Cfg.LedgerRealmID, accountCache)
	recon := services.NewReconciliationService()

	plutusHandler := handlers.NewPlutusHandler(poster, registry, recon)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Plutus Backend is running"})
	})

	r.Route("/api/plutus", func(r chi.Router) {
		r.Get("/records", plutusHandler.HandleGetProcessingRecords)
		r.Post("/settlements/process", plutusHandler.HandleProcessSettlements)
		r.Post("/reconciliation/report", plutusHandler.HandleReconciliationReport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
