package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/splitpot/splitpot/internal/auth"
	"github.com/splitpot/splitpot/internal/cache"
	"github.com/splitpot/splitpot/internal/config"
	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/middleware"
	"github.com/splitpot/splitpot/internal/service"
	"github.com/splitpot/splitpot/internal/storage/sqlite"
	"github.com/splitpot/splitpot/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	// Active ledgers are read far more often than written; serve reads
	// from the snapshot cache.
	cached := cache.Wrap(store)
	rooms := hub.New(cached)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.OwnerTokenTTL.Std())

	mux := http.NewServeMux()
	svc := service.NewLedgerService(cached, rooms, tokens)
	svc.RegisterHandlers(mux, connect.WithInterceptors(
		middleware.ExtractOwnerToken(),
		middleware.LoggingInterceptor(),
	))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := corsMiddleware(mux)

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	h2cHandler := h2c.NewHandler(handler, &http2.Server{})

	slog.Info("Connect server starting", "address", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, h2cHandler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
