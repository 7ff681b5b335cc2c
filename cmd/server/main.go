package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/rpattn/bulkimport/internal/app"
	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/config"
	"github.com/rpattn/bulkimport/internal/ingestion"
	"github.com/rpattn/bulkimport/internal/metrics"
	"github.com/rpattn/bulkimport/internal/metrics/prom"
	"github.com/rpattn/bulkimport/internal/middleware"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] failed to load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("BULKIMPORT_CONFIG_DIR"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise import service: %v", err)
	}
	defer a.Close()

	go a.Limiter.PruneEvery(ctx, 10*time.Minute)

	mux := http.NewServeMux()

	var backend *prom.Backend
	if cfg.Metrics.Enabled {
		backend, err = prom.NewBackend()
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		metrics.SetBackend(backend)
		mux.Handle("/metrics", backend.Handler())
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Retry-After", "Content-Disposition", "X-Request-ID"},
	})

	importHandler := middleware.RequestID(
		middleware.LoggingMiddleware(
			middleware.Recovery(
				auth.GatewayHeaders(
					middleware.DataLoaderMiddleware(a.Jobs)(
						ingestion.NewHTTPHandler(a.Service, a.Signer),
					),
				),
			),
		),
	)
	mux.Handle("/imports", corsHandler.Handler(importHandler))
	mux.Handle("/imports/", corsHandler.Handler(importHandler))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting import server on %s (store=%s)", cfg.Server.Addr, cfg.Store.Driver)
		log.Printf("Import endpoint available at %s/imports", cfg.Server.Addr)
		if cfg.Metrics.Enabled {
			log.Printf("Metrics available at %s/metrics", cfg.Server.Addr)
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// In-flight imports finalize their jobs on a detached context, so give
	// them room to finish before the store closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
