package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"piobridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HTTPConfig struct {
	Listen   string
	UseSSL   bool
	CertFile string
	KeyFile  string
}

func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Options("/*", CORSHeaders)

	r.Get("/state", api.State)
	r.Get("/health", handlers.HealthCheck)

	r.Get("/locks/{id}", api.GetLock)
	r.Get("/mints/{id}", api.GetMint)
	r.Get("/balance/{address}", api.Balance)

	r.Get("/agents", api.GetAgents)
	r.Get("/alerts", api.GetAlerts)

	r.Post("/lock", api.SubmitLock)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Worker_HTTP serves the API until ctx is cancelled
func Worker_HTTP(ctx context.Context, cfg HTTPConfig, api *handlers.API, logger *zap.Logger) error {
	logger.Info("starting HTTP service", zap.String("listen", cfg.Listen), zap.Bool("ssl", cfg.UseSSL))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errC := make(chan error, 1)
	go func() {
		var err error
		if cfg.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
		close(errC)
	}()
	logger.Info("HTTP service started")

	select {
	case err, ok := <-errC:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP service shutdown error", zap.Error(err))
		return err
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
