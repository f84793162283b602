package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/app"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/handlers"
	"github.com/shiftcrew/dispatch_backend/middlewares"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		// Cloud Run standard env var.
		cfg.Port = port
	}
	logger := config.NewLogger(os.Stdout, cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the instance
	// healthy. Until storage is ready, app endpoints return 503.
	var (
		mu    sync.RWMutex
		ready bool
	)
	h := &handlers.Handler{Logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(func(c *gin.Context) {
		mu.RLock()
		ok := ready
		mu.RUnlock()
		if !ok {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(middlewares.RequestMiddleware(logger))
	r.Use(middlewares.AuthMiddleware([]byte(cfg.Secret)))
	h.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	a, err := app.Open(sigCtx, cfg, logger, true)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
	}
	defer a.Close()

	mu.Lock()
	h.Engine = a.Engine
	ready = true
	mu.Unlock()

	// Background workers publish events after commit and expire stale
	// invitations.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		a.Dispatcher().Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		a.Sweeper().Run(workerCtx)
	}()

	logger.WithFields(logrus.Fields{
		"field":   "startup",
		"port":    cfg.Port,
		"storage": cfg.Storage.Driver,
		"notify":  cfg.NotifyDriver,
		"scope":   cfg.InvitationUniqueScope,
	}).Info("dispatch lifecycle service started")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	workers.Wait()
}

// corsConfig requires an explicit allowlist in production and allows all
// origins elsewhere.
func corsConfig(cfg *config.Config) cors.Config {
	c := cors.DefaultConfig()
	if cfg.IsProduction() {
		c.AllowOrigins = cfg.CorsAllowedOrigins
		if len(c.AllowOrigins) == 0 {
			// Deny all if not configured.
			c.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		c.AllowAllOrigins = true
	}
	c.AddAllowMethods("GET", "POST", "OPTIONS")
	c.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.HeaderCorrelationId, middlewares.HeaderIdempotencyKey)
	c.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationId, "Idempotent-Replayed")
	c.AllowCredentials = !c.AllowAllOrigins
	return c
}
