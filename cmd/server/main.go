package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopmindai/chatcore/internal/app"
	"github.com/shopmindai/chatcore/internal/config"
	"github.com/shopmindai/chatcore/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	registry, err := app.New(cfg)
	if err != nil {
		panic("failed to build registry: " + err.Error())
	}
	logger := registry.Logger

	router := httpapi.NewRouter(*registry.Router)

	httpServer := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   cfg.SSEWriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown error")
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("registry close error")
	}

	logger.Info("server stopped")
}
