package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nallo/api/internal/app"
	"nallo/api/internal/config"
	"nallo/api/internal/logger"
	"nallo/api/internal/platform"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	stack, err := platform.Open(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close(context.Background())

	httpServer := app.NewHTTPServer(stack.Service, cfg.CORSOrigin, []byte(cfg.JWTSecret))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Log.Info("nallo api listening",
			zap.String("addr", cfg.Addr),
			zap.Bool("object_storage", stack.Blobs != nil),
			zap.Bool("meilisearch", stack.Meili != nil),
			zap.Bool("redis_cache", stack.Cache != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("shutdown error", zap.Error(err))
	}
}
