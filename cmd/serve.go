package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	httpctx "github.com/dtroode/faceid-server/internal/api/http/context"
	"github.com/dtroode/faceid-server/internal/api/http/router"
	httpServer "github.com/dtroode/faceid-server/internal/api/http/server"
	"github.com/dtroode/faceid-server/internal/artifact"
	"github.com/dtroode/faceid-server/internal/config"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/matching"
	"github.com/dtroode/faceid-server/internal/model"
	"github.com/dtroode/faceid-server/internal/server"
	"github.com/dtroode/faceid-server/internal/service"
	"github.com/dtroode/faceid-server/internal/token"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := logger.New(cfg.LogLevel)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize identity store", "error", err)
	}
	defer closeStore()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize image storage", "error", err)
	}

	artifacts, err := artifact.NewManager(cfg.Storage.StagingDir, storage, logger)
	if err != nil {
		logger.Fatal("failed to initialize staging directory", "error", err)
	}

	engine, err := matching.NewEngine(cfg.Match.Threshold)
	if err != nil {
		logger.Fatal("invalid match threshold", "error", err)
	}

	extractor := startExtractor(ctx, cfg, logger)
	defer func() {
		if err := extractor.Close(); err != nil {
			logger.Error("failed to close extractor", "error", err)
		}
	}()

	identityService := service.NewIdentity(store, extractor, engine, artifacts, logger)
	authService := service.NewAuth(service.AdminCredentials{
		Username:     cfg.Admin.Username,
		Password:     cfg.Admin.Password,
		PasswordHash: cfg.Admin.PasswordHash,
	}, token.NewJWT(cfg.JWT.Secret, cfg.JWT.TTL), logger)
	if cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "" {
		logger.Warn("no admin password configured, admin routes are unreachable")
	}

	r := router.New(identityService, authService, httpctx.NewManager(), logger, router.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	srv := httpServer.NewHTTPServer(r.Register(), fmt.Sprintf(":%s", cfg.HTTP.Port))

	var sl model.SecurityLayer
	if cfg.HTTP.EnableHTTPS {
		sl = server.NewTLSListener(cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)
	} else {
		sl = server.NewPlainListener()
	}

	loadErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := awaitExtractor(ctx, extractor); err != nil {
			loadErr <- err
			stop()
		}
	}()
	go func(s model.Server) {
		defer wg.Done()
		logger.Info("Starting server on", "address", s.Address())
		if err := s.Start(sl); err != nil {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}(srv)
	go func() {
		defer wg.Done()
		sweepStaging(ctx, artifacts, cfg.Storage.StagingMaxAge, logger)
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", srv.Address())
	}

	wg.Wait()

	select {
	case err := <-loadErr:
		logger.Error("face extractor failed to load, server stopped", "error", err)
		return fmt.Errorf("failed to load face extractor: %w", err)
	default:
	}

	logger.Info("shutdown complete")
	return nil
}

// sweepStaging removes abandoned staging files until ctx is done.
func sweepStaging(ctx context.Context, artifacts *artifact.Manager, maxAge time.Duration, logger *logger.Logger) {
	if maxAge <= 0 {
		return
	}
	sweep := func() {
		removed, err := artifacts.Sweep(maxAge)
		if err != nil {
			logger.Warn("staging sweep failed", "error", err)
			return
		}
		if removed > 0 {
			logger.Info("removed abandoned staging files", "count", removed)
		}
	}

	sweep()
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
