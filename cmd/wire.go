package main

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dtroode/faceid-server/internal/config"
	"github.com/dtroode/faceid-server/internal/extractor"
	"github.com/dtroode/faceid-server/internal/extractor/remote"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
	"github.com/dtroode/faceid-server/internal/repository/memory"
	"github.com/dtroode/faceid-server/internal/repository/postgres"
	"github.com/dtroode/faceid-server/internal/repository/sqlite"
	"github.com/dtroode/faceid-server/internal/storage/local"
	storage "github.com/dtroode/faceid-server/internal/storage/minio"
)

func openStore(ctx context.Context, cfg *config.Config, logger *logger.Logger) (model.IdentityStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := postgres.NewConection(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres identity store")
		return postgres.NewIdentityRepository(db), func() { _ = db.Close() }, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite identity store", "path", cfg.SQLite.Path)
		return sqlite.NewIdentityRepository(db), func() { _ = sqlite.Close(db) }, nil

	default:
		logger.Warn("using in-memory identity store, enrollments are lost on restart")
		return memory.NewIdentityRepository(), func() {}, nil
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (model.Storage, error) {
	if cfg.Storage.Driver != config.StorageMinio {
		return local.NewStorage(cfg.Storage.UploadDir)
	}

	minioClient, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return storage.NewClient(ctx, minioClient, cfg.Minio.Bucket)
}

// startExtractor begins loading the configured extractor in the background.
// Requests block on the returned Shared until loading completes.
func startExtractor(ctx context.Context, cfg *config.Config, logger *logger.Logger) *extractor.Shared {
	shared := extractor.NewShared()
	maxDim := cfg.Extractor.MaxDimension

	shared.Start(ctx, func(ctx context.Context) (model.Extractor, error) {
		start := time.Now()
		var (
			ext model.Extractor
			err error
		)

		switch cfg.Extractor.Driver {
		case config.ExtractorRemote:
			client := remote.NewClient(cfg.Extractor.URL, cfg.Extractor.Timeout, cfg.Extractor.MinConfidence, logger)
			err = client.WaitReady(ctx, 2*time.Second)
			ext = client
		case config.ExtractorDlib:
			ext, err = loadDlib(ctx, cfg.Extractor.ModelDir)
		default:
			logger.Warn("using static extractor, descriptors are derived from image bytes")
			ext = extractor.NewStatic(cfg.Extractor.Dimension)
		}
		if err != nil {
			logger.Error("failed to load face extractor", "driver", cfg.Extractor.Driver, "error", err)
			return nil, err
		}

		logger.Info("face extractor ready",
			"driver", cfg.Extractor.Driver,
			"duration_ms", time.Since(start).Milliseconds())
		return extractor.NewNormalizing(ext, maxDim), nil
	})

	return shared
}

// awaitExtractor blocks until the extractor finishes loading and returns the
// load error, if any. Cancellation of ctx is not an error.
func awaitExtractor(ctx context.Context, shared *extractor.Shared) error {
	if err := shared.Wait(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
