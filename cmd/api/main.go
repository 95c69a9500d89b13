package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mindnote/api/internal/app"
	"mindnote/api/internal/blob"
	"mindnote/api/internal/config"
	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/history"
	"mindnote/api/internal/logging"
	"mindnote/api/internal/search"
	"mindnote/api/internal/session"
	"mindnote/api/internal/store"
	"mindnote/api/internal/treesync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(os.Stderr, "info", false)
		bootLogger.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	var migrations fs.FS = store.Migrations()
	if strings.TrimSpace(cfg.MigrationsDir) != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create history dir")
	}

	blobs, err := blob.NewMinioStore(ctx, blob.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("minio connection failed")
	}

	cache, err := session.NewRedisStore(cfg.RedisURL, cfg.GuestTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer cache.Close()

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	var meiliClient *search.Meili
	if cfg.SearchEnabled() {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgSearch(dataStore), logger)

	var engine *treesync.Engine
	changed := onCommit(logger, searchService, historyService, func(ctx context.Context, ws store.Workspace) (document.Workspace, error) {
		return engine.Current(ctx, ws)
	})
	codec := element.NewCodec(blobs, logger)
	engine = treesync.NewEngine(treesync.FromPostgres(dataStore), codec, logger, treesync.Options{
		MainPageLayout: cfg.MainPageLayout,
		MaxTreeDepth:   cfg.MaxTreeDepth,
		OnCommit:       changed,
	})

	service := app.New(cfg, logger, app.Deps{
		Store:    app.FromPostgres(dataStore),
		Cache:    cache,
		Engine:   engine,
		Migrator: treesync.NewMigrator(engine, cache),
		Codec:    codec,
		Search:   searchService,
		History:  historyService,
		Changed:  changed,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Bool("main_page_layout", cfg.MainPageLayout).Msg("mindnote API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

// onCommit indexes every committed workspace and records a history
// snapshot for it in the background. The snapshot reloads the workspace
// under the history lock and is skipped once the workspace is gone.
func onCommit(logger zerolog.Logger, idx *search.Service, hist *history.Service, load func(context.Context, store.Workspace) (document.Workspace, error)) func(context.Context, store.Workspace, document.Workspace) {
	return func(_ context.Context, ws store.Workspace, doc document.Workspace) {
		idx.IndexWorkspace(ws, doc)
		go func() {
			commit, created, err := hist.SnapshotLatest(ws.ID, ws.AuthorID, "sync "+ws.Title, func() (document.Workspace, error) {
				return load(context.Background(), ws)
			})
			if errors.Is(err, store.ErrNotFound) {
				logger.Debug().Str("workspace_id", ws.ID).Msg("workspace gone, history snapshot skipped")
				return
			}
			if err != nil {
				logger.Warn().Err(err).Str("workspace_id", ws.ID).Msg("history snapshot failed")
				return
			}
			if created {
				logger.Debug().Str("workspace_id", ws.ID).Str("commit", commit.Hash).Msg("history snapshot")
			}
		}()
	}
}
