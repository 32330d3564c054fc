package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/config"
	"pagewell/engine/internal/content"
	"pagewell/engine/internal/files"
	"pagewell/engine/internal/lock"
	"pagewell/engine/internal/logger"
	"pagewell/engine/internal/rating"
	"pagewell/engine/internal/revision"
	"pagewell/engine/internal/search"
	"pagewell/engine/internal/store"
)

// engine is the composition root an external transport mounts on. This
// binary ships no wire surface of its own; it boots the stores, verifies
// the wiring, and idles.
type engine struct {
	coordinator *revision.Coordinator
	ratings     *rating.Service
	files       *files.Service
	search      *search.Meili
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	contentStore := content.New(cfg.ReposDir)
	lockManager := lock.NewManager(db, cfg.LockTTL)
	trail := audit.NewLog(dataStore)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}

	cycle, err := revision.CycleCheckByName(cfg.CyclePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cycle policy")
	}
	coordinator := revision.NewCoordinator(dataStore, contentStore, lockManager, trail, meiliClient, cycle, log)

	scorer, err := rating.ScorerByName(cfg.Scorer)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scorer")
	}
	var scoreCache *rating.ScoreCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		scoreCache, err = rating.NewScoreCache(cfg.RedisURL, cfg.ScoreCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer scoreCache.Close()
		log.Info().Msg("score cache enabled")
	}
	ratingService := rating.NewService(dataStore, scoreCache, scorer, trail, log)

	var fileService *files.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileService, err = files.NewService(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, dataStore, trail)
		if err != nil {
			log.Fatal().Err(err).Msg("minio connection failed")
		}
		if err := fileService.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("minio bucket setup failed")
		}
		log.Info().Str("bucket", cfg.MinioBucket).Msg("attachment store enabled")
	}

	eng := &engine{
		coordinator: coordinator,
		ratings:     ratingService,
		files:       fileService,
		search:      meiliClient,
	}
	eng.run(ctx, cfg, log)
}

func (e *engine) run(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	if err := e.coordinator.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}

	log.Info().
		Str("scorer", cfg.Scorer).
		Str("cycle_policy", cfg.CyclePolicy).
		Bool("search", e.search != nil).
		Bool("files", e.files != nil).
		Msg("engine ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("engine stopped")
}
