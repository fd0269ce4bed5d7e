package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/columbiaprep/house-points-app-sub000/internal/app"
	"github.com/columbiaprep/house-points-app-sub000/internal/config"
	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/jobs"
	"github.com/columbiaprep/house-points-app-sub000/internal/logging"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/notify"
	"github.com/columbiaprep/house-points-app-sub000/internal/observability"
	"github.com/columbiaprep/house-points-app-sub000/internal/points"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, os.Getenv("RELEASE"))
	if err != nil {
		lg.Sugar.Warnw("sentry init failed", "err", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Sugar.Fatalw("db connect failed", "err", err)
	}
	defer func() { _ = database.Close() }()

	if err := db.Migrate(database); err != nil {
		lg.Sugar.Fatalw("migrations failed", "err", err)
	}
	if err := db.SeedDefaults(ctx, database); err != nil {
		lg.Sugar.Fatalw("seed failed", "err", err)
	}

	cats := points.NewCategoryCache(func(ctx context.Context) ([]models.Category, error) {
		return db.GetCategories(ctx, database, false)
	})
	svc := points.NewService(database, lg.Named("points"), cats, cfg.RollbackCoolingOff, cfg.ProjectionStaleness)

	notifier, err := notify.New(cfg.BotToken, cfg.AdminChatIDs)
	if err != nil {
		lg.Sugar.Warnw("telegram notifier disabled", "err", err)
	}

	runner := jobs.New(ctx, lg.Named("jobs"))
	runner.Every(cfg.RebuildInterval, "projection_rebuild", svc.RebuildProjections)
	runner.Every(time.Hour, "reconcile", func(ctx context.Context) error {
		diffs, err := svc.RecomputeAllHouseTotals(ctx)
		if err != nil {
			return err
		}
		notifier.DriftDetected(diffs)
		return nil
	})
	runner.Daily(0, cfg.Location, "leaderboard_snapshot", svc.SnapshotLeaderboard)

	app.StartHTTP(ctx, cfg, svc, database, lg.Named("http"), notifier)
	lg.Sugar.Infow("house points server started", "addr", cfg.HTTPAddr, "env", cfg.Env)

	<-ctx.Done()
	lg.Sugar.Infow("shutting down")
}
