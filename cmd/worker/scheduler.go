package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/app"
	"github.com/jmehdipour/wadispatch/internal/db"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Promote due pending tasks onto the work queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		rdb, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()

		store := repository.NewTaskStore(dbx,
			repository.NewTasksRepository(dbx),
			repository.NewExecutionLogsRepository(dbx))

		q, producer := app.NewQueue(cfg, rdb)
		defer func() { _ = producer.Close() }()

		p := scheduler.NewPromoter(store, q, app.NewBroadcaster(cfg, rdb), cfg.Scheduler.BatchSize)
		p.StaleAfter = cfg.Scheduler.StaleAfter

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("scheduler started",
			zap.Duration("interval", cfg.Scheduler.Interval),
			zap.Int("batch_size", cfg.Scheduler.BatchSize),
			zap.Duration("stale_after", cfg.Scheduler.StaleAfter))

		p.Loop(ctx, cfg.Scheduler.Interval)
		return nil
	},
}
