package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/app"
	"github.com/jmehdipour/wadispatch/internal/db"
	httpSrv "github.com/jmehdipour/wadispatch/internal/http"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/service/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mysqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
		}

		metrics.MustRegister(prometheus.DefaultRegisterer)

		// repos
		tasksRepo := repository.NewTasksRepository(mysqlDB)
		logsRepo := repository.NewExecutionLogsRepository(mysqlDB)
		usersRepo := repository.NewUsersRepository(mysqlDB)
		store := repository.NewTaskStore(mysqlDB, tasksRepo, logsRepo)

		// ClickHouse serves analytics when configured
		var (
			analytics task.Analytics
			reports   httpSrv.LogReports
		)
		if chDB != nil {
			chLogs := repository.NewCHLogsRepository(chDB)
			analytics, reports = chLogs, chLogs
		}

		q, producer := app.NewQueue(cfg, redisClient)
		defer func() { _ = producer.Close() }()

		taskSvc := task.New(store, tasksRepo, logsRepo, analytics, q,
			app.NewBroadcaster(cfg, redisClient),
			task.Config{DefaultRegion: cfg.Phone.DefaultRegion})

		deps := httpSrv.Deps{Tasks: taskSvc, Users: usersRepo, Redis: redisClient, Reports: reports}
		wa, err := app.NewWhatsApp(cfg)
		if err != nil {
			return fmt.Errorf("whatsapp client: %w", err)
		}
		if wa != nil {
			deps.Media = wa
			deps.Webhook = wa
		}

		server, err := httpSrv.NewServer(cfg, deps)
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
