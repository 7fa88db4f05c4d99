package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/app"
	"github.com/jmehdipour/wadispatch/internal/db"
	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/kafka"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/worker"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Start delivery worker (normal | express)",
}

var deliveryNormalCmd = &cobra.Command{
	Use:   "normal",
	Short: "Deliver tasks from the normal lane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelivery(cmd, model.LaneNormal)
	},
}

var deliveryExpressCmd = &cobra.Command{
	Use:   "express",
	Short: "Deliver tasks from the express lane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelivery(cmd, model.LaneExpress)
	},
}

func init() {
	deliveryCmd.AddCommand(deliveryNormalCmd)
	deliveryCmd.AddCommand(deliveryExpressCmd)
}

func runDelivery(cmd *cobra.Command, lane model.Lane) error {
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

	// channels: a nil sender disables the channel
	var wa dispatcher.WhatsAppSender
	client, err := app.NewWhatsApp(cfg)
	if err != nil {
		return fmt.Errorf("whatsapp client: %w", err)
	}
	if client != nil {
		wa = app.GuardWhatsApp(cfg, client)
	}

	var sms worker.SMSSender
	if d := app.NewSMSDispatcher(cfg); d != nil {
		sms = d
	}

	if wa == nil && sms == nil {
		return fmt.Errorf("no delivery channel configured")
	}

	exec := worker.NewExecutor(store, q, wa, sms, app.NewBroadcaster(cfg, rdb), worker.ExecutorConfig{
		Claimant: claimant(cfg.Worker.Claimant, lane),
		Backoff:  app.Backoff(cfg),
	})

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "wadisp-delivery"
	}
	groupID = groupID + "-" + lane.String()
	topic := q.Topic(lane)

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	r := worker.NewRunner(consumer, exec, lane, cfg.Worker.Concurrency)
	r.Pump = func(ctx context.Context) {
		q.RunPump(ctx, cfg.Worker.PumpInterval, cfg.Worker.PumpBatch)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("delivery worker starting",
		zap.String("lane", lane.String()),
		zap.String("topic", consumer.Topic()),
		zap.String("group", groupID),
		zap.Int("workers", r.Workers),
		zap.Bool("whatsapp", wa != nil),
		zap.Bool("sms", sms != nil))

	return r.Run(ctx)
}

// claimant names this process in claimed_by.
func claimant(configured string, lane model.Lane) string {
	if configured != "" {
		return configured
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), lane)
}
