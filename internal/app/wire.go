// Package app builds the shared collaborators of the serve and worker
// commands from the loaded config.
package app

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/broadcast"
	"github.com/jmehdipour/wadispatch/internal/config"
	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/kafka"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/queue"
	"github.com/jmehdipour/wadispatch/internal/worker"
)

// NewQueue returns the work queue and the producer the caller must close.
func NewQueue(cfg config.Config, rdb *redis.Client) (*queue.Queue, *kafka.Producer) {
	prod := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})

	q := queue.New(prod, rdb, queue.Config{
		ExpressTopic: cfg.Kafka.ExpressTopic,
		NormalTopic:  cfg.Kafka.NormalTopic,
		DelayedKey:   cfg.Worker.DelayedKey,
	})
	return q, prod
}

func NewBroadcaster(cfg config.Config, rdb *redis.Client) broadcast.Broadcaster {
	if !cfg.Broadcast.Enabled || rdb == nil {
		return broadcast.Nop{}
	}
	return broadcast.NewRedis(rdb, cfg.Broadcast.Channel, cfg.Broadcast.Timeout)
}

// NewWhatsApp returns nil when no credentials are configured.
func NewWhatsApp(cfg config.Config) (*dispatcher.WhatsAppClient, error) {
	if !cfg.WhatsApp.Enabled() {
		logger.Log.Warn("whatsapp credentials not set, channel disabled")
		return nil, nil
	}

	return dispatcher.NewWhatsAppClient(dispatcher.WhatsAppConfig{
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		AppSecret:     cfg.WhatsApp.AppSecret,
		BaseURL:       cfg.WhatsApp.BaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		Timeout:       cfg.WhatsApp.Timeout,
		UploadTimeout: cfg.WhatsApp.UploadTimeout,
	})
}

// GuardWhatsApp wraps the client in a circuit breaker.
func GuardWhatsApp(cfg config.Config, c *dispatcher.WhatsAppClient) *dispatcher.GuardedSender {
	br := dispatcher.NewMicroBreaker(
		cfg.WhatsApp.Breaker.FailThreshold,
		time.Duration(cfg.WhatsApp.Breaker.OpenForMs)*time.Millisecond,
	)
	return dispatcher.NewGuardedSender(c, br)
}

// NewSMSDispatcher returns nil when no provider is enabled.
func NewSMSDispatcher(cfg config.Config) *dispatcher.Dispatcher {
	var provs []dispatcher.Provider
	for _, pc := range cfg.SMS.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}

		provs = append(provs, dispatcher.NewHTTPProvider(dispatcher.HTTPProviderConfig{
			Name:          pc.Name,
			BaseURL:       strings.TrimRight(pc.BaseURL, "/"),
			NormalPath:    pc.NormalPath,
			ExpressPath:   pc.ExpressPath,
			APIKey:        pc.APIKey,
			TimeoutMs:     pc.TimeoutMs,
			FailThreshold: pc.Breaker.FailThreshold,
			OpenForMs:     pc.Breaker.OpenForMs,
		}))
	}

	if len(provs) == 0 {
		logger.Log.Warn("no sms providers enabled, channel disabled")
		return nil
	}

	logger.Log.Info("sms providers ready", zap.Int("count", len(provs)))
	return dispatcher.NewDispatcher(provs, cfg.Dispatcher.MaxRetryAttempts.Express, cfg.Dispatcher.MaxRetryAttempts.Normal)
}

func Backoff(cfg config.Config) worker.Backoff {
	return worker.Backoff{
		Base:   cfg.Worker.Backoff.Base,
		Max:    cfg.Worker.Backoff.Max,
		Jitter: cfg.Worker.Backoff.Jitter,
	}
}
