package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/ogulcanaydogan/kpi-sentinel/internal/config"
	"github.com/ogulcanaydogan/kpi-sentinel/internal/metrics"
	"github.com/ogulcanaydogan/kpi-sentinel/internal/scheduler"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/lifecycle"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/notify"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/realtime"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *storage.SQLStore
	registry   *thresholds.Registry
	manager    *lifecycle.Manager
	dispatcher *notify.Dispatcher
	reconciler *reconcile.Reconciler
	scheduler  *scheduler.Scheduler

	hub       *realtime.Hub
	mqtt      *realtime.MQTTPublisher
	redis     *redis.Client
	promReg   *prometheus.Registry
	closeFunc []func()
}

// initStorage opens the configured backend.
func initStorage(cfg *config.Config) (*storage.SQLStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgres(cfg.Storage.DSN)
	default:
		return storage.NewSQLite(cfg.Storage.Path)
	}
}

// initRegistry seeds the default thresholds, then loads the optional file.
// With override the file replaces stored entries; otherwise it only fills
// keys that are not stored yet.
func initRegistry(ctx context.Context, cfg *config.Config, store *storage.SQLStore, override bool, logger *slog.Logger) (*thresholds.Registry, error) {
	registry := thresholds.NewRegistry(store)
	seeded, err := registry.Seed(ctx, thresholds.Defaults())
	if err != nil {
		return nil, err
	}
	if seeded > 0 {
		logger.Info("seeded default thresholds", "count", seeded)
	}

	if cfg.Thresholds.File != "" {
		list, err := thresholds.LoadFile(cfg.Thresholds.File)
		if err != nil {
			return nil, err
		}
		if !override {
			seeded, err := registry.Seed(ctx, list)
			if err != nil {
				return nil, err
			}
			logger.Debug("seeded threshold file", "file", cfg.Thresholds.File, "count", seeded)
			return registry, nil
		}
		if err := registry.Apply(ctx, list); err != nil {
			return nil, err
		}
		logger.Info("applied threshold file", "file", cfg.Thresholds.File, "count", len(list))
	}
	return registry, nil
}

// initNotifiers creates the operations mirrors from config.
func initNotifiers(cfg *config.Config) []notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.Notifications.Slack.Enabled && cfg.Notifications.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			cfg.Notifications.Slack.WebhookURL,
			cfg.Notifications.Slack.Channel,
		))
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(
			cfg.Notifications.Webhook.URL,
			cfg.Notifications.Webhook.Secret,
		))
	}

	return notifiers
}

// newApp wires every service. Only a serving app starts the real-time
// publishers and lets the threshold file override stored thresholds.
func newApp(ctx context.Context, cfg *config.Config, serving bool) (*app, error) {
	logger := newLogger(cfg)

	store, err := initStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	a.onClose(func() { store.Close() })

	a.registry, err = initRegistry(ctx, cfg, store, serving, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.promReg)

	var fanout realtime.Fanout
	if serving {
		if cfg.Notifications.Push.WebSocket {
			a.hub = realtime.NewHub(logger)
			fanout = append(fanout, a.hub)
		}
		if cfg.Notifications.Push.MQTT.Enabled {
			mq := cfg.Notifications.Push.MQTT
			a.mqtt, err = realtime.NewMQTTPublisher(realtime.MQTTConfig{
				Broker:      mq.Broker,
				ClientID:    mq.ClientID,
				Username:    mq.Username,
				Password:    mq.Password,
				TopicPrefix: mq.TopicPrefix,
			})
			if err != nil {
				a.Close()
				return nil, err
			}
			a.onClose(a.mqtt.Close)
			fanout = append(fanout, a.mqtt)
		}
	}
	var publisher realtime.Publisher
	if len(fanout) > 0 {
		publisher = fanout
	}

	a.manager = lifecycle.NewManager(store, publisher, logger)
	a.manager.SetObserver(m)

	channels := notify.Channels{
		InApp: notify.NewStoreSink(store),
		Push:  publisher,
		Ops:   initNotifiers(cfg),
	}
	email := cfg.Notifications.Email
	if email.Enabled {
		channels.Email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     email.Host,
			Port:     email.Port,
			Username: email.Username,
			Password: email.Password,
			From:     email.From,
		})
	}
	sms := cfg.Notifications.SMS
	if sms.Enabled {
		channels.SMS = notify.NewSMSGateway(notify.SMSGatewayConfig{
			BaseURL: sms.GatewayURL,
			APIKey:  sms.APIKey,
			Secret:  sms.Secret,
			Sender:  sms.Sender,
		}, logger)
	}
	a.dispatcher = notify.NewDispatcher(store, channels, notify.Config{
		EmailEnabled: email.Enabled,
		SMSEnabled:   sms.Enabled,
		SMSTemplate:  sms.Template,
	}, logger)
	a.dispatcher.SetObserver(m)

	rc := cfg.Reconciler
	a.reconciler = reconcile.New(store, a.registry, reconcile.Options{
		Overdue:      rc.Overdue,
		Pending:      rc.Pending,
		RateKPIs:     rc.RateKPIs,
		PrunePending: rc.PrunePending,
	}, logger)
	a.reconciler.SetObserver(m)

	if rc.Lock.Enabled {
		a.redis, err = reconcile.NewRedisClient(ctx, rc.Lock.RedisAddr, rc.Lock.Password, rc.Lock.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(func() { a.redis.Close() })
		a.reconciler.SetLocker(reconcile.NewRedisLock(a.redis, rc.Lock.Key, rc.Lock.TTL))
	}

	a.scheduler = scheduler.New(a.reconciler, a.dispatcher, a.manager, scheduler.Config{
		Interval:       rc.Interval,
		InitialDelay:   rc.InitialDelay,
		NotifyOnDetect: rc.NotifyOnDetect,
		ArchiveAfter:   cfg.Lifecycle.ArchiveAfter,
		SweepInterval:  cfg.Lifecycle.SweepInterval,
	}, logger)

	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closeFunc = append(a.closeFunc, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		a.closeFunc[i]()
	}
	a.closeFunc = nil
}
