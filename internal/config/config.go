package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all KPI Sentinel configuration.
type Config struct {
	Storage       StorageConfig       `mapstructure:"storage"`
	Server        ServerConfig        `mapstructure:"server"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Thresholds    ThresholdsConfig    `mapstructure:"thresholds"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// StorageConfig selects the database backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ReconcilerConfig controls the periodic reconciliation.
type ReconcilerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	Overdue        bool          `mapstructure:"overdue"`
	Pending        bool          `mapstructure:"pending"`
	PrunePending   bool          `mapstructure:"prune_pending"`
	RateKPIs       bool          `mapstructure:"rate_kpis"`
	NotifyOnDetect bool          `mapstructure:"notify_on_detect"`
	Lock           LockConfig    `mapstructure:"lock"`
}

// LockConfig defines the Redis lock shared by several instances.
type LockConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Key       string        `mapstructure:"key"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// LifecycleConfig defines the archive sweep.
type LifecycleConfig struct {
	ArchiveAfter  time.Duration `mapstructure:"archive_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NotificationsConfig groups the delivery channels.
type NotificationsConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Push    PushConfig    `mapstructure:"push"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig defines SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig defines the SMS gateway.
type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	GatewayURL string `mapstructure:"gateway_url"`
	APIKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Sender     string `mapstructure:"sender"`
	Template   string `mapstructure:"template"`
}

// PushConfig defines real-time delivery.
type PushConfig struct {
	WebSocket bool       `mapstructure:"websocket"`
	MQTT      MQTTConfig `mapstructure:"mqtt"`
}

// MQTTConfig defines the MQTT broker connection.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// ThresholdsConfig points at an optional YAML threshold file.
type ThresholdsConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is loaded first; variables already set win.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".sentinel"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Every key gets a default so AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".sentinel", "sentinel.db"))
	v.SetDefault("storage.dsn", "")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("reconciler.interval", "5m")
	v.SetDefault("reconciler.initial_delay", "30s")
	v.SetDefault("reconciler.overdue", true)
	v.SetDefault("reconciler.pending", true)
	v.SetDefault("reconciler.prune_pending", false)
	v.SetDefault("reconciler.rate_kpis", false)
	v.SetDefault("reconciler.notify_on_detect", true)
	v.SetDefault("reconciler.lock.enabled", false)
	v.SetDefault("reconciler.lock.redis_addr", "localhost:6379")
	v.SetDefault("reconciler.lock.password", "")
	v.SetDefault("reconciler.lock.db", 0)
	v.SetDefault("reconciler.lock.key", "sentinel:reconcile")
	v.SetDefault("reconciler.lock.ttl", "4m")

	v.SetDefault("lifecycle.archive_after", "720h")
	v.SetDefault("lifecycle.sweep_interval", "24h")

	v.SetDefault("notifications.email.enabled", false)
	v.SetDefault("notifications.email.host", "")
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "")

	v.SetDefault("notifications.sms.enabled", false)
	v.SetDefault("notifications.sms.gateway_url", "")
	v.SetDefault("notifications.sms.api_key", "")
	v.SetDefault("notifications.sms.secret", "")
	v.SetDefault("notifications.sms.sender", "")
	v.SetDefault("notifications.sms.template", "kpi_alert")

	v.SetDefault("notifications.push.websocket", true)
	v.SetDefault("notifications.push.mqtt.enabled", false)
	v.SetDefault("notifications.push.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("notifications.push.mqtt.client_id", "kpi-sentinel")
	v.SetDefault("notifications.push.mqtt.username", "")
	v.SetDefault("notifications.push.mqtt.password", "")
	v.SetDefault("notifications.push.mqtt.topic_prefix", "sentinel")

	v.SetDefault("notifications.slack.enabled", false)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.slack.channel", "#finance-alerts")
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.secret", "")

	v.SetDefault("thresholds.file", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	if c.Reconciler.Lock.Enabled && c.Reconciler.Lock.TTL <= 0 {
		return errors.New("reconciler.lock.ttl must be positive")
	}
	if c.Notifications.Email.Enabled && c.Notifications.Email.Host == "" {
		return errors.New("notifications.email.host is required when email is enabled")
	}
	if c.Notifications.SMS.Enabled && c.Notifications.SMS.GatewayURL == "" {
		return errors.New("notifications.sms.gateway_url is required when sms is enabled")
	}
	return nil
}
