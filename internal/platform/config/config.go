package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	BusyTimeoutMs  int    `mapstructure:"busy_timeout_ms"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type WebhooksConfig struct {
	WorkerCount int    `mapstructure:"worker_count"`
	QueueName   string `mapstructure:"queue_name"`
	// MaxRetries and InitialBackoff are the defaults applied to endpoints
	// created without an explicit retry policy. InitialBackoff is in seconds.
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialBackoff   int           `mapstructure:"initial_backoff"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PromoteInterval  time.Duration `mapstructure:"promote_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	PendingThreshold time.Duration `mapstructure:"pending_threshold"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	DequeueWait      time.Duration `mapstructure:"dequeue_wait"`
	// VisibilityTimeout is how long a dequeued job may stay unacknowledged
	// before it is handed to another worker. Keep it well above Timeout.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

type SecurityConfig struct {
	// SecretKey seals endpoint secrets at rest. Hex encoded, 32 bytes.
	SecretKey string `mapstructure:"secret_key"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.path", "data/taxdesk.db")
	v.SetDefault("database.max_connections", 1)
	v.SetDefault("database.busy_timeout_ms", 5000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "taxdesk")

	v.SetDefault("jwt.issuer", "taxdesk")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("webhooks.worker_count", 8)
	v.SetDefault("webhooks.queue_name", "webhooks")
	v.SetDefault("webhooks.max_retries", 5)
	v.SetDefault("webhooks.initial_backoff", 2)
	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.promote_interval", time.Second)
	v.SetDefault("webhooks.sweep_interval", time.Minute)
	v.SetDefault("webhooks.pending_threshold", 5*time.Minute)
	v.SetDefault("webhooks.max_response_bytes", 64*1024)
	v.SetDefault("webhooks.dequeue_wait", 2*time.Second)
	v.SetDefault("webhooks.visibility_timeout", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.namespace", "taxdesk")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are static; decoding them cannot fail.
	_ = v.Unmarshal(&config)
	return &config
}
