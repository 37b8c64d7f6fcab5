package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kubernetes KubernetesConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	Kafka      KafkaConfig
	Processor  ProcessorConfig
	Health     HealthConfig
	Relay      RelayConfig
	Modules    map[string]string `mapstructure:"modules"`
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres or sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

// Enabled reports whether a Redis endpoint was configured. Redis only carries
// wake-up notifications, so the orchestrator runs without it.
func (c *RedisConfig) Enabled() bool {
	return len(c.Addresses) > 0 && c.Addresses[0] != ""
}

type KubernetesConfig struct {
	InCluster      bool          `mapstructure:"in_cluster"`
	KubeConfig     string        `mapstructure:"kubeconfig"`
	Namespace      string        `mapstructure:"namespace"`
	LeaderElection bool          `mapstructure:"leader_election"`
	LeaseName      string        `mapstructure:"lease_name"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	RenewDeadline  time.Duration `mapstructure:"renew_deadline"`
	RetryPeriod    time.Duration `mapstructure:"retry_period"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type ProcessorConfig struct {
	Workers           int           `mapstructure:"workers"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	HandlerTimeout    time.Duration `mapstructure:"handler_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffJitter     bool          `mapstructure:"backoff_jitter"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
}

type HealthConfig struct {
	PendingThreshold    int64         `mapstructure:"pending_threshold"`
	DeadLetterThreshold int64         `mapstructure:"dead_letter_threshold"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	SlowProbe           time.Duration `mapstructure:"slow_probe"`
}

type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/orchestrator/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORCHESTRATOR")
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults registers every default on v. Exported so Default and tests
// share one source of truth.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "orchestrator.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("kubernetes.lease_name", "orchestrator-janitor")
	v.SetDefault("kubernetes.lease_duration", "15s")
	v.SetDefault("kubernetes.renew_deadline", "10s")
	v.SetDefault("kubernetes.retry_period", "2s")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.issuer", "orchestrator")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("kafka.client_id", "orchestrator-dlq-relay")
	v.SetDefault("kafka.dlq_topic", "orchestrator.events.dlq")
	v.SetDefault("processor.workers", 4)
	v.SetDefault("processor.poll_interval", "1s")
	v.SetDefault("processor.batch_size", 20)
	v.SetDefault("processor.max_retries", 3)
	v.SetDefault("processor.handler_timeout", "30s")
	v.SetDefault("processor.backoff_base", "2s")
	v.SetDefault("processor.backoff_max", "5m")
	v.SetDefault("processor.backoff_jitter", true)
	v.SetDefault("processor.processing_timeout", "5m")
	v.SetDefault("processor.janitor_interval", "30s")
	v.SetDefault("health.pending_threshold", 1000)
	v.SetDefault("health.dead_letter_threshold", 100)
	v.SetDefault("health.probe_timeout", "3s")
	v.SetDefault("health.slow_probe", "500ms")
	v.SetDefault("relay.poll_interval", "5s")
	v.SetDefault("relay.batch_size", 100)
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
