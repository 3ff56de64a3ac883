package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SAHELPAY"

type Gateway struct {
	SecretKey       string `mapstructure:"secret-key"`
	Environment     string `mapstructure:"environment"`
	BaseURL         string `mapstructure:"base-url"`
	AppName         string `mapstructure:"app-name"`
	TimeoutMs       int    `mapstructure:"timeout-ms"`
	PayoutMinAmount int64  `mapstructure:"payout-min-amount"`
	PayoutMaxAmount int64  `mapstructure:"payout-max-amount"`
}

type Webhook struct {
	Secret                string `mapstructure:"secret"`
	ToleranceSeconds      int    `mapstructure:"tolerance-seconds"`
	AllowLegacySignatures bool   `mapstructure:"allow-legacy-signatures"`
	MaxBodyBytes          int64  `mapstructure:"max-body-bytes"`
}

type Poller struct {
	IntervalMs    int     `mapstructure:"interval-ms"`
	MaxIntervalMs int     `mapstructure:"max-interval-ms"`
	TimeoutMs     int     `mapstructure:"timeout-ms"`
	Multiplier    float64 `mapstructure:"multiplier"`
	Parallelism   int     `mapstructure:"parallelism"`
}

type Database struct {
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	SSLMode    string `mapstructure:"ssl-mode"`
	Migrations string `mapstructure:"migrations"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	OperationEvents string `mapstructure:"operation-events"`
	PollRequests    string `mapstructure:"poll-requests"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Gateway  Gateway  `mapstructure:"gateway"`
	Webhook  Webhook  `mapstructure:"webhook"`
	Poller   Poller   `mapstructure:"poller"`
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Redis    Redis    `mapstructure:"redis"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

// LoadConfig reads config.yaml from path. Any key can be overridden from the
// environment, e.g. gateway.secret-key by SAHELPAY_GATEWAY_SECRET_KEY. A .env
// file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.secret-key", "")
	v.SetDefault("gateway.environment", "production")
	v.SetDefault("gateway.base-url", "")
	v.SetDefault("gateway.app-name", "app")
	v.SetDefault("gateway.timeout-ms", 30_000)
	v.SetDefault("gateway.payout-min-amount", 100)
	v.SetDefault("gateway.payout-max-amount", 5_000_000)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.tolerance-seconds", 300)
	v.SetDefault("webhook.allow-legacy-signatures", false)
	v.SetDefault("webhook.max-body-bytes", 1<<20)

	v.SetDefault("poller.interval-ms", 2_000)
	v.SetDefault("poller.max-interval-ms", 10_000)
	v.SetDefault("poller.timeout-ms", 120_000)
	v.SetDefault("poller.multiplier", 1.5)
	v.SetDefault("poller.parallelism", 100)

	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("database.migrations", "migrations")

	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("kafka.topic.operation-events", "operation-events")
	v.SetDefault("kafka.topic.poll-requests", "poll-requests")
	v.SetDefault("kafka.reader.group-id", "sahelpay-webhooks")

	v.SetDefault("outbox.polling-interval-ms", 500)
	v.SetDefault("outbox.fetch-size", 200)
	v.SetDefault("outbox.reschedule-delay-ms", 10_000)
	v.SetDefault("outbox.max-publish-attempts", 3)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.port", "8080")
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("logs.level", "info")
}
