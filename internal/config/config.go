package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type DB struct {
	User     string `env:"USER" envDefault:"postgres"`
	Pass     string `env:"PASS" envDefault:"postgres"`
	Host     string `env:"HOST" envDefault:"postgres"`
	Port     string `env:"PORT" envDefault:"5432"`
	Name     string `env:"NAME" envDefault:"hookline"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`

	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"false"` // apply the embedded schema at startup
}

type Redis struct {
	URL            string        `env:"URL" envDefault:"redis://redis:6379/0"`
	RetryAttempts  int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
}

type NSQ struct {
	NsqdTCPAddr  string `env:"NSQD_TCP_ADDR" envDefault:"nsqd:4150"`
	NsqdHTTPAddr string `env:"NSQD_HTTP_ADDR" envDefault:"nsqd:4151"`
	DLQTopic     string `env:"DLQ_TOPIC" envDefault:"webhook_deliveries_dlq"`
	PublishDLQ   bool   `env:"PUBLISH_DLQ" envDefault:"false"` // publish abandoned deliveries to DLQTopic
}

type Delivery struct {
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay      time.Duration `env:"BASE_DELAY" envDefault:"1s"`       // retry delay = BaseDelay * 2^attempt
	AttemptTimeout time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"10s"` // hard deadline per POST
	UserAgent      string        `env:"USER_AGENT" envDefault:"Hookline-Webhook/1.0"`
}

type Queue struct {
	Name          string        `env:"NAME" envDefault:"deliver-webhook"`
	Prefix        string        `env:"PREFIX" envDefault:"hookline"`
	Concurrency   int           `env:"CONCURRENCY" envDefault:"10"`
	KeepCompleted int           `env:"KEEP_COMPLETED" envDefault:"100"`
	KeepFailed    int           `env:"KEEP_FAILED" envDefault:"50"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	Lease         time.Duration `env:"LEASE" envDefault:"1m"` // active jobs older than this are redelivered
	MonitorEvery  time.Duration `env:"MONITOR_INTERVAL" envDefault:"15s"`
}

type Tracing struct {
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
	Endpoint string `env:"ENDPOINT" envDefault:"tempo:4318"`
}

type Worker struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:":8082"`
}

type Ingest struct {
	StrictEvents bool `env:"STRICT_EVENTS" envDefault:"false"` // reject event types the app does not emit
}

type Monitor struct {
	HTTPPort     string        `env:"HTTP_PORT" envDefault:":8084"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
}

type FakeReceiver struct {
	FailFirstN           int           `env:"FAIL_FIRST_N" envDefault:"0"`
	EndpointSecret       string        `env:"ENDPOINT_SECRET"`
	SigningLeewaySeconds int           `env:"SIGNING_LEEWAY_SECONDS" envDefault:"300"`
	ResponseDelay        time.Duration `env:"RESPONSE_DELAY" envDefault:"0s"`
	Port                 string        `env:"PORT" envDefault:":8081"`
	ReadTimeout          time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
}

type Config struct {
	AppName      string       `env:"APP_NAME" envDefault:"hookline"`
	HTTPPort     string       `env:"HTTP_PORT" envDefault:":8080"`
	LogLevel     string       `env:"LOG_LEVEL" envDefault:"info"`
	DB           DB           `envPrefix:"DB_"`
	Redis        Redis        `envPrefix:"REDIS_"`
	NSQ          NSQ          `envPrefix:"NSQ_"`
	Delivery     Delivery     `envPrefix:"DELIVERY_"`
	Queue        Queue        `envPrefix:"QUEUE_"`
	Tracing      Tracing      `envPrefix:"TRACING_"`
	Worker       Worker       `envPrefix:"WORKER_"`
	Ingest       Ingest       `envPrefix:"INGEST_"`
	Monitor      Monitor      `envPrefix:"MONITOR_"`
	FakeReceiver FakeReceiver `envPrefix:"FAKE_RECEIVER_"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Load parses the process environment into a Config and validates it.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MaxDeliveryAttempts bounds DELIVERY_MAX_ATTEMPTS so the backoff stays
// within time.Duration.
const MaxDeliveryAttempts = 30

// Validate rejects settings the delivery pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Delivery.MaxAttempts < 1:
		return fmt.Errorf("%w: DELIVERY_MAX_ATTEMPTS must be >= 1", ErrInvalidConfig)
	case c.Delivery.MaxAttempts > MaxDeliveryAttempts:
		return fmt.Errorf("%w: DELIVERY_MAX_ATTEMPTS must be <= %d", ErrInvalidConfig, MaxDeliveryAttempts)
	case c.Delivery.AttemptTimeout <= 0:
		return fmt.Errorf("%w: DELIVERY_ATTEMPT_TIMEOUT must be positive", ErrInvalidConfig)
	case c.Delivery.BaseDelay < 0:
		return fmt.Errorf("%w: DELIVERY_BASE_DELAY must not be negative", ErrInvalidConfig)
	case c.Queue.Name == "":
		return fmt.Errorf("%w: QUEUE_NAME is required", ErrInvalidConfig)
	case c.Queue.Concurrency < 1:
		return fmt.Errorf("%w: QUEUE_CONCURRENCY must be >= 1", ErrInvalidConfig)
	case c.Queue.KeepCompleted < 0 || c.Queue.KeepFailed < 0:
		return fmt.Errorf("%w: queue retention must not be negative", ErrInvalidConfig)
	case c.Queue.PollInterval <= 0:
		return fmt.Errorf("%w: QUEUE_POLL_INTERVAL must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
