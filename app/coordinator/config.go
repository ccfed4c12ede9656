package coordinator

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable of the survey loop. Connection settings for
// Postgres and Cassandra stay env-driven inside their own packages; worker
// credentials are read at dispatch time so they never sit in memory longer
// than needed.
type Config struct {
	RetryCount            int     `envconfig:"RETRY_COUNT" default:"3"`
	SurveyIntervalMinutes int     `envconfig:"SURVEY_INTERVAL_MINUTES" default:"20"`
	MiniBatchNumber       int     `envconfig:"MINI_BATCH_NUMBER" default:"5"`
	UptimeDaysForScore    int     `envconfig:"UPTIME_DAYS_FOR_SCORE" default:"90"`
	StateHashThreshold    float64 `envconfig:"STATEHASH_THRESHOLD" default:"0.34"`

	WorkerImage string `envconfig:"WORKER_IMAGE" required:"true"`
	WorkerTag   string `envconfig:"WORKER_TAG" required:"true"`
	NetworkName string `envconfig:"NETWORK_NAME" default:"mainnet"`
	NoChecks    bool   `envconfig:"NO_CHECKS"`
	TestEnv     bool   `envconfig:"TEST_ENV"`

	WebhookURL         string  `envconfig:"WEBHOOK_URL"`
	AlarmLowerLimitSec float64 `envconfig:"ALARM_ZK_LOWER_LIMIT_SEC" default:"30"`
	AlarmUpperLimitSec float64 `envconfig:"ALARM_ZK_UPPER_LIMIT_SEC" default:"600"`

	RosterCron string `envconfig:"ROSTER_CRON"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("coordinator: load config: %w", err)
	}
	if cfg.MiniBatchNumber < 1 {
		return Config{}, fmt.Errorf("coordinator: MINI_BATCH_NUMBER must be positive, got %d", cfg.MiniBatchNumber)
	}
	return cfg, nil
}

// Interval returns the survey window length.
func (c Config) Interval() time.Duration {
	return time.Duration(c.SurveyIntervalMinutes) * time.Minute
}
