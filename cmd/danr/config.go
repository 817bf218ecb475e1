package main

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type ServiceConfig struct {
	Environment string `env:"DANR_ENVIRONMENT" env-default:"development"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	Port        string `env:"PORT" env-default:"8080"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// BucketURL is a gocloud blob URL such as file:///var/lib/danr or
	// gs://danr-sessions.
	BucketURL      string `env:"DANR_BUCKET_URL" env-default:"mem://"`
	MaxUploadBytes int64  `env:"DANR_MAX_UPLOAD_BYTES" env-default:"104857600"`

	ANRGroupsKafkaTopic string   `env:"DANR_ANR_GROUPS_TOPIC" env-default:"anr-groups"`
	KafkaBrokers        []string `env:"DANR_KAFKA_BROKERS" env-separator:","`

	SpanGapMultiplier float64 `env:"DANR_SPAN_GAP_MULTIPLIER" env-default:"2.5"`

	DeviceTTL time.Duration `env:"DANR_DEVICE_TTL" env-default:"60s"`
}

func readConfig() (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}
