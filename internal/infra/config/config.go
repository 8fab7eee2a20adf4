package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Monitor struct {
		LiveSpec         string        `envconfig:"LIVE_CRON_SPEC" default:"*/30 * * * * *"`
		DynamicSpec      string        `envconfig:"DYNAMIC_CRON_SPEC" default:"@every 2m"`
		LiveCacheTTL     time.Duration `envconfig:"LIVE_CACHE_TTL" default:"15s"`
		SendConcurrency  int           `envconfig:"NOTIFY_SEND_CONCURRENCY" default:"2"`
		CheckConcurrency int           `envconfig:"CHECK_CONCURRENCY" default:"16"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
