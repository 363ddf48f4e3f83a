package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
		// APIBase переопределяется в тестах и при работе через прокси.
		APIBase    string        `envconfig:"TG_API_BASE" default:"https://api.telegram.org"`
		Timeout    time.Duration `envconfig:"TG_SEND_TIMEOUT" default:"5s"`
		WebhookURL string        `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`

	Queues struct {
		Send string `envconfig:"SEND_QUEUE_KEY" default:"telegram_send_jobs"`
	} `envconfig:""`

	Notify struct {
		AssignedWindow time.Duration `envconfig:"ASSIGNED_DEDUP_WINDOW" default:"1h"`
		OverdueWindow  time.Duration `envconfig:"OVERDUE_DEDUP_WINDOW" default:"24h"`
		SendSuppress   time.Duration `envconfig:"SEND_SUPPRESS_WINDOW" default:"10m"`
		Workers        int           `envconfig:"NOTIFIER_WORKERS" default:"4"`
	} `envconfig:""`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
