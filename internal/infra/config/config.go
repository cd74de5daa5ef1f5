package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Paris"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Astro struct {
		BaseURL string        `envconfig:"ASTRO_API_URL"`
		APIKey  string        `envconfig:"ASTRO_API_KEY"`
		Timeout time.Duration `envconfig:"ASTRO_TIMEOUT" default:"15s"`
	} `envconfig:""`

	SMS struct {
		BaseURL string        `envconfig:"SMS_API_URL"`
		APIKey  string        `envconfig:"SMS_API_KEY"`
		Sender  string        `envconfig:"SMS_SENDER" default:"Zodiak"`
		Timeout time.Duration `envconfig:"SMS_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Guidance struct {
		ProfileCacheTTL  time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"5m"`
		GuidanceCacheTTL time.Duration `envconfig:"GUIDANCE_CACHE_TTL" default:"12h"`
		RatePerMinute    int           `envconfig:"NARRATIVE_RATE_LIMIT" default:"8"`
		Concurrency      int           `envconfig:"PIPELINE_CONCURRENCY" default:"4"`
	} `envconfig:""`

	Trial struct {
		MorningHour int `envconfig:"TRIAL_MORNING_HOUR" default:"10"`
		EveningHour int `envconfig:"TRIAL_EVENING_HOUR" default:"18"`
	} `envconfig:""`

	Cron struct {
		Secret string `envconfig:"CRON_SECRET"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env подхватывается, если есть.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
