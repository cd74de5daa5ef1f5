package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"zodiak/internal/adapters/astro"
	"zodiak/internal/adapters/narrative"
	"zodiak/internal/adapters/repo"
	"zodiak/internal/adapters/sms"
	"zodiak/internal/infra/cache"
	"zodiak/internal/infra/config"
	"zodiak/internal/infra/db"
	applog "zodiak/internal/infra/log"
	"zodiak/internal/infra/metrics"
	"zodiak/internal/infra/openai"
	"zodiak/internal/infra/ratelimit"
	"zodiak/internal/usecase/guidance"
	"zodiak/internal/usecase/schedule"
	"zodiak/internal/usecase/trial"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scheduler: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	sharedCache := cache.NewRedis(redisClient)
	memCache := cache.NewMemory()

	limiter := ratelimit.NewSlidingWindow(cfg.Guidance.RatePerMinute, time.Minute)
	chatClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	generator := narrative.NewOpenAI(chatClient, limiter, cfg.OpenAI.Model, cfg.OpenAI.Timeout, logger.With().Str("component", "narrative").Logger())
	charts := astro.NewClient(astro.Config{BaseURL: cfg.Astro.BaseURL, APIKey: cfg.Astro.APIKey, Timeout: cfg.Astro.Timeout}, sharedCache, logger.With().Str("component", "astro").Logger())
	smsClient := sms.NewClient(sms.Config{BaseURL: cfg.SMS.BaseURL, APIKey: cfg.SMS.APIKey, Sender: cfg.SMS.Sender, Timeout: cfg.SMS.Timeout})

	pipeline := guidance.NewService(guidance.Config{
		Profiles:    repoAdapter,
		Guidances:   repoAdapter,
		Charts:      charts,
		Generator:   generator,
		Sender:      smsClient,
		Cache:       memCache,
		Once:        sharedCache,
		ProfileTTL:  cfg.Guidance.ProfileCacheTTL,
		GuidanceTTL: cfg.Guidance.GuidanceCacheTTL,
		Logger:      logger.With().Str("component", "pipeline").Logger(),
	})
	scheduler := schedule.NewService(repoAdapter, pipeline, loc, cfg.Guidance.Concurrency, logger.With().Str("component", "scheduler").Logger())
	notifier := trial.NewNotifier(trial.Config{
		Profiles:    repoAdapter,
		Sender:      smsClient,
		Flags:       sharedCache,
		MorningHour: cfg.Trial.MorningHour,
		EveningHour: cfg.Trial.EveningHour,
		Location:    loc,
		Logger:      logger.With().Str("component", "trial").Logger(),
	})

	// отдельный порт под /metrics, чтобы не пересекаться с api
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Msg("scheduler: metrics server запущен")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("scheduler: metrics server остановился")
		}
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	logger.Info().Str("tz", loc.String()).Msg("scheduler: запущен, тик раз в минуту")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка по сигналу")
			return
		case now := <-ticker.C:
			runTick(ctx, scheduler, notifier, now, logger)
		}
	}
}

func runTick(ctx context.Context, scheduler *schedule.Service, notifier *trial.Notifier, now time.Time, logger zerolog.Logger) {
	summary, err := scheduler.RunTick(ctx, now)
	switch {
	case errors.Is(err, schedule.ErrTickInProgress):
		logger.Warn().Msg("scheduler: предыдущий тик ещё выполняется, пропуск")
	case err != nil:
		logger.Error().Err(err).Msg("scheduler: тик завершился с ошибкой")
	default:
		if summary.Total > 0 {
			logger.Info().
				Int("sent", summary.Sent).
				Int("skipped", summary.Skipped).
				Int("total", summary.Total).
				Msg("scheduler: тик завершён")
		}
	}

	if err := notifier.Run(ctx, now); err != nil {
		logger.Error().Err(err).Msg("scheduler: напоминания о триале завершились с ошибкой")
	}
}
