// Команда sendtest прогоняет конвейер guidance для одного пользователя
// и отправляет результат по SMS. Утилита для ручной диагностики.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"zodiak/internal/adapters/astro"
	"zodiak/internal/adapters/narrative"
	"zodiak/internal/adapters/repo"
	"zodiak/internal/adapters/sms"
	"zodiak/internal/domain"
	"zodiak/internal/infra/cache"
	"zodiak/internal/infra/config"
	"zodiak/internal/infra/db"
	applog "zodiak/internal/infra/log"
	"zodiak/internal/infra/openai"
	"zodiak/internal/infra/ratelimit"
	"zodiak/internal/usecase/guidance"
)

func main() {
	userID := flag.String("user", "", "id пользователя")
	phone := flag.String("phone", "", "телефон пользователя (альтернатива -user)")
	dryRun := flag.Bool("dry-run", false, "только сгенерировать, ничего не отправлять")
	flag.Parse()

	if *userID == "" && *phone == "" {
		fmt.Fprintln(os.Stderr, "нужен -user или -phone")
		os.Exit(2)
	}

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("sendtest: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("sendtest: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	sharedCache := cache.NewRedis(redisClient)

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
		Cache:       cache.NewMemory(),
		Once:        sharedCache,
		ProfileTTL:  cfg.Guidance.ProfileCacheTTL,
		GuidanceTTL: cfg.Guidance.GuidanceCacheTTL,
		Logger:      logger.With().Str("component", "pipeline").Logger(),
	})

	var profile domain.Profile
	if *userID != "" {
		profile, err = repoAdapter.GetByID(ctx, *userID)
	} else {
		profile, err = repoAdapter.GetByPhone(ctx, *phone)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("sendtest: профиль не найден")
	}

	if !profile.EligibleForGuidance() {
		logger.Fatal().Str("user_id", profile.ID).Str("status", string(profile.Subscription)).Msg("sendtest: профиль не допущен к guidance")
	}

	today := time.Now().In(loc)
	g, created, err := pipeline.EnsureForToday(ctx, profile, today)
	if err != nil {
		logger.Fatal().Err(err).Msg("sendtest: генерация не удалась")
	}

	payload, _ := json.MarshalIndent(g.Payload, "", "  ")
	fmt.Printf("guidance для %s на %s (source=%s, created=%v):\n%s\n",
		profile.ID, g.Date.Format("2006-01-02"), g.Source, created, payload)
	fmt.Printf("\nтекст SMS:\n%s\n", guidance.FormatSMS(profile.FirstName, g.Payload))

	if *dryRun {
		return
	}

	if err := pipeline.Deliver(ctx, profile, g); err != nil {
		logger.Fatal().Err(err).Msg("sendtest: отправка не удалась")
	}
	fmt.Println("\nотправлено")
}
