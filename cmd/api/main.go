package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"zodiak/internal/adapters/astro"
	"zodiak/internal/adapters/narrative"
	"zodiak/internal/adapters/repo"
	"zodiak/internal/adapters/sms"
	"zodiak/internal/domain"
	"zodiak/internal/infra/cache"
	"zodiak/internal/infra/config"
	"zodiak/internal/infra/db"
	httpinfra "zodiak/internal/infra/http"
	applog "zodiak/internal/infra/log"
	"zodiak/internal/infra/metrics"
	"zodiak/internal/infra/openai"
	"zodiak/internal/infra/ratelimit"
	"zodiak/internal/usecase/guidance"
	"zodiak/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("api: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
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

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	registerRoutes(server.Router, cfg, loc, pipeline, scheduler, repoAdapter, repoAdapter, smsClient, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: graceful shutdown failed")
		}
	}()

	if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановился с ошибкой")
	}
}

func registerRoutes(r chi.Router, cfg config.AppConfig, loc *time.Location, pipeline *guidance.Service, scheduler *schedule.Service, profiles domain.ProfileRepo, receipts domain.ReceiptRepo, gateway domain.SMSSender, logger zerolog.Logger) {
	r.Get("/api/v1/guidance/today", func(w http.ResponseWriter, req *http.Request) {
		userID := req.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		today := time.Now().In(loc)
		g, err := pipeline.Today(req.Context(), userID, today)
		if errors.Is(err, domain.ErrNotFound) {
			// guidance ещё не сгенерирован: фронт показывает состояние загрузки
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"status": "loading"})
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("api: не удалось получить guidance")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, guidanceResponse(g))
	})

	r.Post("/api/v1/guidance/refresh", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		today := time.Now().In(loc)
		g, err := pipeline.RefreshToday(req.Context(), body.UserID, today)
		switch {
		case errors.Is(err, domain.ErrAlreadyDone):
			writeError(w, http.StatusTooManyRequests, "guidance can be refreshed once per day")
			return
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "profile not found")
			return
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited, try again later")
			return
		case err != nil:
			logger.Error().Err(err).Str("user_id", body.UserID).Msg("api: refresh не удался")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, guidanceResponse(g))
	})

	r.Group(func(internal chi.Router) {
		internal.Use(httpinfra.CronAuthMiddleware(cfg.Cron.Secret))
		internal.Post("/internal/cron/guidance", func(w http.ResponseWriter, req *http.Request) {
			summary, err := scheduler.RunTick(req.Context(), time.Now())
			if errors.Is(err, schedule.ErrTickInProgress) {
				writeError(w, http.StatusConflict, "tick already running")
				return
			}
			if err != nil {
				logger.Error().Err(err).Msg("api: тик по cron не удался")
				writeError(w, http.StatusInternalServerError, "tick failed")
				return
			}
			writeJSON(w, summary)
		})
	})

	r.Post("/webhooks/sms/receipt", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			MessageID string `json:"message_id"`
			Status    string `json:"status"`
			ErrorCode string `json:"error_code"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.MessageID == "" {
			writeError(w, http.StatusBadRequest, "message_id is required")
			return
		}
		receipt := domain.DeliveryReceipt{
			MessageID:  body.MessageID,
			Status:     body.Status,
			ErrorCode:  body.ErrorCode,
			ReceivedAt: time.Now().UTC(),
		}
		if err := receipts.SaveReceipt(req.Context(), receipt); err != nil {
			logger.Error().Err(err).Str("message_id", body.MessageID).Msg("api: не удалось сохранить отчёт о доставке")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/sms/inbound", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			ID   string `json:"id"`
			From string `json:"from"`
			To   string `json:"to"`
			Text string `json:"text"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		msg := domain.InboundMessage{
			ID:         body.ID,
			From:       body.From,
			To:         body.To,
			Text:       body.Text,
			ReceivedAt: time.Now().UTC(),
		}
		if err := receipts.SaveInbound(req.Context(), msg); err != nil {
			logger.Error().Err(err).Str("id", body.ID).Msg("api: не удалось сохранить входящее")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/api/v1/messages/{id}/receipt", func(w http.ResponseWriter, req *http.Request) {
		messageID := chi.URLParam(req, "id")
		receipt, err := receipts.GetReceipt(req.Context(), messageID)
		if errors.Is(err, domain.ErrNotFound) {
			// локально отчёта нет: спрашиваем шлюз
			receipt, err = gateway.Receipt(req.Context(), messageID)
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "receipt not found")
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("message_id", messageID).Msg("api: не удалось получить отчёт")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, map[string]any{
			"message_id":  receipt.MessageID,
			"status":      receipt.Status,
			"error_code":  receipt.ErrorCode,
			"received_at": receipt.ReceivedAt,
		})
	})

	r.Post("/api/v1/users/{id}/natal-texts", func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "id")
		profile, err := profiles.GetByID(req.Context(), userID)
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("api: не удалось получить профиль")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := pipeline.EnsureNatalTexts(req.Context(), profile); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("api: натальные тексты не сгенерированы")
		}
		// отдаём то, что есть после попытки: интерпретация может
		// появиться только завтра, резюме — сразу
		profile, err = profiles.GetByID(req.Context(), userID)
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("api: не удалось перечитать профиль")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, map[string]string{
			"interpretation": profile.NatalInterpretation,
			"summary":        profile.NatalSummary,
		})
	})

	r.Get("/api/v1/users/{id}/inbound", func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "id")
		profile, err := profiles.GetByID(req.Context(), userID)
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("api: не удалось получить профиль")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		messages, err := receipts.ListInbound(req.Context(), profile.Phone)
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("api: не удалось получить входящие")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, map[string]any{"messages": messages})
	})
}

func guidanceResponse(g domain.DailyGuidance) map[string]any {
	section := func(s domain.GuidanceSection) map[string]any {
		return map[string]any{"text": s.Text, "score": s.Score}
	}
	return map[string]any{
		"date":    g.Date.Format("2006-01-02"),
		"summary": g.Payload.Summary,
		"love":    section(g.Payload.Love),
		"work":    section(g.Payload.Work),
		"energy":  section(g.Payload.Energy),
		"source":  g.Source,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
