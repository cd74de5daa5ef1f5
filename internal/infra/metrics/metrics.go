package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GuidanceBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guidance_build_seconds",
		Help:    "Время генерации guidance на пользователя",
		Buckets: prometheus.DefBuckets,
	})
	GuidanceGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guidance_generated_total",
		Help: "Количество сгенерированных guidance по источнику текста",
	}, []string{"source"})
	GuidanceSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guidance_skipped_total",
		Help: "Пропуски генерации guidance по причине",
	}, []string{"reason"})
	SMSSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sms_send_errors_total",
		Help: "Ошибки отправки SMS, включая запасную попытку",
	})
	SMSFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sms_fallback_total",
		Help: "Количество запасных SMS после неудачной основной отправки",
	})
	SchedulerTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_seconds",
		Help:    "Длительность одного тика планировщика",
		Buckets: prometheus.DefBuckets,
	})
	SchedulerTicksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_dropped_total",
		Help: "Тики, пропущенные из-за ещё идущего прогона",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	GuidanceRequestsByUser = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guidance_requests_by_user_total",
		Help: "Запросы на генерацию guidance по пользователям",
	}, []string{"user_id"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		GuidanceBuildSeconds,
		GuidanceGeneratedTotal,
		GuidanceSkippedTotal,
		SMSSendErrors,
		SMSFallbackTotal,
		SchedulerTickSeconds,
		SchedulerTicksDropped,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		GuidanceRequestsByUser,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncGuidanceForUser увеличивает счётчик генераций для пользователя.
func IncGuidanceForUser(userID string) {
	GuidanceRequestsByUser.WithLabelValues(userID).Inc()
}

// IncGuidanceGenerated учитывает успешную генерацию.
func IncGuidanceGenerated(source string) {
	GuidanceGeneratedTotal.WithLabelValues(source).Inc()
}

// IncGuidanceSkipped учитывает пропуск генерации.
func IncGuidanceSkipped(reason string) {
	GuidanceSkippedTotal.WithLabelValues(reason).Inc()
}
