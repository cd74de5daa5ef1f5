package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
	openai "zodiak/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// natalChartLimitKey общий ключ лимитера для генерации натальных текстов.
const natalChartLimitKey = "natal_chart"

// OpenAI реализует NarrativeGenerator через Chat Completions.
//
// Контракт Generate: всегда валидный payload. Отказ провайдера (сеть,
// не-2xx, кривой JSON) деградирует в статический запасной текст и не
// останавливает пайплайн. Наружу выходит только ErrRateLimited.
type OpenAI struct {
	client  chatClient
	limiter domain.RateLimiter
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewOpenAI создаёт генератор guidance.
func NewOpenAI(client chatClient, limiter domain.RateLimiter, model string, timeout time.Duration, logger zerolog.Logger) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, limiter: limiter, model: model, timeout: timeout, log: logger}
}

var _ domain.NarrativeGenerator = (*OpenAI)(nil)

// Generate строит guidance дня из натальной карты и транзитов.
func (g *OpenAI) Generate(ctx context.Context, userID string, chart []byte, transits domain.TransitSnapshot) (domain.GuidancePayload, domain.GuidanceSource, error) {
	if g.limiter != nil && !g.limiter.Allow(userID) {
		return domain.GuidancePayload{}, "", domain.ErrRateLimited
	}

	userPrompt := fmt.Sprintf(`Voici le thème natal de la personne (JSON):
%s

Voici les transits planétaires du jour (JSON):
%s

Rédige le guidance du jour en français, tutoiement, ton bienveillant.
Réponds uniquement avec un JSON de la forme:
{"summary":"...","love":{"text":"...","score":75},"work":{"text":"...","score":75},"energy":{"text":"...","score":75}}
Chaque texte fait une à deux phrases. Les scores vont de 0 à 100.`,
		clipRunes(string(chart), 4000), clipRunes(string(transits.Positions), 2000))

	content, err := g.complete(ctx, "Tu es un astrologue expérimenté qui rédige des guidances quotidiennes personnalisées.", userPrompt, 500, true)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("narrative: провайдер недоступен, используем запасной текст")
		return domain.DefaultGuidance(), domain.SourceFallback, nil
	}

	var payload domain.GuidancePayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &payload); err != nil || !payload.Valid() {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("narrative: нечитаемый ответ провайдера, используем запасной текст")
		return domain.DefaultGuidance(), domain.SourceFallback, nil
	}
	return payload, domain.SourceLLM, nil
}

// NatalInterpretation строит развёрнутую интерпретацию натальной карты.
// Вызывается не чаще раза в жизни профиля; защита от повторных попыток
// в течение дня лежит на вызывающем.
func (g *OpenAI) NatalInterpretation(ctx context.Context, chart []byte, firstName string) (string, error) {
	if g.limiter != nil && !g.limiter.Allow(natalChartLimitKey) {
		return "", domain.ErrRateLimited
	}

	userPrompt := fmt.Sprintf(`Voici le thème natal de %s (JSON):
%s

Rédige une interprétation complète et personnelle de ce thème natal en français,
tutoiement, en 4 à 6 paragraphes: personnalité, relations, carrière, chemin de vie.`,
		firstName, clipRunes(string(chart), 6000))

	content, err := g.complete(ctx, "Tu es un astrologue expérimenté qui rédige des interprétations de thème natal.", userPrompt, 1500, false)
	if err != nil {
		return "", fmt.Errorf("интерпретация натальной карты: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// NatalSummary строит короткое резюме карты, привязанное к имени.
func (g *OpenAI) NatalSummary(ctx context.Context, chart []byte, firstName string) (string, error) {
	if g.limiter != nil && !g.limiter.Allow(natalChartLimitKey) {
		return "", domain.ErrRateLimited
	}

	userPrompt := fmt.Sprintf(`Voici le thème natal de %s (JSON):
%s

Rédige un résumé de 2 à 3 phrases de ce qui caractérise le plus %s,
en français, tutoiement.`,
		firstName, clipRunes(string(chart), 6000), firstName)

	content, err := g.complete(ctx, "Tu es un astrologue expérimenté.", userPrompt, 200, false)
	if err != nil {
		return "", fmt.Errorf("резюме натальной карты: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (g *OpenAI) complete(ctx context.Context, system, user string, maxTokens int, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// extractJSON вырезает объект JSON из ответа: провайдер иногда оборачивает
// его в пояснительный текст или markdown.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
