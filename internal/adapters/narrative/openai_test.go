package narrative

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
	openai "zodiak/internal/infra/openai"
)

type fakeChat struct {
	content string
	err     error
	calls   int
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: f.content}}},
	}, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

var snapshot = domain.TransitSnapshot{Positions: []byte(`{"sun":"virgo"}`)}

func TestGenerateParsesPayload(t *testing.T) {
	chat := &fakeChat{content: `{"summary":"Belle journée","love":{"text":"Ouvre ton coeur","score":80},"work":"Avance pas à pas","energy":{"text":"Repose-toi"}}`}
	g := NewOpenAI(chat, nil, "", time.Second, zerolog.Nop())

	payload, source, err := g.Generate(context.Background(), "u1", []byte(`{}`), snapshot)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if source != domain.SourceLLM {
		t.Fatalf("ожидали источник llm, получили %q", source)
	}
	if payload.Love.Score != 80 {
		t.Fatalf("оценка из объекта потеряна: %d", payload.Love.Score)
	}
	if payload.Work.Text != "Avance pas à pas" || payload.Work.Score != domain.DefaultSectionScore {
		t.Fatalf("строковая секция должна нормализоваться: %+v", payload.Work)
	}
	if payload.Energy.Score != domain.DefaultSectionScore {
		t.Fatalf("отсутствующая оценка должна стать дефолтной: %d", payload.Energy.Score)
	}
}

func TestGenerateExtractsWrappedJSON(t *testing.T) {
	chat := &fakeChat{content: "Voici le guidance:\n```json\n{\"summary\":\"ok\",\"love\":\"a\",\"work\":\"b\",\"energy\":\"c\"}\n```"}
	g := NewOpenAI(chat, nil, "", time.Second, zerolog.Nop())

	payload, source, err := g.Generate(context.Background(), "u1", nil, snapshot)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if source != domain.SourceLLM || payload.Summary != "ok" {
		t.Fatalf("JSON в обёртке должен разбираться: %+v", payload)
	}
}

func TestGenerateFallsBackOnProviderError(t *testing.T) {
	chat := &fakeChat{err: errors.New("http 500")}
	g := NewOpenAI(chat, nil, "", time.Second, zerolog.Nop())

	payload, source, err := g.Generate(context.Background(), "u1", nil, snapshot)
	if err != nil {
		t.Fatalf("отказ провайдера не должен становиться ошибкой: %v", err)
	}
	if source != domain.SourceFallback {
		t.Fatalf("ожидали запасной источник, получили %q", source)
	}
	if payload != domain.DefaultGuidance() {
		t.Fatalf("ожидали фиксированный запасной payload")
	}
}

func TestGenerateFallsBackOnGarbage(t *testing.T) {
	chat := &fakeChat{content: "больше не могу, извини"}
	g := NewOpenAI(chat, nil, "", time.Second, zerolog.Nop())

	payload, source, err := g.Generate(context.Background(), "u1", nil, snapshot)
	if err != nil {
		t.Fatalf("нечитаемый ответ не должен становиться ошибкой: %v", err)
	}
	if source != domain.SourceFallback || !payload.Valid() {
		t.Fatalf("ожидали валидный запасной payload")
	}
}

func TestGenerateRateLimited(t *testing.T) {
	chat := &fakeChat{}
	g := NewOpenAI(chat, denyAll{}, "", time.Second, zerolog.Nop())

	if _, _, err := g.Generate(context.Background(), "u1", nil, snapshot); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
	if chat.calls != 0 {
		t.Fatalf("при превышении лимита провайдер не должен вызываться")
	}
}

func TestNatalInterpretationPropagatesError(t *testing.T) {
	chat := &fakeChat{err: errors.New("http 429")}
	g := NewOpenAI(chat, nil, "", time.Second, zerolog.Nop())

	if _, err := g.NatalInterpretation(context.Background(), []byte(`{}`), "Marie"); err == nil {
		t.Fatalf("ошибка интерпретации должна подниматься вызывающему")
	}
}
