package domain

import (
	"encoding/json"
	"strings"
)

// DefaultSectionScore подставляется, когда провайдер не вернул оценку.
const DefaultSectionScore = 75

// GuidanceSection одна тематическая секция guidance. На проводе секция
// бывает либо строкой, либо объектом {"text": ..., "score": ...};
// нормализация происходит один раз при декодировании.
type GuidanceSection struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// UnmarshalJSON принимает обе исторические формы секции.
func (s *GuidanceSection) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.Text = strings.TrimSpace(asString)
		s.Score = DefaultSectionScore
		return nil
	}

	var asObject struct {
		Text  string `json:"text"`
		Score *int   `json:"score"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	s.Text = strings.TrimSpace(asObject.Text)
	s.Score = DefaultSectionScore
	if asObject.Score != nil && *asObject.Score >= 0 && *asObject.Score <= 100 {
		s.Score = *asObject.Score
	}
	return nil
}

// GuidancePayload структурированный текст guidance на день.
type GuidancePayload struct {
	Summary string          `json:"summary"`
	Love    GuidanceSection `json:"love"`
	Work    GuidanceSection `json:"work"`
	Energy  GuidanceSection `json:"energy"`
}

// Valid проверяет, что все поля заполнены.
func (p GuidancePayload) Valid() bool {
	return strings.TrimSpace(p.Summary) != "" &&
		p.Love.Text != "" && p.Work.Text != "" && p.Energy.Text != ""
}

// DefaultGuidance возвращает фиксированный запасной guidance: генерация
// обязана всегда дать валидный результат, даже при недоступном провайдере.
func DefaultGuidance() GuidancePayload {
	return GuidancePayload{
		Summary: "Les astres t'invitent aujourd'hui à avancer avec confiance et à écouter ton intuition.",
		Love:    GuidanceSection{Text: "Reste ouvert aux échanges sincères, une belle énergie entoure tes relations.", Score: DefaultSectionScore},
		Work:    GuidanceSection{Text: "Concentre-toi sur l'essentiel, ta persévérance porte ses fruits.", Score: DefaultSectionScore},
		Energy:  GuidanceSection{Text: "Prends un moment pour toi, ton corps te remerciera.", Score: DefaultSectionScore},
	}
}
