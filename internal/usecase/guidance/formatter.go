package guidance

import (
	"fmt"
	"strings"

	"zodiak/internal/domain"
)

// FormatSMS собирает текст SMS из guidance дня.
func FormatSMS(firstName string, p domain.GuidancePayload) string {
	var b strings.Builder

	name := strings.TrimSpace(firstName)
	if name != "" {
		b.WriteString(fmt.Sprintf("✨ %s, ton guidance du jour\n\n", name))
	} else {
		b.WriteString("✨ Ton guidance du jour\n\n")
	}
	b.WriteString(strings.TrimSpace(p.Summary))
	b.WriteString("\n\n")
	writeSection(&b, "❤️ Amour", p.Love)
	writeSection(&b, "💼 Travail", p.Work)
	writeSection(&b, "⚡ Énergie", p.Energy)

	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, title string, s domain.GuidanceSection) {
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return
	}
	b.WriteString(fmt.Sprintf("%s (%d/100): %s\n", title, s.Score, text))
}

// FallbackSMS короткий запасной текст, когда основная отправка не прошла.
func FallbackSMS(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name != "" {
		return fmt.Sprintf("%s, ton guidance du jour est prêt ✨ Retrouve-le dans l'app Zodiak.", name)
	}
	return "Ton guidance du jour est prêt ✨ Retrouve-le dans l'app Zodiak."
}
