package sms

import (
	"strings"

	"zodiak/internal/domain"
)

// NormalizePhone приводит номер к международному формату шлюза (только
// цифры, с кодом страны). Французские номера вида 06/07... получают код 33.
// Невалидный номер отклоняется локально, без сетевого вызова.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			// код страны уже указан, плюс отбрасывается
		case r == ' ' || r == '.' || r == '-' || r == '(' || r == ')':
			// разделители допустимы
		default:
			return "", domain.ErrInvalidPhone
		}
	}
	digits := b.String()

	if strings.HasPrefix(raw, "+") || strings.HasPrefix(digits, "33") {
		if len(digits) < 10 || len(digits) > 15 {
			return "", domain.ErrInvalidPhone
		}
		return digits, nil
	}

	// национальный французский формат: 0X XX XX XX XX
	if len(digits) == 10 && digits[0] == '0' {
		return "33" + digits[1:], nil
	}
	return "", domain.ErrInvalidPhone
}
