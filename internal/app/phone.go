package app

import (
	"fmt"
	"strings"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// NormalizePhone converts a user- or gateway-supplied number to E.164, assuming the US
// region when no country code is present.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	international := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "00")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if strings.HasPrefix(trimmed, "00") {
		d = strings.TrimPrefix(d, "00")
	}

	switch {
	case international && len(d) >= 8 && len(d) <= 15 && d[0] != '0':
		return "+" + d, nil
	case !international && len(d) == 10:
		return "+1" + d, nil
	case !international && len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	}
	return "", fmt.Errorf("phone %q is not a valid number: %w", raw, domain.ErrValidation)
}
