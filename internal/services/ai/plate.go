package ai

import "strings"

// Accepted plate lengths after normalization, covering both legacy and
// Mercosul formats.
const (
	MinPlateLength = 5
	MaxPlateLength = 8
)

// NormalizePlate upper-cases text, keeps only A-Z and 0-9 and accepts the
// result when its length fits a plate. The second value reports acceptance.
func NormalizePlate(text string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToUpper(text) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	plate := b.String()
	if len(plate) < MinPlateLength || len(plate) > MaxPlateLength {
		return "", false
	}
	return plate, true
}
