package inflation

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRate accepts "5%", "500bps" or a bare decimal such as "0.05" and
// returns the decimal rate.
func ParseRate(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty inflation rate")
	}

	divisor := 1.0
	switch {
	case strings.HasSuffix(s, "bps"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "bps"))
		divisor = 10_000
	case strings.HasSuffix(s, "%"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		divisor = 100
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid inflation rate %q: %w", raw, err)
	}
	rate := v / divisor
	if rate < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNegativeRate, raw)
	}
	return rate, nil
}

// BpsToRate converts basis points to a decimal rate.
func BpsToRate(bps uint64) float64 {
	return float64(bps) / 10_000
}
