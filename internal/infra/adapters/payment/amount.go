package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"course-billing/internal/domain/model"
)

// toMinorUnits converts a major-unit amount ("990.00", 990, 990.5) to
// integer minor units. Fractions below a minor unit are rejected.
func toMinorUnits(v any) (int64, error) {
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-minor precision", s)
	}
	if minor.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	return minor.IntPart(), nil
}

// setAmount fills ev.Amount. A figure that does not convert leaves the
// amount at zero and keeps the raw value for the mismatch check, so the
// outcome itself is never dropped over it.
func setAmount(ev *model.CanonicalEvent, v any) {
	amount, err := toMinorUnits(v)
	if err != nil {
		ev.Metadata[model.MetaReportedAmount] = strings.TrimSpace(cast.ToString(v))
		return
	}
	ev.Amount = amount
}

// stringField reads a loosely typed field, trimming whitespace.
func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

// putIfSet copies non-empty values into the metadata patch.
func putIfSet(meta map[string]any, key, value string) {
	if value != "" {
		meta[key] = value
	}
}
