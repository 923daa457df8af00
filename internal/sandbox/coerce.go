package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"duck-sandbox/internal/domain"
)

// Coerce converts a login attribute value to the base type of the column it
// is compared with. Temporal and unknown types compare as text.
func Coerce(raw, baseType string) (any, error) {
	switch baseType {
	case domain.BaseTypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case domain.BaseTypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case domain.BaseTypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}
