package stringutil

import (
	"fmt"
	"strings"
	"unicode"
)

// PascalToSnake converts Go field names to column and config names, keeping
// runs of capitals together: "UserID" becomes "user_id".
func PascalToSnake(s string) string {
	r := []rune(s)

	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, c := range r {
		if !unicode.IsUpper(c) {
			b.WriteRune(c)
			continue
		}

		if i > 0 {
			prevLower := unicode.IsLower(r[i-1]) || unicode.IsDigit(r[i-1])
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if prevLower || (nextLower && unicode.IsUpper(r[i-1])) {
				b.WriteByte('_')
			}
		}

		b.WriteRune(unicode.ToLower(c))
	}

	return b.String()
}

// ParseBool accepts the usual words people put in environment files as well
// as the forms strconv.ParseBool does.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "on", "enabled", "enable":
		return true, nil
	case "false", "f", "no", "n", "0", "off", "disabled", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("stringutil.ParseBool: unrecognised value %q", s)
	}
}
