package ptr

import (
	"time"
)

func Int(v int) *int              { return &v }
func String(v string) *string     { return &v }
func Time(v time.Time) *time.Time { return &v }

// Or dereferences p, or returns fallback when it's nil.
func Or[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}

	return *p
}
