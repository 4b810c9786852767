// Package timeutil handles the ISO 8601 day-time durations YouTube uses for
// video lengths.
package timeutil

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dayTimeDurationPattern = regexp.MustCompile(`^(-)?P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

func ParseDayTimeDuration(s string) (DayTimeDuration, error) {
	var d DayTimeDuration
	if err := d.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("timeutil.ParseDayTimeDuration: %w", err)
	}

	return d, nil
}

// DayTimeDuration is a duration written as P#DT#H#M#S. Years, months and
// weeks aren't supported since they don't have a fixed length.
type DayTimeDuration time.Duration

func (d *DayTimeDuration) UnmarshalText(b []byte) error {
	s := string(b)

	m := dayTimeDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return fmt.Errorf("timeutil.DayTimeDuration.UnmarshalText: invalid duration %q", s)
	}
	if strings.HasSuffix(s, "P") || strings.HasSuffix(s, "T") {
		return fmt.Errorf("timeutil.DayTimeDuration.UnmarshalText: duration %q has no components", s)
	}

	var total time.Duration

	for i, unit := range []time.Duration{time.Hour * 24, time.Hour, time.Minute} {
		if m[i+2] == "" {
			continue
		}

		n, err := strconv.ParseInt(m[i+2], 10, 64)
		if err != nil {
			return fmt.Errorf("timeutil.DayTimeDuration.UnmarshalText: could not parse component %q: %w", m[i+2], err)
		}

		total += time.Duration(n) * unit
	}

	if m[5] != "" {
		f, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return fmt.Errorf("timeutil.DayTimeDuration.UnmarshalText: could not parse seconds %q: %w", m[5], err)
		}

		total += time.Duration(math.Round(f * float64(time.Second)))
	}

	if m[1] == "-" {
		total = -total
	}

	*d = DayTimeDuration(total)

	return nil
}

func (d DayTimeDuration) MarshalText() ([]byte, error) {
	var b strings.Builder

	v := time.Duration(d)
	if v < 0 {
		b.WriteString("-")
		v = -v
	}

	b.WriteString("P")

	if days := v / (time.Hour * 24); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		v -= days * time.Hour * 24
	}

	if v == 0 {
		if b.Len() <= 2 {
			b.WriteString("T0S")
		}

		return []byte(b.String()), nil
	}

	b.WriteString("T")

	if hours := v / time.Hour; hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
		v -= hours * time.Hour
	}
	if minutes := v / time.Minute; minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
		v -= minutes * time.Minute
	}
	if v > 0 {
		b.WriteString(strconv.FormatFloat(v.Seconds(), 'f', -1, 64) + "S")
	}

	return []byte(b.String()), nil
}

func (d DayTimeDuration) Duration() time.Duration { return time.Duration(d) }

// Clock renders the duration the way video players show lengths: h:mm:ss,
// or m:ss under an hour. Fractional seconds are dropped.
func (d DayTimeDuration) Clock() string {
	v := time.Duration(d)
	if v < 0 {
		v = -v
	}

	total := int64(v / time.Second)
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
