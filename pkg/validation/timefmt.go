package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/types"
)

var (
	durationRe = regexp.MustCompile(`^(\d+(?:\.\d)?)([smhdwM])$`)

	// Date and clock parts of TimeLayout; anything after them is trailing
	timeRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2}) (\d{1,2}):(\d{1,2}):(\d{1,2})(.*)$`)
)

var unitReasons = map[string]types.Reason{
	"s": types.ReasonDurationSeconds,
	"m": types.ReasonDurationMinutes,
	"h": types.ReasonDurationHours,
	"d": types.ReasonDurationDays,
	"w": types.ReasonDurationWeeks,
	"M": types.ReasonDurationMonth,
}

var unitSeconds = map[string]float64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 7 * 86400,
	"M": 30 * 86400,
}

// Duration checks a quantity+unit duration such as 30m or 1.5d against the
// per-unit ranges of the style
func (e *Engine) Duration(value string) (string, error) {
	m := durationRe.FindStringSubmatch(value)
	if m == nil {
		return "", types.Invalid(types.FieldDuration, types.ReasonDurationFormat, value)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", types.Invalid(types.FieldDuration, types.ReasonDurationFormat, value)
	}
	unit := m[2]
	if r, ok := e.style.Durations[unit]; ok && !r.Contains(n) {
		return "", types.Invalid(types.FieldDuration, unitReasons[unit], value)
	}
	return value, nil
}

// DurationSeconds converts a validated duration to whole seconds. The M unit
// is thirty days.
func DurationSeconds(value string) (int64, error) {
	m := durationRe.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return int64(n * unitSeconds[m[2]]), nil
}

// Time parses a timestamp in TimeLayout. Commas stand in for the space so
// the value fits in one command token. Each way the value can be wrong maps
// to its own reason, checked in a fixed order.
func (e *Engine) Time(value string) (time.Time, error) {
	value = strings.ReplaceAll(value, ",", " ")
	fail := func(r types.Reason) (time.Time, error) {
		return time.Time{}, types.Invalid(types.FieldTime, r, value)
	}

	m := timeRe.FindStringSubmatch(value)
	if m == nil {
		return fail(types.ReasonTimeFormat)
	}
	if m[7] != "" {
		return fail(types.ReasonTimeTrailing)
	}

	parts := make([]int, 6)
	for i := range parts {
		parts[i], _ = strconv.Atoi(m[i+1])
	}
	year, month, day, hour, minute, second := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]

	if month < 1 || month > 12 {
		return fail(types.ReasonTimeMonth)
	}
	if day < 1 || day > daysIn(year, time.Month(month)) {
		return fail(types.ReasonTimeDay)
	}
	if hour > 23 {
		return fail(types.ReasonTimeHour)
	}
	if minute > 59 {
		return fail(types.ReasonTimeMinute)
	}
	if second > 59 {
		return fail(types.ReasonTimeSecond)
	}

	now := e.clock.Now()
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, now.Location())
	if t.After(now) {
		return fail(types.ReasonTimeFuture)
	}
	return t, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
