// Package timeutil holds the pure helpers for day keys, HH:mm strings and
// week arithmetic. All functions are permissive: malformed input degrades to
// a degenerate result, never an error.
package timeutil

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDayKey lowercases and strips diacritics ("TERÇA" -> "terca").
// Unknown keys pass through unchanged beyond that; callers stay permissive.
func NormalizeDayKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// NormalizeTime canonicalizes a clock string to "HH:mm": non-breaking spaces
// removed, hour and minute left-padded to two digits, truncated to five
// characters. Empty input yields the empty string.
func NormalizeTime(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	hour, min, ok := strings.Cut(s, ":")
	if !ok {
		min = "00"
	}
	for len(hour) < 2 {
		hour = "0" + hour
	}
	for len(min) < 2 {
		min = "0" + min
	}
	out := hour + ":" + min
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// ToMinutes converts "HH:mm" to minute-of-day. Malformed fields count as zero.
func ToMinutes(hhmm string) int {
	hour, min, _ := strings.Cut(hhmm, ":")
	h, _ := strconv.Atoi(strings.TrimSpace(hour))
	m, _ := strconv.Atoi(strings.TrimSpace(min))
	return h*60 + m
}

// WeekMonday returns midnight of the Monday of t's week, in t's location.
func WeekMonday(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// TargetInstant resolves a (day offset, HH:mm) cell against a week's Monday.
func TargetInstant(monday time.Time, dayOffset int, hhmm string) time.Time {
	mins := ToMinutes(NormalizeTime(hhmm))
	return monday.AddDate(0, 0, dayOffset).Add(time.Duration(mins) * time.Minute)
}
