package awrparse

import (
	"strconv"
	"strings"
	"time"
)

var unitMultipliers = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
	'T': 1e12,
}

// ParseValue reads a numeric cell as printed in an AWR report. It accepts
// thousands separators ("1,234.5"), percentages ("99.9%"), unit suffixes
// ("12.3M") and durations ("01:02:03.5" or "02:03", in seconds).
// The second result is false when text is not a number.
func ParseValue(text string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, "%") {
		return parseFloat(strings.TrimSpace(strings.ReplaceAll(s, "%", "")))
	}
	if mult, ok := unitMultipliers[upper(s[len(s)-1])]; ok {
		v, ok := parseFloat(s[:len(s)-1])
		return v * mult, ok
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	return parseFloat(s)
}

// Number is ParseValue with unparseable text read as zero.
func Number(text string) float64 {
	v, _ := ParseValue(text)
	return v
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		total = total*60 + float64(n)
	}
	sec, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, false
	}
	return total*60 + sec, true
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// parseMinutes reads the "60.05 (mins)" form used for Elapsed and DB Time.
func parseMinutes(text string) (float64, bool) {
	s := strings.TrimSpace(text)
	i := strings.Index(s, "(mins)")
	if i < 0 {
		return 0, false
	}
	v, ok := ParseValue(s[:i])
	return v * 60, ok
}

// parseMillis reads an average wait such as "2.57ms", "850us" or "1.2s"
// as milliseconds. A bare number is taken to be milliseconds already.
func parseMillis(text string) float64 {
	s := strings.TrimSpace(text)
	for _, u := range []struct {
		suffix string
		scale  float64
	}{{"ms", 1}, {"us", 1e-3}, {"ns", 1e-6}, {"s", 1e3}} {
		if strings.HasSuffix(s, u.suffix) {
			v, _ := ParseValue(strings.TrimSuffix(s, u.suffix))
			return v * u.scale
		}
	}
	return Number(s)
}

var dateLayouts = []string{
	"02-Jan-06 15:04:05",
	"02-Jan-2006 15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime reads a snapshot timestamp in any of the layouts AWR uses.
// Timestamps carry no zone and are returned as UTC.
func ParseTime(text string) (time.Time, bool) {
	s := strings.Join(strings.Fields(text), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
