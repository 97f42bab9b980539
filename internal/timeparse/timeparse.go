// Package timeparse parses ISO-8601 timestamps found in interchange records
// and tabular cells.
package timeparse

import (
	"strings"
	"time"

	"github.com/logflow/ccm/pkg/errors"
)

// Fallback layouts ordered by likelihood.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Parse parses an ISO-8601 timestamp. Timestamps without a zone are UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New(errors.CodeInvalidTimestamp, "empty timestamp")
	}

	if t, ok := parseFast(s); ok {
		return t, nil
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.New(errors.CodeInvalidTimestamp, "invalid ISO-8601 timestamp").
		WithContext("value", s)
}

// Format renders t as RFC 3339 with nanoseconds, the form Parse reads back
// losslessly.
func Format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// parseFast handles YYYY-MM-DD[(T| )hh:mm:ss[.frac]][Z|±hh[:]mm] by direct
// byte arithmetic. Anything else falls through to the layout table.
func parseFast(s string) (time.Time, bool) {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}

	year, ok1 := digits(s[0:4])
	month, ok2 := digits(s[5:7])
	day, ok3 := digits(s[8:10])
	if !ok1 || !ok2 || !ok3 || month < 1 || month > 12 || day < 1 || day > daysIn(month, year) {
		return time.Time{}, false
	}

	if len(s) == 10 {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
	}
	if len(s) < 19 || (s[10] != 'T' && s[10] != ' ') || s[13] != ':' || s[16] != ':' {
		return time.Time{}, false
	}

	hour, ok1 := digits(s[11:13])
	minute, ok2 := digits(s[14:16])
	second, ok3 := digits(s[17:19])
	if !ok1 || !ok2 || !ok3 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	rest := s[19:]
	nsec := 0
	if len(rest) > 0 && rest[0] == '.' {
		end := 1
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 1 {
			return time.Time{}, false
		}
		nsec = fraction(rest[1:end])
		rest = rest[end:]
	}

	loc := time.UTC
	switch {
	case rest == "" || rest == "Z" || rest == "z":
	case rest[0] == '+' || rest[0] == '-':
		off, ok := offset(rest[1:])
		if !ok {
			return time.Time{}, false
		}
		if rest[0] == '-' {
			off = -off
		}
		loc = time.FixedZone("", off)
	default:
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), true
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// fraction converts fractional-second digits to nanoseconds, truncating
// past nine digits.
func fraction(s string) int {
	n := 0
	mult := 100000000
	for i := 0; i < len(s) && i < 9; i++ {
		n += int(s[i]-'0') * mult
		mult /= 10
	}
	return n
}

// offset parses hh:mm or hhmm into seconds.
func offset(s string) (int, bool) {
	var hh, mm string
	switch len(s) {
	case 5:
		if s[2] != ':' {
			return 0, false
		}
		hh, mm = s[0:2], s[3:5]
	case 4:
		hh, mm = s[0:2], s[2:4]
	case 2:
		hh, mm = s, "00"
	default:
		return 0, false
	}
	h, ok1 := digits(hh)
	m, ok2 := digits(mm)
	if !ok1 || !ok2 || h > 23 || m > 59 {
		return 0, false
	}
	return h*3600 + m*60, true
}

func daysIn(month, year int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
