package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMalformedTimestamp is returned when a value is not in the
// "Mon-DD-YY HH:MM:SS" layout.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

const (
	sourceLayout = "Jan-02-06 15:04:05"
	isoLayout    = "2006-01-02 15:04:05"
)

var months = map[string]string{
	"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04", "May": "05", "Jun": "06",
	"Jul": "07", "Aug": "08", "Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
}

// TimestampFormat selects the canonical representation of timestamps.
//
// The two formats disagree on two-digit years 69-99: iso always prefixes
// "20" ("Dec-25-97" -> 2097) while epoch uses the POSIX pivot (1997).
type TimestampFormat string

const (
	// FormatISO renders "YYYY-MM-DD HH:MM:SS" text.
	FormatISO TimestampFormat = "iso"
	// FormatEpoch renders UTC epoch seconds.
	FormatEpoch TimestampFormat = "epoch"
)

// ParseTimestampFormat accepts "iso", "epoch" or "" (iso).
func ParseTimestampFormat(s string) (TimestampFormat, error) {
	switch TimestampFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatISO:
		return FormatISO, nil
	case FormatEpoch:
		return FormatEpoch, nil
	default:
		return "", fmt.Errorf("unsupported timestamp format %q (want iso or epoch)", s)
	}
}

// Normalize converts a source timestamp to a string (iso) or an int64 (epoch).
func (f TimestampFormat) Normalize(s string, log *zap.Logger) (any, error) {
	if f == FormatEpoch {
		return EpochTimestamp(s)
	}
	return ISOTimestamp(s, log)
}

// Render converts epoch seconds to the representation of f.
func (f TimestampFormat) Render(epoch int64) any {
	if f == FormatEpoch {
		return epoch
	}
	return time.Unix(epoch, 0).UTC().Format(isoLayout)
}

// ISOTimestamp rewrites "Dec-25-01 12:00:00" as "2001-12-25 12:00:00".
//
// The two-digit year is always prefixed with "20". An unknown month
// abbreviation is kept as is and logged as a warning; a day, year or clock
// that is not two-digit fields returns ErrMalformedTimestamp.
func ISOTimestamp(s string, log *zap.Logger) (string, error) {
	date, clock, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}
	mon, day, yy := parts[0], parts[1], parts[2]
	clock = strings.TrimSpace(clock)
	if !inRange(day, 1, 31) || !inRange(yy, 0, 99) || !validClock(clock) {
		return "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}

	mm, known := months[mon]
	if !known {
		if log != nil {
			log.Warn("unrecognized month abbreviation", zap.String("month", mon), zap.String("value", s))
		}
		mm = mon
	}
	return "20" + yy + "-" + mm + "-" + day + " " + clock, nil
}

// validClock reports whether s is "HH:MM:SS".
func validClock(s string) bool {
	hh, rest, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	mi, ss, ok := strings.Cut(rest, ":")
	return ok && inRange(hh, 0, 23) && inRange(mi, 0, 59) && inRange(ss, 0, 59)
}

// inRange reports whether s is exactly two ASCII digits within [lo, hi].
func inRange(s string, lo, hi int) bool {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return false
	}
	n := int(s[0]-'0')*10 + int(s[1]-'0')
	return n >= lo && n <= hi
}

// EpochTimestamp parses s as UTC and returns epoch seconds. Two-digit years
// 69-99 map to 19xx and 00-68 to 20xx.
func EpochTimestamp(s string) (int64, error) {
	t, err := time.ParseInLocation(sourceLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedTimestamp, s, err)
	}
	return t.Unix(), nil
}
