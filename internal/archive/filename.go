package archive

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// ParseFilenameTime converts an FF or FR capture file name into the UTC
// instant encoded in it.
//
// The grammar is FF[_<station>]_<YYYYMMDD>_<HHMMSS>_<MS|US>_<framecount>.<ext>
// where the fourth field is milliseconds when 3 digits long and microseconds
// when 6 digits long. Both the old embedded form (FF499_...) and the newer
// form with a separate station field (FF_CA0001_...) are accepted, as are FR
// sidecar names which follow the same layout.
func ParseFilenameTime(name string) (time.Time, error) {
	base := path.Base(name)
	parts := strings.Split(base, "_")

	// The newer naming has one extra underscore: a 2-character prefix means
	// the station id sits in its own field.
	i := 0
	if len(parts) > 0 && len(parts[0]) == 2 {
		i = 1
	}
	if len(parts) < i+4 {
		return time.Time{}, fmt.Errorf("file name %q does not match capture grammar", base)
	}

	dateStr := parts[i+1]
	timeStr := parts[i+2]
	fracStr := parts[i+3]

	if len(dateStr) != 8 || len(timeStr) != 6 {
		return time.Time{}, fmt.Errorf("file name %q has malformed date or time field", base)
	}

	year, err := strconv.Atoi(dateStr[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad year: %w", base, err)
	}
	month, err := strconv.Atoi(dateStr[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad month: %w", base, err)
	}
	day, err := strconv.Atoi(dateStr[6:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad day: %w", base, err)
	}
	hour, err := strconv.Atoi(timeStr[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad hour: %w", base, err)
	}
	minute, err := strconv.Atoi(timeStr[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad minute: %w", base, err)
	}
	second, err := strconv.Atoi(timeStr[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad second: %w", base, err)
	}

	frac, err := strconv.Atoi(fracStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: bad subsecond field: %w", base, err)
	}

	// 3 digits is milliseconds, 6 is microseconds.
	var micros int
	switch len(fracStr) {
	case 3:
		micros = frac * 1000
	case 6:
		micros = frac
	default:
		return time.Time{}, fmt.Errorf("file name %q: subsecond field must be 3 or 6 digits, got %d", base, len(fracStr))
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, micros*1000, time.UTC), nil
}

// ParseNightKey extracts the (station, night-date) key from an uploaded
// archive basename of the form <STATION>_<YYYYMMDD>_...tar.bz2.
func ParseNightKey(name string) (station string, date time.Time, err error) {
	base := path.Base(name)
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return "", time.Time{}, fmt.Errorf("archive name %q does not match <station>_<yyyymmdd> pattern", base)
	}

	station = parts[0]
	if station == "" {
		return "", time.Time{}, fmt.Errorf("archive name %q has an empty station field", base)
	}

	date, err = time.ParseInLocation("20060102", parts[1], time.UTC)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("archive name %q has an unparseable date field: %w", base, err)
	}

	return station, date, nil
}
