package timerange

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the calendar unit a range or a task recurrence is keyed to.
// The zero value is unset and not Valid.
type Granularity int

const (
	Second Granularity = iota + 1
	Minute
	Hour
	Day
	Month
)

var granularityNames = map[Granularity]string{
	Second: "SECOND",
	Minute: "MINUTE",
	Hour:   "HOUR",
	Day:    "DAY",
	Month:  "MONTH",
}

// layouts holds the textual form of an instant at each granularity.
var layouts = map[Granularity]string{
	Second: "2006-01-02T15:04:05",
	Minute: "2006-01-02T15:04",
	Hour:   "2006-01-02T15",
	Day:    "2006-01-02",
	Month:  "2006-01",
}

func (g Granularity) String() string {
	if name, ok := granularityNames[g]; ok {
		return name
	}
	return fmt.Sprintf("GRANULARITY(%d)", int(g))
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	_, ok := granularityNames[g]
	return ok
}

// Layout returns the time layout used to render an instant at this granularity.
func (g Granularity) Layout() string {
	return layouts[g]
}

// ParseGranularity accepts the case-insensitive name of a granularity.
func ParseGranularity(s string) (Granularity, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for g, name := range granularityNames {
		if name == want {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown granularity %q", ErrInvalidExpression, s)
}

// Add moves t forward by n units of g.
func (g Granularity) Add(t time.Time, n int) time.Time {
	switch g {
	case Second:
		return t.Add(time.Duration(n) * time.Second)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Month:
		return t.AddDate(0, n, 0)
	}
	return t
}

// Truncate rounds t down to the start of its enclosing unit of g, in t's location.
func (g Granularity) Truncate(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	loc := t.Location()
	switch g {
	case Second:
		return time.Date(y, mo, d, h, mi, s, 0, loc)
	case Minute:
		return time.Date(y, mo, d, h, mi, 0, 0, loc)
	case Hour:
		return time.Date(y, mo, d, h, 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	}
	return t
}
