// Package timerange implements the calendar arithmetic used to partition a
// requested period into the sub-intervals that tasks are replicated over.
//
// A Range is half-open, [Start, End), and carries the granularity it was
// expressed at. A single instant such as "2015-01-14T10:00" is one unit of
// its implied granularity (here one minute); "a/b" spans from a up to but not
// including b.
package timerange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidExpression is returned for unparseable time expressions.
var ErrInvalidExpression = errors.New("invalid time expression")

// parseOrder lists granularities from the most to the least specific layout.
var parseOrder = []Granularity{Second, Minute, Hour, Day, Month}

// Range is a half-open calendar period expressed at a granularity.
type Range struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// New returns the range of n units of g starting at start.
func New(start time.Time, g Granularity, n int) Range {
	return Range{Start: start, End: g.Add(start, n), Granularity: g}
}

// Parse parses a time expression in UTC.
func Parse(expr string) (Range, error) {
	return ParseIn(expr, time.UTC)
}

// ParseIn parses a time expression: either a single instant, which covers one
// unit of its implied granularity, or a "start/end" pair written with the same
// layout, where end is exclusive.
func ParseIn(expr string, loc *time.Location) (Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Range{}, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}

	startExpr, endExpr, isPair := strings.Cut(expr, "/")
	start, g, err := parseInstant(startExpr, loc)
	if err != nil {
		return Range{}, err
	}
	if !isPair {
		return New(start, g, 1), nil
	}

	end, endG, err := parseInstant(endExpr, loc)
	if err != nil {
		return Range{}, err
	}
	if endG != g {
		return Range{}, fmt.Errorf("%w: %q mixes %s and %s", ErrInvalidExpression, expr, g, endG)
	}
	if !end.After(start) {
		return Range{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidExpression, expr)
	}
	return Range{Start: start, End: end, Granularity: g}, nil
}

func parseInstant(s string, loc *time.Location) (time.Time, Granularity, error) {
	s = strings.TrimSpace(s)
	for _, g := range parseOrder {
		if t, err := time.ParseInLocation(g.Layout(), s, loc); err == nil {
			return t, g, nil
		}
	}
	return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
}

// Previous returns the last fully elapsed unit of g before now.
func Previous(now time.Time, g Granularity) Range {
	end := g.Truncate(now)
	return Range{Start: g.Add(end, -1), End: end, Granularity: g}
}

// Duration is End minus Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Slots returns the number of whole units of the range's own granularity it spans.
func (r Range) Slots() int {
	if !r.Granularity.Valid() {
		return 0
	}
	n := 0
	for cur := r.Start; !r.Granularity.Add(cur, 1).After(r.End); cur = r.Granularity.Add(cur, 1) {
		n++
	}
	return n
}

// First returns the first unit of the range at its own granularity.
func (r Range) First() Range {
	return New(r.Start, r.Granularity, 1)
}

// Next returns the sibling range with the same number of units and
// granularity that immediately follows r.
func (r Range) Next() Range {
	return New(r.End, r.Granularity, r.Slots())
}

// Split decomposes r into consecutive sub-ranges of granularity g. Sub-ranges
// that would extend past End are dropped, so a range shorter than g yields none.
func (r Range) Split(g Granularity) []Range {
	var out []Range
	for cur := r.Start; ; {
		next := g.Add(cur, 1)
		if next.After(r.End) || !next.After(cur) {
			break
		}
		out = append(out, Range{Start: cur, End: next, Granularity: g})
		cur = next
	}
	return out
}

// Contains reports whether t falls inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Format renders the range start at the range granularity.
func (r Range) Format() string {
	return r.Start.Format(r.Granularity.Layout())
}

func (r Range) String() string {
	if r.Slots() == 1 {
		return r.Format()
	}
	return r.Format() + "/" + r.End.Format(r.Granularity.Layout())
}
