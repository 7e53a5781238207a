package navigation

import (
	"fmt"
	"time"
)

// Sentinel extremes used to represent an unknown/empty interval. An empty
// interval is the inverted pair so that any real point widens it on union.
var (
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// Interval is a closed time interval with Left <= Right. The zero-value
// semantics are intentionally avoided; use Empty for "unknown".
type Interval struct {
	Left  time.Time `json:"left"`
	Right time.Time `json:"right"`
}

// Empty is the sentinel empty interval. It must be excluded from coverage
// aggregation, never folded into a real range.
var Empty = Interval{Left: MaxTime, Right: MinTime}

// NewInterval creates an interval from two endpoints.
func NewInterval(left, right time.Time) (Interval, error) {
	if right.Before(left) {
		return Empty, fmt.Errorf("interval left %v is after right %v", left, right)
	}
	return Interval{Left: left, Right: right}, nil
}

// IsEmpty reports whether the interval is the empty sentinel (or otherwise
// inverted).
func (iv Interval) IsEmpty() bool {
	return iv.Left.After(iv.Right)
}

// IsDegenerate reports whether the interval covers a single instant.
func (iv Interval) IsDegenerate() bool {
	return iv.Left.Equal(iv.Right)
}

// Contains reports whether t falls inside the interval, endpoints included.
func (iv Interval) Contains(t time.Time) bool {
	if iv.IsEmpty() {
		return false
	}
	return !t.Before(iv.Left) && !t.After(iv.Right)
}

// Duration returns the span of the interval, zero when empty.
func (iv Interval) Duration() time.Duration {
	if iv.IsEmpty() {
		return 0
	}
	return iv.Right.Sub(iv.Left)
}

// Union widens the interval to also cover other. Empty members contribute
// nothing, so the union of all-empty intervals stays Empty.
func (iv Interval) Union(other Interval) Interval {
	if other.IsEmpty() {
		return iv
	}
	if iv.IsEmpty() {
		return other
	}
	out := iv
	if other.Left.Before(out.Left) {
		out.Left = other.Left
	}
	if other.Right.After(out.Right) {
		out.Right = other.Right
	}
	return out
}

// Coverage computes the union time-span of a set of intervals, excluding
// empty members. An all-empty (or empty) set yields Empty.
func Coverage(intervals []Interval) Interval {
	out := Empty
	for _, iv := range intervals {
		out = out.Union(iv)
	}
	return out
}

// RelativeInterval is an interval expressed relative to an origin instant,
// e.g. [-500ms, +100ms] around a query time. Left is usually negative.
type RelativeInterval struct {
	Left  time.Duration `json:"left"`
	Right time.Duration `json:"right"`
}

// MakeAbsolute anchors the relative interval at origin.
func (ri RelativeInterval) MakeAbsolute(origin time.Time) Interval {
	return Interval{Left: origin.Add(ri.Left), Right: origin.Add(ri.Right)}
}
