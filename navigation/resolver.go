package navigation

import "time"

// NoMatch is returned when a sequence is empty or no entry qualifies.
const NoMatch = -1

// Policy selects how a query time maps to an index when there is no exact
// match.
type Policy int

const (
	// PolicyNearest returns whichever boundary candidate is closer in time
	// to the query; exact ties prefer the lower index.
	PolicyNearest Policy = iota
	// PolicyPrevious returns the latest entry at or before the query time,
	// or the first entry when the query precedes the whole sequence.
	PolicyPrevious
)

// TimeAt returns the time of the entry at the given index. The sequence must
// be sorted ascending on the queried axis.
type TimeAt func(index int) time.Time

// Resolve maps a query time to the best-matching index in a sorted sequence
// of count entries. It is a pure function of its inputs.
func Resolve(query time.Time, count int, timeAt TimeAt, policy Policy) int {
	lo, hi, exact := search(query, count, timeAt)
	if lo == NoMatch {
		return NoMatch
	}
	if exact >= 0 {
		return exact
	}
	if policy == PolicyPrevious {
		return previous(query, lo, hi, timeAt)
	}
	return nearest(query, lo, hi, timeAt)
}

// ResolveWindowed behaves like Resolve under PolicyNearest, but the result
// must additionally fall inside query + window. If the nearer candidate is
// outside the window the other candidate is tried; if neither qualifies the
// result is NoMatch.
func ResolveWindowed(query time.Time, count int, timeAt TimeAt, window RelativeInterval) int {
	lo, hi, exact := search(query, count, timeAt)
	if lo == NoMatch {
		return NoMatch
	}
	if exact >= 0 {
		return exact
	}
	abs := window.MakeAbsolute(query)
	primary := nearest(query, lo, hi, timeAt)
	if abs.Contains(timeAt(primary)) {
		return primary
	}
	other := lo
	if primary == lo {
		other = hi
	}
	if other != primary && abs.Contains(timeAt(other)) {
		return other
	}
	return NoMatch
}

// search narrows a binary search to two adjacent candidates. It returns the
// exact index when a probed entry equals the query, signalled via the third
// result; otherwise exact is NoMatch.
func search(query time.Time, count int, timeAt TimeAt) (lo, hi, exact int) {
	if count == 0 {
		return NoMatch, NoMatch, NoMatch
	}
	lo, hi = 0, count-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		t := timeAt(mid)
		switch {
		case t.Equal(query):
			return lo, hi, mid
		case t.Before(query):
			lo = mid
		default:
			hi = mid
		}
	}
	if timeAt(lo).Equal(query) {
		return lo, hi, lo
	}
	if hi != lo && timeAt(hi).Equal(query) {
		return lo, hi, hi
	}
	return lo, hi, NoMatch
}

// previous picks the latest candidate at or before the query. The search
// leaves hi at count-1 when the query lies past the whole sequence, so hi
// wins whenever its time does not exceed the query; a query before all
// entries clamps to lo.
func previous(query time.Time, lo, hi int, timeAt TimeAt) int {
	if hi != lo && !timeAt(hi).After(query) {
		return hi
	}
	return lo
}

// nearest picks the boundary candidate closer to the query. The strict
// comparison means exact ties resolve to lo. Queries beyond either end of
// the sequence clamp to the boundary entry.
func nearest(query time.Time, lo, hi int, timeAt TimeAt) int {
	if hi == lo {
		return lo
	}
	if timeAt(hi).Sub(query) < query.Sub(timeAt(lo)) {
		return hi
	}
	return lo
}
