package navigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(times ...string) (int, TimeAt) {
	parsed := make([]time.Time, len(times))
	for i, s := range times {
		t, err := time.Parse("15:04:05", s)
		if err != nil {
			panic(err)
		}
		parsed[i] = t
	}
	return len(parsed), func(i int) time.Time { return parsed[i] }
}

func at(s string) time.Time {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveEmptySequence(t *testing.T) {
	count, timeAt := sequence()
	assert.Equal(t, NoMatch, Resolve(at("10:00:00"), count, timeAt, PolicyNearest))
	assert.Equal(t, NoMatch, Resolve(at("10:00:00"), count, timeAt, PolicyPrevious))
}

func TestResolveExactMatchShortCircuits(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:05", "10:00:10")
	for _, policy := range []Policy{PolicyNearest, PolicyPrevious} {
		assert.Equal(t, 1, Resolve(at("10:00:05"), count, timeAt, policy))
		assert.Equal(t, 0, Resolve(at("10:00:00"), count, timeAt, policy))
		assert.Equal(t, 2, Resolve(at("10:00:10"), count, timeAt, policy))
	}
}

func TestResolveNearest(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:05", "10:00:10")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"closer to lower candidate", "10:00:07", 1},
		{"closer to upper candidate", "10:00:09", 2},
		{"before all entries", "09:59:00", 0},
		{"after all entries", "10:01:00", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(at(tt.query), count, timeAt, PolicyNearest))
		})
	}
}

func TestResolveNearestTiePrefersLower(t *testing.T) {
	// 10:00:06 is equidistant from 10:00:04 and 10:00:08.
	count, timeAt := sequence("10:00:04", "10:00:08")
	assert.Equal(t, 0, Resolve(at("10:00:06"), count, timeAt, PolicyNearest))
}

func TestResolvePrevious(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:05", "10:00:10")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"between entries returns earlier", "10:00:07", 1},
		{"just before last", "10:00:09", 1},
		{"before all entries returns first", "09:59:00", 0},
		{"after all entries returns last", "10:01:00", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(at(tt.query), count, timeAt, PolicyPrevious))
		})
	}
}

func TestResolvePreviousClampsToLastEntry(t *testing.T) {
	// A query past the whole sequence must land on the final index, not on
	// the lower boundary candidate the binary search stops at.
	count, timeAt := sequence("10:00:00", "10:00:05", "10:00:10", "10:00:15")
	assert.Equal(t, 3, Resolve(at("10:00:16"), count, timeAt, PolicyPrevious))

	count, timeAt = sequence("10:00:00", "10:00:10")
	assert.Equal(t, 1, Resolve(at("10:00:11"), count, timeAt, PolicyPrevious))
}

func TestResolveSingleElement(t *testing.T) {
	count, timeAt := sequence("10:00:00")
	assert.Equal(t, 0, Resolve(at("11:00:00"), count, timeAt, PolicyNearest))
	assert.Equal(t, 0, Resolve(at("09:00:00"), count, timeAt, PolicyPrevious))
}

func TestResolveDeterministic(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:03", "10:00:05", "10:00:11")
	query := at("10:00:04")
	first := Resolve(query, count, timeAt, PolicyNearest)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Resolve(query, count, timeAt, PolicyNearest))
	}
}

func TestResolveWindowed(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:05", "10:00:10")
	window := RelativeInterval{Left: -1 * time.Second, Right: 1 * time.Second}

	// Nearest candidate 10:00:05 is 2s away from the query, outside the
	// window; the other candidate 10:00:10 is 3s away, also outside.
	assert.Equal(t, NoMatch, ResolveWindowed(at("10:00:07"), count, timeAt, window))

	// Within 1s of an entry the nearest candidate qualifies.
	assert.Equal(t, 1, ResolveWindowed(at("10:00:05.5"), count, timeAt, window))

	// Exact match short-circuits regardless of the window.
	assert.Equal(t, 1, ResolveWindowed(at("10:00:05"), count, timeAt, RelativeInterval{}))
}

func TestResolveWindowedFallsBackToOtherCandidate(t *testing.T) {
	count, timeAt := sequence("10:00:00", "10:00:10")
	// Query sits 4s after the first entry and 6s before the second. An
	// asymmetric window reaching only forward rejects the nearer candidate
	// behind the query but accepts the later one.
	window := RelativeInterval{Left: -1 * time.Second, Right: 7 * time.Second}
	assert.Equal(t, 1, ResolveWindowed(at("10:00:04"), count, timeAt, window))
}

func TestResolveWindowedEmptySequence(t *testing.T) {
	count, timeAt := sequence()
	window := RelativeInterval{Left: -time.Second, Right: time.Second}
	assert.Equal(t, NoMatch, ResolveWindowed(at("10:00:00"), count, timeAt, window))
}
