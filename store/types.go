package store

import (
	"time"

	"streamnav/navigation"
)

// Entry is one timestamped message observed in a partition store. Time is
// the wall-clock arrival time; OriginatingTime is the logical/event time.
// Entries are immutable once handed out.
type Entry struct {
	StreamID        int       `json:"streamId"`
	Time            time.Time `json:"time"`
	OriginatingTime time.Time `json:"originatingTime"`
	Payload         []byte    `json:"payload,omitempty"`
}

// StreamMetadata describes one stream within a partition. Counts only grow
// and extents only widen, either entry-by-entry through Observe or in bulk
// through Apply.
type StreamMetadata struct {
	ID                   int           `json:"id"`
	Name                 string        `json:"name"`
	TypeName             string        `json:"typeName"`
	MessageCount         int64         `json:"messageCount"`
	AverageMessageSize   int64         `json:"averageMessageSize"`
	AverageLatency       time.Duration `json:"averageLatency"`
	FirstMessageTime     time.Time     `json:"firstMessageTime"`
	LastMessageTime      time.Time     `json:"lastMessageTime"`
	FirstOriginatingTime time.Time     `json:"firstOriginatingTime"`
	LastOriginatingTime  time.Time     `json:"lastOriginatingTime"`
}

// MessageInterval returns the wall-clock extent of the stream, Empty while
// no message has been observed.
func (m *StreamMetadata) MessageInterval() navigation.Interval {
	if m.FirstMessageTime.IsZero() {
		return navigation.Empty
	}
	return navigation.Interval{Left: m.FirstMessageTime, Right: m.LastMessageTime}
}

// OriginatingInterval returns the logical-time extent of the stream, Empty
// while no message has been observed.
func (m *StreamMetadata) OriginatingInterval() navigation.Interval {
	if m.FirstOriginatingTime.IsZero() {
		return navigation.Empty
	}
	return navigation.Interval{Left: m.FirstOriginatingTime, Right: m.LastOriginatingTime}
}

// Observe widens the stream extents with a single entry and bumps the
// message count and size average.
func (m *StreamMetadata) Observe(e *Entry) {
	if m.FirstMessageTime.IsZero() || e.Time.Before(m.FirstMessageTime) {
		m.FirstMessageTime = e.Time
	}
	if e.Time.After(m.LastMessageTime) {
		m.LastMessageTime = e.Time
	}
	if m.FirstOriginatingTime.IsZero() || e.OriginatingTime.Before(m.FirstOriginatingTime) {
		m.FirstOriginatingTime = e.OriginatingTime
	}
	if e.OriginatingTime.After(m.LastOriginatingTime) {
		m.LastOriginatingTime = e.OriginatingTime
	}
	size := int64(len(e.Payload))
	latency := e.Time.Sub(e.OriginatingTime)
	m.AverageMessageSize = runningAverage(m.AverageMessageSize, size, m.MessageCount)
	m.AverageLatency = time.Duration(runningAverage(int64(m.AverageLatency), int64(latency), m.MessageCount))
	m.MessageCount++
}

// SeedExtents widens the extents with a partition-level snapshot. Existing
// extents only grow; counts are untouched.
func (m *StreamMetadata) SeedExtents(message, originating navigation.Interval) {
	if !message.IsEmpty() {
		if m.FirstMessageTime.IsZero() || message.Left.Before(m.FirstMessageTime) {
			m.FirstMessageTime = message.Left
		}
		if message.Right.After(m.LastMessageTime) {
			m.LastMessageTime = message.Right
		}
	}
	if !originating.IsEmpty() {
		if m.FirstOriginatingTime.IsZero() || originating.Left.Before(m.FirstOriginatingTime) {
			m.FirstOriginatingTime = originating.Left
		}
		if originating.Right.After(m.LastOriginatingTime) {
			m.LastOriginatingTime = originating.Right
		}
	}
}

// Apply replaces the mutable attributes from a bulk store update. Identity
// attributes (ID, Name) are not overwritten.
func (m *StreamMetadata) Apply(update *StreamMetadata) {
	m.TypeName = update.TypeName
	m.MessageCount = update.MessageCount
	m.AverageMessageSize = update.AverageMessageSize
	m.AverageLatency = update.AverageLatency
	m.SeedExtents(update.MessageInterval(), update.OriginatingInterval())
}

// MetadataUpdate carries a batch of metadata records pushed by a reader,
// together with the store format version that produced them.
type MetadataUpdate struct {
	Streams       []*StreamMetadata `json:"streams"`
	FormatVersion int               `json:"formatVersion"`
}

// Reader is the live-store collaborator polled by a monitor. The handle is
// exclusively owned by the monitor while it runs; no other component may
// call into it concurrently.
type Reader interface {
	// MoveNext attempts to advance the reader one entry without blocking.
	MoveNext() (*Entry, bool)

	// LiveExtents returns a snapshot of the store-wide message and
	// originating time extents as of the call.
	LiveExtents() (message, originating navigation.Interval)

	// MetadataUpdates pushes newly-declared streams and bulk metadata
	// refreshes in the order the store produced them. The channel is closed
	// when the reader is closed.
	MetadataUpdates() <-chan MetadataUpdate

	// WriterActive reports whether the store still has an active writer.
	WriterActive() bool

	// CloseAllStreams releases any per-stream handles held by the reader.
	CloseAllStreams()

	// Close releases the reader.
	Close() error
}

func runningAverage(current, sample, count int64) int64 {
	return (current*count + sample) / (count + 1)
}
