package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamnav/navigation"
	"streamnav/store"
)

// fakeReader is a scriptable store.Reader.
type fakeReader struct {
	mu      sync.Mutex
	entries []*store.Entry

	updates      chan store.MetadataUpdate
	writerActive atomic.Bool

	closeAllCalled atomic.Bool
	closed         atomic.Bool

	message     navigation.Interval
	originating navigation.Interval
}

func newFakeReader(entries ...*store.Entry) *fakeReader {
	r := &fakeReader{
		entries:     entries,
		updates:     make(chan store.MetadataUpdate, 16),
		message:     navigation.Empty,
		originating: navigation.Empty,
	}
	r.writerActive.Store(true)
	return r
}

func (r *fakeReader) MoveNext() (*store.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil, false
	}
	e := r.entries[0]
	r.entries = r.entries[1:]
	return e, true
}

func (r *fakeReader) LiveExtents() (navigation.Interval, navigation.Interval) {
	return r.message, r.originating
}

func (r *fakeReader) MetadataUpdates() <-chan store.MetadataUpdate { return r.updates }

func (r *fakeReader) WriterActive() bool { return r.writerActive.Load() }

func (r *fakeReader) CloseAllStreams() { r.closeAllCalled.Store(true) }

func (r *fakeReader) Close() error {
	if !r.closed.Swap(true) {
		close(r.updates)
	}
	return nil
}

func entryAt(streamID int, offset time.Duration) *store.Entry {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	return &store.Entry{
		StreamID:        streamID,
		Time:            base.Add(offset),
		OriginatingTime: base.Add(offset - 10*time.Millisecond),
	}
}

func TestMonitorDeliversOnlyLatestEntryPerTick(t *testing.T) {
	reader := newFakeReader(
		entryAt(0, 0),
		entryAt(1, time.Millisecond),
		entryAt(2, 2*time.Millisecond),
	)
	d := NewDispatcher(16)
	defer d.Close()

	var mu sync.Mutex
	var delivered []*store.Entry
	m := New(reader, d, Options{
		PollInterval:     5 * time.Millisecond,
		DeliveryInterval: 60 * time.Millisecond,
		OnEntry: func(e *store.Entry) {
			mu.Lock()
			delivered = append(delivered, e)
			mu.Unlock()
		},
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	// All three entries arrive within one delivery tick; only the newest
	// is handed over.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, 2, delivered[0].StreamID)
}

func TestMonitorForwardsAllMetadataUpdatesInOrder(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(16)
	defer d.Close()

	var mu sync.Mutex
	var seen []int
	m := New(reader, d, Options{
		PollInterval: 5 * time.Millisecond,
		OnMetadata: func(u store.MetadataUpdate) {
			mu.Lock()
			seen = append(seen, u.Streams[0].ID)
			mu.Unlock()
		},
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	for i := 0; i < 3; i++ {
		reader.updates <- store.MetadataUpdate{
			Streams: []*store.StreamMetadata{{ID: i, Name: "stream"}},
		}
	}

	// Metadata is never collapsed: three declarations mean three
	// deliveries, in order.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestMonitorDeliversExtentsSnapshotAtStart(t *testing.T) {
	reader := newFakeReader()
	reader.message = navigation.Interval{
		Left:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		Right: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}
	d := NewDispatcher(16)
	defer d.Close()

	got := make(chan Extents, 1)
	m := New(reader, d, Options{
		PollInterval: 5 * time.Millisecond,
		OnExtents:    func(ext Extents) { got <- ext },
	})
	require.NoError(t, m.Start())
	defer m.Stop()

	select {
	case ext := <-got:
		assert.Equal(t, reader.message, ext.Message)
		assert.True(t, ext.Originating.IsEmpty())
	case <-time.After(time.Second):
		t.Fatal("extents snapshot was not delivered")
	}
}

func TestMonitorStopReleasesReader(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(16)
	defer d.Close()

	m := New(reader, d, Options{
		PollInterval: 20 * time.Millisecond,
		StopTimeout:  time.Second,
	})
	require.NoError(t, m.Start())
	require.Equal(t, Monitoring, m.State())

	// Stop while the loop is sleeping between polls.
	require.NoError(t, m.Stop())
	assert.Equal(t, Stopped, m.State())
	assert.True(t, reader.closeAllCalled.Load())
	assert.True(t, reader.closed.Load())
}

func TestMonitorExitsWhenWriterGone(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(16)
	defer d.Close()

	m := New(reader, d, Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, m.Start())

	reader.writerActive.Store(false)

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit after writer went away")
	}
	assert.Equal(t, Stopped, m.State())
	assert.True(t, reader.closed.Load())
}

func TestMonitorExitsWhenDispatcherClosed(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(16)

	m := New(reader, d, Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, m.Start())

	d.Close()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit after dispatcher teardown")
	}
	assert.Equal(t, Stopped, m.State())
}

func TestMonitorStartTwice(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(16)
	defer d.Close()

	m := New(reader, d, Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, m.Start())
	defer m.Stop()

	assert.ErrorIs(t, m.Start(), ErrNotIdle)
}

func TestMonitorStopBeforeStartReleasesReader(t *testing.T) {
	reader := newFakeReader()
	d := NewDispatcher(1)
	defer d.Close()

	m := New(reader, d, Options{})
	require.NoError(t, m.Stop())
	assert.Equal(t, Stopped, m.State())
	assert.True(t, reader.closeAllCalled.Load())
	assert.True(t, reader.closed.Load())

	// A second Stop observes the terminal state.
	require.NoError(t, m.Stop())
}
