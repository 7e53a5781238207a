// Package partition binds a named store to its stream-name index and live
// state, and aggregates liveness across a session.
package partition

import (
	"errors"
	"fmt"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"streamnav/metrics"
	"streamnav/monitor"
	"streamnav/store"
	"streamnav/streamtree"
)

// ProbeFunc is a point-in-time liveness check for a named store.
type ProbeFunc func(storeName, storePath string) (bool, error)

// Partition is one named, independently-persisted slice of a session's
// data. It exclusively owns its stream tree and metadata table; both are
// mutated only on the delivery context once monitoring starts.
type Partition struct {
	name  string
	path  string
	probe ProbeFunc

	tree    *streamtree.Tree
	streams map[int]*store.StreamMetadata

	live          bool
	liveListeners []func(bool)
	liveMu        sync.Mutex

	mon     *monitor.Monitor
	logger  kitlog.Logger
	metrics *metrics.MonitorMetrics
}

// Option configures a Partition.
type Option func(*Partition)

// WithProbe overrides the liveness probe, store.IsLive by default.
func WithProbe(probe ProbeFunc) Option {
	return func(p *Partition) { p.probe = probe }
}

// WithLogger sets the partition logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(p *Partition) { p.logger = logger }
}

// WithMetrics wires the monitor metrics.
func WithMetrics(m *metrics.MonitorMetrics) Option {
	return func(p *Partition) { p.metrics = m }
}

// New creates a partition bound to the store at path.
func New(name, path string, opts ...Option) *Partition {
	p := &Partition{
		name:    name,
		path:    path,
		probe:   store.IsLive,
		tree:    streamtree.NewTree(),
		streams: make(map[int]*store.StreamMetadata),
		logger:  kitlog.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Path returns the store path.
func (p *Partition) Path() string { return p.path }

// Tree returns the stream-name index owned by the partition.
func (p *Partition) Tree() *streamtree.Tree { return p.tree }

// Stream returns the metadata for a stream id known to the partition.
func (p *Partition) Stream(id int) *store.StreamMetadata { return p.streams[id] }

// IsLive returns the most recently probed live flag.
func (p *Partition) IsLive() bool {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.live
}

// OnLiveChanged registers a callback fired only when the live flag actually
// flips.
func (p *Partition) OnLiveChanged(fn func(bool)) {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	p.liveListeners = append(p.liveListeners, fn)
}

// ProbeLiveness re-issues the point-in-time liveness check and fires the
// change notification on a flip. A writer that abandoned its liveness
// primitive degrades to "not live" rather than propagating as a fault.
func (p *Partition) ProbeLiveness() bool {
	live, err := p.probe(p.name, p.path)
	if err != nil {
		if errors.Is(err, store.ErrWriterAbandoned) {
			level.Info(p.logger).Log("msg", "writer abandoned, treating as not live", "partition", p.name)
			live = false
		} else {
			level.Warn(p.logger).Log("msg", "liveness probe failed", "partition", p.name, "err", err)
			live = false
		}
	}

	p.liveMu.Lock()
	changed := live != p.live
	p.live = live
	listeners := p.liveListeners
	p.liveMu.Unlock()

	if changed {
		if p.metrics != nil {
			if live {
				p.metrics.LivePartitions.Inc()
			} else {
				p.metrics.LivePartitions.Dec()
			}
		}
		for _, fn := range listeners {
			fn(live)
		}
	}
	return live
}

// LoadStreams seeds the stream table and tree from metadata already known
// to the store, before monitoring starts.
func (p *Partition) LoadStreams(streams []*store.StreamMetadata) error {
	for _, meta := range streams {
		if _, ok := p.streams[meta.ID]; ok {
			continue
		}
		if _, err := p.tree.Add(meta); err != nil {
			return fmt.Errorf("error indexing stream %q: %w", meta.Name, err)
		}
		p.streams[meta.ID] = meta
	}
	return nil
}

// StartMonitoring starts a live monitor over reader, delivering all tree
// and metadata mutation through dispatcher. The store-wide extents snapshot
// captured at start pre-seeds every already-known stream with the
// partition-level extents; per-stream accuracy is deliberately not
// attempted because no cheaper per-stream signal exists at this point.
func (p *Partition) StartMonitoring(reader store.Reader, dispatcher *monitor.Dispatcher, opts monitor.Options) error {
	if p.mon != nil && p.mon.State() != monitor.Stopped {
		return fmt.Errorf("partition %s is already monitored", p.name)
	}

	opts.Logger = kitlog.With(p.logger, "partition", p.name)
	opts.Metrics = p.metrics

	userExtents := opts.OnExtents
	userEntry := opts.OnEntry
	userMetadata := opts.OnMetadata

	opts.OnExtents = func(ext monitor.Extents) {
		for _, meta := range p.streams {
			meta.SeedExtents(ext.Message, ext.Originating)
		}
		if userExtents != nil {
			userExtents(ext)
		}
	}
	opts.OnEntry = func(e *store.Entry) {
		if meta, ok := p.streams[e.StreamID]; ok {
			meta.Observe(e)
		}
		if userEntry != nil {
			userEntry(e)
		}
	}
	opts.OnMetadata = func(update store.MetadataUpdate) {
		p.applyMetadata(update)
		if userMetadata != nil {
			userMetadata(update)
		}
	}

	p.mon = monitor.New(reader, dispatcher, opts)
	return p.mon.Start()
}

// applyMetadata runs on the dispatcher goroutine: new streams grow the
// tree, known streams take the bulk update.
func (p *Partition) applyMetadata(update store.MetadataUpdate) {
	for _, incoming := range update.Streams {
		if known, ok := p.streams[incoming.ID]; ok {
			known.Apply(incoming)
			continue
		}
		if _, err := p.tree.Add(incoming); err != nil {
			level.Error(p.logger).Log("msg", "rejecting metadata update", "partition", p.name,
				"stream", incoming.Name, "err", err)
			continue
		}
		p.streams[incoming.ID] = incoming
	}
}

// StopMonitoring stops the live monitor, waiting up to the configured stop
// timeout. A timeout is reported, not ignored.
func (p *Partition) StopMonitoring() error {
	if p.mon == nil {
		return nil
	}
	return p.mon.Stop()
}

// Monitor returns the current monitor, nil before StartMonitoring.
func (p *Partition) Monitor() *monitor.Monitor { return p.mon }

// Session is a named collection of partitions.
type Session struct {
	name       string
	partitions []*Partition
}

// NewSession creates a session over the given partitions.
func NewSession(name string, partitions ...*Partition) *Session {
	return &Session{name: name, partitions: partitions}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Partitions returns the member partitions.
func (s *Session) Partitions() []*Partition { return s.partitions }

// Add appends a partition to the session.
func (s *Session) Add(p *Partition) {
	s.partitions = append(s.partitions, p)
}

// IsLive is the logical OR of the member live flags, recomputed on demand.
// Callers re-invoke it after any constituent change.
func (s *Session) IsLive() bool {
	for _, p := range s.partitions {
		if p.IsLive() {
			return true
		}
	}
	return false
}
