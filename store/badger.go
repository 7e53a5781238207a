package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/pb"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"streamnav/navigation"
)

// ErrWriterAbandoned is returned by IsLive when the liveness marker exists
// but its writer stopped refreshing it without releasing it (crashed or
// killed writer process). Callers treat this as "not live", not as a fault.
var ErrWriterAbandoned = errors.New("store writer abandoned its liveness marker")

// ErrUnknownStream is returned when appending to a stream id that was never
// declared.
var ErrUnknownStream = errors.New("unknown stream id")

const (
	msgPrefix     = "msg_"
	metaPrefix    = "meta_"
	extentsKey    = "extents"
	formatVersion = 1

	// DefaultHeartbeatInterval is how often a writer refreshes its liveness
	// marker; DefaultHeartbeatTTL is how stale the marker may be before the
	// writer is considered abandoned.
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultHeartbeatTTL      = 3 * time.Second
)

// heartbeatTTL is package-wide so tests can shorten the abandonment window.
var heartbeatTTL = DefaultHeartbeatTTL

// Store is a partition store backed by BadgerDB: an append-only message log
// under time-ordered msg_ keys, stream metadata records under meta_ keys and
// a store-wide extents record, plus an on-disk liveness marker maintained by
// the active writer.
type Store struct {
	name   string
	path   string
	db     *badger.DB
	logger kitlog.Logger
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) the partition store at path.
func Open(name, path string, logger kitlog.Logger) (*Store, error) {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("error creating store directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening BadgerDB: %w", err)
	}

	level.Debug(logger).Log("msg", "store opened", "name", name, "path", path)
	return &Store{name: name, path: path, db: db, logger: logger}, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Streams lists the metadata records currently persisted in the store.
func (s *Store) Streams() ([]*StreamMetadata, error) {
	var streams []*StreamMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(metaPrefix)); it.ValidForPrefix([]byte(metaPrefix)); it.Next() {
			var meta StreamMetadata
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("error unmarshaling stream metadata: %w", err)
			}
			streams = append(streams, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing streams: %w", err)
	}
	return streams, nil
}

// Extents returns the persisted store-wide time extents, Empty while the
// store has no messages.
func (s *Store) Extents() (message, originating navigation.Interval) {
	message, originating = navigation.Empty, navigation.Empty
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(extentsKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var ext storeExtents
			if err := json.Unmarshal(val, &ext); err != nil {
				return err
			}
			message, originating = ext.intervals()
			return nil
		})
	})
	return message, originating
}

// IsLive is a point-in-time probe of whether the named store currently has
// an active writer. A marker left behind by a dead writer raises
// ErrWriterAbandoned alongside false.
func IsLive(name, path string) (bool, error) {
	info, err := os.Stat(heartbeatPath(name, path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("error probing liveness marker: %w", err)
	}
	if time.Since(info.ModTime()) > heartbeatTTL {
		return false, ErrWriterAbandoned
	}
	return true, nil
}

func heartbeatPath(name, path string) string {
	return filepath.Join(path, name+".live")
}

// storeExtents is the persisted store-wide extent record. Zero times mean
// unknown.
type storeExtents struct {
	FirstMessageTime     time.Time `json:"firstMessageTime"`
	LastMessageTime      time.Time `json:"lastMessageTime"`
	FirstOriginatingTime time.Time `json:"firstOriginatingTime"`
	LastOriginatingTime  time.Time `json:"lastOriginatingTime"`
}

func (e *storeExtents) observe(entry *Entry) {
	if e.FirstMessageTime.IsZero() || entry.Time.Before(e.FirstMessageTime) {
		e.FirstMessageTime = entry.Time
	}
	if entry.Time.After(e.LastMessageTime) {
		e.LastMessageTime = entry.Time
	}
	if e.FirstOriginatingTime.IsZero() || entry.OriginatingTime.Before(e.FirstOriginatingTime) {
		e.FirstOriginatingTime = entry.OriginatingTime
	}
	if entry.OriginatingTime.After(e.LastOriginatingTime) {
		e.LastOriginatingTime = entry.OriginatingTime
	}
}

func (e *storeExtents) intervals() (message, originating navigation.Interval) {
	message, originating = navigation.Empty, navigation.Empty
	if !e.FirstMessageTime.IsZero() {
		message = navigation.Interval{Left: e.FirstMessageTime, Right: e.LastMessageTime}
	}
	if !e.FirstOriginatingTime.IsZero() {
		originating = navigation.Interval{Left: e.FirstOriginatingTime, Right: e.LastOriginatingTime}
	}
	return message, originating
}

// Writer appends entries and stream declarations to a store and keeps the
// liveness marker fresh while it is open.
type Writer struct {
	store    *Store
	interval time.Duration
	seq      uint64
	streams  map[int]*StreamMetadata
	nextID   int
	extents  storeExtents
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// NewWriter opens a writer on the store and starts the heartbeat refresher.
func (s *Store) NewWriter(heartbeatInterval time.Duration) (*Writer, error) {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	existing, err := s.Streams()
	if err != nil {
		return nil, err
	}
	w := &Writer{
		store:    s,
		interval: heartbeatInterval,
		streams:  make(map[int]*StreamMetadata, len(existing)),
		stopChan: make(chan struct{}),
	}
	for _, meta := range existing {
		w.streams[meta.ID] = meta
		if meta.ID >= w.nextID {
			w.nextID = meta.ID + 1
		}
	}
	message, originating := s.Extents()
	if !message.IsEmpty() {
		w.extents.FirstMessageTime = message.Left
		w.extents.LastMessageTime = message.Right
	}
	if !originating.IsEmpty() {
		w.extents.FirstOriginatingTime = originating.Left
		w.extents.LastOriginatingTime = originating.Right
	}

	if err := w.touchHeartbeat(); err != nil {
		return nil, err
	}
	w.startHeartbeat()
	return w, nil
}

// CreateStream declares a new stream and persists its metadata record.
func (w *Writer) CreateStream(name, typeName string) (*StreamMetadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	meta := &StreamMetadata{ID: w.nextID, Name: name, TypeName: typeName}
	w.nextID++

	if err := w.writeMetadata(meta); err != nil {
		return nil, err
	}
	w.streams[meta.ID] = meta

	declared := *meta
	return &declared, nil
}

// Append appends an entry to a declared stream, stamped with the current
// wall-clock time, and refreshes the persisted metadata and extent records.
func (w *Writer) Append(streamID int, payload []byte, originatingTime time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	meta, ok := w.streams[streamID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStream, streamID)
	}

	entry := &Entry{
		StreamID:        streamID,
		Time:            time.Now(),
		OriginatingTime: originatingTime,
		Payload:         payload,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshaling entry: %w", err)
	}

	meta.Observe(entry)
	w.extents.observe(entry)
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("error marshaling stream metadata: %w", err)
	}
	extData, err := json.Marshal(&w.extents)
	if err != nil {
		return fmt.Errorf("error marshaling extents: %w", err)
	}

	key := w.generateEntryKey(entry.Time)
	err = w.store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(metaKey(meta.ID), metaData); err != nil {
			return err
		}
		return txn.Set([]byte(extentsKey), extData)
	})
	if err != nil {
		return fmt.Errorf("error appending entry: %w", err)
	}
	return nil
}

// Close stops the heartbeat refresher and removes the liveness marker,
// releasing the store cleanly. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	if err := os.Remove(heartbeatPath(w.store.name, w.store.path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing liveness marker: %w", err)
	}
	level.Debug(w.store.logger).Log("msg", "writer closed", "store", w.store.name)
	return nil
}

func (w *Writer) writeMetadata(meta *StreamMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("error marshaling stream metadata: %w", err)
	}
	err = w.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.ID), data)
	})
	if err != nil {
		return fmt.Errorf("error storing stream metadata: %w", err)
	}
	return nil
}

// generateEntryKey generates a time-ordered key for an entry. A sequence
// suffix keeps entries with equal timestamps distinct.
func (w *Writer) generateEntryKey(timestamp time.Time) []byte {
	key := make([]byte, len(msgPrefix)+8+8)
	copy(key, msgPrefix)
	binary.BigEndian.PutUint64(key[len(msgPrefix):], uint64(timestamp.UnixNano()))
	binary.BigEndian.PutUint64(key[len(msgPrefix)+8:], w.seq)
	w.seq++
	return key
}

func metaKey(id int) []byte {
	return []byte(fmt.Sprintf("%s%08d", metaPrefix, id))
}

func (w *Writer) touchHeartbeat() error {
	payload := []byte(time.Now().Format(time.RFC3339Nano))
	if err := os.WriteFile(heartbeatPath(w.store.name, w.store.path), payload, 0644); err != nil {
		return fmt.Errorf("error writing liveness marker: %w", err)
	}
	return nil
}

func (w *Writer) startHeartbeat() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := w.touchHeartbeat(); err != nil {
					level.Warn(w.store.logger).Log("msg", "heartbeat refresh failed", "store", w.store.name, "err", err)
				}
			case <-w.stopChan:
				return
			}
		}
	}()
}

// LiveReader implements Reader on top of a Badger-backed store: MoveNext
// iterates forward from the position the reader was opened at, and metadata
// updates are pushed through a Badger subscription on the meta_ prefix.
type LiveReader struct {
	store     *Store
	lastKey   []byte
	updates   chan MetadataUpdate
	cancelSub context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

// NewLiveReader opens a reader positioned at "now": entries already in the
// store are skipped, only entries appended after this call are surfaced.
func (s *Store) NewLiveReader() (*LiveReader, error) {
	r := &LiveReader{
		store:   s,
		updates: make(chan MetadataUpdate, 16),
	}

	// Position past the newest existing entry.
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(msgPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the end of the msg_ keyspace; msg_ <= 0xff sorts all real keys first.
		it.Seek(append([]byte(msgPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix([]byte(msgPrefix)) {
			r.lastKey = it.Item().KeyCopy(nil)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error positioning reader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelSub = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.updates)
		err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
			update := MetadataUpdate{FormatVersion: formatVersion}
			for _, kv := range kvs.Kv {
				if !bytes.HasPrefix(kv.Key, []byte(metaPrefix)) {
					continue
				}
				var meta StreamMetadata
				if err := json.Unmarshal(kv.Value, &meta); err != nil {
					level.Warn(s.logger).Log("msg", "bad metadata record", "store", s.name, "err", err)
					continue
				}
				update.Streams = append(update.Streams, &meta)
			}
			if len(update.Streams) == 0 {
				return nil
			}
			select {
			case r.updates <- update:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, []pb.Match{{Prefix: []byte(metaPrefix)}})
		if err != nil && !errors.Is(err, context.Canceled) {
			level.Warn(s.logger).Log("msg", "metadata subscription ended", "store", s.name, "err", err)
		}
	}()

	return r, nil
}

// MoveNext attempts to advance one entry past the current position.
func (r *LiveReader) MoveNext() (*Entry, bool) {
	var entry *Entry
	err := r.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(msgPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		if r.lastKey == nil {
			it.Seek([]byte(msgPrefix))
		} else {
			it.Seek(r.lastKey)
			if it.ValidForPrefix([]byte(msgPrefix)) && bytes.Equal(it.Item().Key(), r.lastKey) {
				it.Next()
			}
		}
		if !it.ValidForPrefix([]byte(msgPrefix)) {
			return badger.ErrKeyNotFound
		}

		var e Entry
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return fmt.Errorf("error unmarshaling entry: %w", err)
		}
		r.lastKey = it.Item().KeyCopy(nil)
		entry = &e
		return nil
	})
	if err != nil {
		return nil, false
	}
	return entry, true
}

// LiveExtents returns the store-wide extents snapshot.
func (r *LiveReader) LiveExtents() (message, originating navigation.Interval) {
	return r.store.Extents()
}

// MetadataUpdates returns the push channel of metadata updates.
func (r *LiveReader) MetadataUpdates() <-chan MetadataUpdate {
	return r.updates
}

// WriterActive reports whether the store still has a live writer. An
// abandoned marker degrades to "not active".
func (r *LiveReader) WriterActive() bool {
	live, err := IsLive(r.store.name, r.store.path)
	return err == nil && live
}

// CloseAllStreams tears down the metadata subscription, the only per-stream
// resource this reader holds.
func (r *LiveReader) CloseAllStreams() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelSub != nil {
		r.cancelSub()
		r.cancelSub = nil
	}
}

// Close releases the reader. The store itself stays open; it is owned by
// the partition, not the reader.
func (r *LiveReader) Close() error {
	r.CloseAllStreams()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
