// Package store composes the writer, reader, resolver, acceptor, and
// retention packages into the single entity spec.md §3 calls a Log: a
// named, directory-backed sequence of segment pairs owning its shared
// cells. This is the top-level type callers outside the engine use.
package store

import (
	"cmp"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chunklog/internal/acceptor"
	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/reader"
	"chunklog/internal/resolver"
	"chunklog/internal/retention"
	"chunklog/internal/retentiondispatch"
	"chunklog/internal/tracking"
	"chunklog/internal/writer"
)

const defaultRetentionInterval = time.Minute

// Config carries the §6 recognized configuration keys relevant to a
// Log opened end to end (write path, read path, and retention).
type Config struct {
	Dir   string
	Name  string
	Epoch uint64

	MaxSegmentSizeBytes  int64
	MaxSegmentSizeChunks int64
	FilterSize           int

	TrackingConfig tracking.Config

	// Retention is the ordered list of named retention specs (§4.8),
	// evaluated on a fixed interval via internal/retentiondispatch.
	Retention         []retentiondispatch.Spec
	RetentionInterval time.Duration

	// IDs and Counters are the shared cells this log publishes to. If
	// nil, the Log allocates its own.
	IDs      *cells.ChunkIDs
	Counters *cells.Counters

	// ReadersCounterFn, if set, is invoked with +1/-1 as readers open
	// and close against this log.
	ReadersCounterFn func(delta int)

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	c.RetentionInterval = cmp.Or(c.RetentionInterval, defaultRetentionInterval)
	if c.IDs == nil {
		c.IDs = cells.NewChunkIDs()
	}
	if c.Counters == nil {
		c.Counters = cells.NewCounters()
	}
}

// Log is a named, directory-backed sequence of segment pairs: a single
// writer, a retention dispatcher evaluating its configured specs, and
// the shared cells readers opened against the same directory consult.
type Log struct {
	mu sync.Mutex

	dir  string
	name string

	cfg      Config
	ids      *cells.ChunkIDs
	counters *cells.Counters
	logger   *slog.Logger

	w          *writer.Writer
	dispatcher *retentiondispatch.Dispatcher
	closed     bool
}

// Open opens (creating if absent) the log at cfg.Dir, repairing any
// partially written tail (delegated to writer.Open, which runs
// internal/recovery), and registers its retention specs for periodic
// evaluation.
func Open(cfg Config) (*Log, error) {
	cfg.setDefaults()
	logger := logging.Default(cfg.Logger).With("component", "store", "name", cfg.Name)

	w, err := writer.Open(writer.Config{
		Dir:                  cfg.Dir,
		Name:                 cfg.Name,
		Epoch:                cfg.Epoch,
		MaxSegmentSizeBytes:  cfg.MaxSegmentSizeBytes,
		MaxSegmentSizeChunks: cfg.MaxSegmentSizeChunks,
		FilterSize:           cfg.FilterSize,
		TrackingConfig:       cfg.TrackingConfig,
		IDs:                  cfg.IDs,
		Counters:             cfg.Counters,
		Logger:               cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}

	l := &Log{
		dir:      cfg.Dir,
		name:     cfg.Name,
		cfg:      cfg,
		ids:      cfg.IDs,
		counters: cfg.Counters,
		logger:   logger,
		w:        w,
	}

	if len(cfg.Retention) > 0 {
		d, err := retentiondispatch.New(cfg.Logger)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("store: create retention dispatcher: %w", err)
		}
		if err := d.Register(cfg.Dir, cfg.Retention, cfg.RetentionInterval, cfg.IDs, cfg.Counters); err != nil {
			w.Close()
			return nil, fmt.Errorf("store: register retention: %w", err)
		}
		d.Start()
		l.dispatcher = d
	}

	return l, nil
}

// Write appends entries as a new chunk, delegating to the writer.
func (l *Log) Write(entries []writer.Entry, chunkType logformat.ChunkType, timestampMs int64, trailer []byte) (writer.TailInfo, error) {
	return l.w.Write(entries, chunkType, timestampMs, trailer)
}

// AcceptChunk appends a pre-framed replicated chunk, delegating to the
// writer's replication path.
func (l *Log) AcceptChunk(chunkBytes []byte) (writer.TailInfo, error) {
	return l.w.AcceptChunk(chunkBytes)
}

// OpenReader resolves spec against the log's current segments and
// opens a reader.Reader attached at the resulting position.
func (l *Log) OpenReader(spec resolver.Spec, mode reader.Mode, selector reader.ChunkSelector) (*reader.Reader, error) {
	start, err := resolver.Resolve(l.dir, l.ids, spec, l.logger)
	if err != nil {
		return nil, err
	}
	return reader.Open(reader.Config{
		Dir:              l.dir,
		Name:             l.name,
		Mode:             mode,
		ChunkSelector:    selector,
		IDs:              l.ids,
		Counters:         l.counters,
		ReadersCounterFn: l.cfg.ReadersCounterFn,
		Logger:           l.cfg.Logger,
	}, start)
}

// TruncateTo reconciles the log against a leader's reported range and
// epoch/offset vector (spec §4.7), then refreshes the shared cells to
// match the surviving segments.
func (l *Log) TruncateTo(remoteRange acceptor.Range, epochOffsets []acceptor.EpochOffset) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Close(); err != nil {
		return nil, fmt.Errorf("store: close writer before truncation: %w", err)
	}

	survivors, err := acceptor.TruncateTo(l.dir, remoteRange, epochOffsets, l.cfg.Logger)
	if err != nil {
		return nil, err
	}

	if err := retention.PublishCounters(l.dir, l.ids, l.counters, l.cfg.Logger); err != nil {
		return nil, fmt.Errorf("store: publish counters after truncation: %w", err)
	}

	w, err := writer.Open(writer.Config{
		Dir:                  l.dir,
		Name:                 l.name,
		Epoch:                l.cfg.Epoch,
		MaxSegmentSizeBytes:  l.cfg.MaxSegmentSizeBytes,
		MaxSegmentSizeChunks: l.cfg.MaxSegmentSizeChunks,
		FilterSize:           l.cfg.FilterSize,
		TrackingConfig:       l.cfg.TrackingConfig,
		IDs:                  l.ids,
		Counters:             l.counters,
		Logger:               l.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: reopen writer after truncation: %w", err)
	}
	l.w = w

	return survivors, nil
}

// Close closes the writer and stops the retention dispatcher, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if l.dispatcher != nil {
		l.dispatcher.Unregister(l.dir)
		if err := l.dispatcher.Stop(); err != nil {
			l.logger.Warn("retention dispatcher stop failed", "error", err)
		}
	}
	return l.w.Close()
}
