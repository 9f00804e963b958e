package writer

import (
	"cmp"
	"log/slog"

	"chunklog/internal/cells"
	"chunklog/internal/tracking"
)

const (
	defaultMaxSegmentSizeBytes  = 500 * 1024 * 1024
	defaultMaxSegmentSizeChunks = 256_000
	defaultFilterSize           = 16
)

// Config holds the recognized configuration keys from spec §6 relevant
// to the writer side of a log.
type Config struct {
	Dir   string
	Name  string
	Epoch uint64

	MaxSegmentSizeBytes  int64
	MaxSegmentSizeChunks int64
	FilterSize           int

	TrackingConfig tracking.Config

	// IDs and Counters are the shared cells this writer publishes to.
	// If nil, the writer allocates its own (equivalent to the spec's
	// "shared" config key being absent).
	IDs      *cells.ChunkIDs
	Counters *cells.Counters

	// OnRollover, if set, is invoked in its own goroutine after a
	// segment rollover completes — the "schedule an async retention
	// evaluation" step of §4.3.
	OnRollover func()

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	c.MaxSegmentSizeBytes = cmp.Or(c.MaxSegmentSizeBytes, int64(defaultMaxSegmentSizeBytes))
	c.MaxSegmentSizeChunks = cmp.Or(c.MaxSegmentSizeChunks, int64(defaultMaxSegmentSizeChunks))
	if c.FilterSize == 0 {
		c.FilterSize = defaultFilterSize
	}
	if c.IDs == nil {
		c.IDs = cells.NewChunkIDs()
	}
	if c.Counters == nil {
		c.Counters = cells.NewCounters()
	}
}
