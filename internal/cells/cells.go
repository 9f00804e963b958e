// Package cells holds the small set of atomic values shared between a
// log's writer, reader and retention collaborators without requiring a
// lock round trip for a plain read.
package cells

import "sync/atomic"

// unset is the sentinel stored in the chunk-id cells before the log has
// ever appended or accepted a chunk.
const unset = -1

// ChunkIDs tracks the three chunk-id boundaries collaborators need to
// agree on: the oldest chunk still on disk, the newest chunk written
// locally, and the newest chunk a reader may observe (which lags behind
// Last during replication until the writer commits it).
type ChunkIDs struct {
	first     atomic.Int64
	last      atomic.Int64
	committed atomic.Int64
}

// NewChunkIDs returns a ChunkIDs with all three cells unset (-1).
func NewChunkIDs() *ChunkIDs {
	c := &ChunkIDs{}
	c.first.Store(unset)
	c.last.Store(unset)
	c.committed.Store(unset)
	return c
}

func (c *ChunkIDs) First() int64     { return c.first.Load() }
func (c *ChunkIDs) Last() int64      { return c.last.Load() }
func (c *ChunkIDs) Committed() int64 { return c.committed.Load() }

func (c *ChunkIDs) SetFirst(v int64)     { c.first.Store(v) }
func (c *ChunkIDs) SetLast(v int64)      { c.last.Store(v) }
func (c *ChunkIDs) SetCommitted(v int64) { c.committed.Store(v) }

// Counters holds the monotonically-increasing and point-in-time counters
// published to readers and to operational metrics: total record offset,
// the offset and timestamp of the oldest retained record, and the live
// chunk/segment counts.
type Counters struct {
	offset         atomic.Int64
	firstOffset    atomic.Int64
	firstTimestamp atomic.Int64
	chunks         atomic.Int64
	segments       atomic.Int64
}

// NewCounters returns a Counters with every field zeroed.
func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Offset() int64         { return c.offset.Load() }
func (c *Counters) FirstOffset() int64    { return c.firstOffset.Load() }
func (c *Counters) FirstTimestamp() int64 { return c.firstTimestamp.Load() }
func (c *Counters) Chunks() int64         { return c.chunks.Load() }
func (c *Counters) Segments() int64       { return c.segments.Load() }

func (c *Counters) SetOffset(v int64)         { c.offset.Store(v) }
func (c *Counters) SetFirstOffset(v int64)    { c.firstOffset.Store(v) }
func (c *Counters) SetFirstTimestamp(v int64) { c.firstTimestamp.Store(v) }
func (c *Counters) SetChunks(v int64)         { c.chunks.Store(v) }
func (c *Counters) SetSegments(v int64)       { c.segments.Store(v) }

// AddOffset adds delta to the running record offset and returns the new value.
func (c *Counters) AddOffset(delta int64) int64 { return c.offset.Add(delta) }

// AddChunks adds delta to the live chunk count and returns the new value.
func (c *Counters) AddChunks(delta int64) int64 { return c.chunks.Add(delta) }

// AddSegments adds delta to the live segment count and returns the new value.
func (c *Counters) AddSegments(delta int64) int64 { return c.segments.Add(delta) }

// Snapshot is a point-in-time copy of every cell, used for metrics export
// and for tests that want to assert on a consistent view without racing
// individual loads.
type Snapshot struct {
	FirstChunkID     int64
	LastChunkID      int64
	CommittedChunkID int64
	Offset           int64
	FirstOffset      int64
	FirstTimestamp   int64
	Chunks           int64
	Segments         int64
}

// Take returns a Snapshot of ids and counters. Individual fields may be
// torn with respect to one another under concurrent writes; callers that
// need a single consistent view should hold the writer's own lock while
// calling Take.
func Take(ids *ChunkIDs, counters *Counters) Snapshot {
	return Snapshot{
		FirstChunkID:     ids.First(),
		LastChunkID:      ids.Last(),
		CommittedChunkID: ids.Committed(),
		Offset:           counters.Offset(),
		FirstOffset:      counters.FirstOffset(),
		FirstTimestamp:   counters.FirstTimestamp(),
		Chunks:           counters.Chunks(),
		Segments:         counters.Segments(),
	}
}
