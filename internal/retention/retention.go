// Package retention implements the eviction policies of spec §4.8 as
// pure decision functions over a snapshot of the log's segments, kept
// separate from the IO that carries a decision out.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"chunklog/internal/cells"
	"chunklog/internal/logging"
	"chunklog/internal/segment"
)

// SegmentMeta is immutable metadata for one sealed segment, sufficient
// to make a retention decision without further IO.
type SegmentMeta struct {
	FirstChunkID    uint64
	LastTimestampMs int64
	Bytes           int64
}

// LogState is a snapshot of a log's segments, sorted oldest first, plus
// the wall-clock time a Policy should judge age against.
type LogState struct {
	Segments []SegmentMeta
	Now      time.Time
}

// Policy decides which segments to delete. Policies are pure: no IO, no
// mutation. They never mark the newest segment for deletion.
type Policy interface {
	Apply(state LogState) []uint64
}

// PolicyFunc adapts an ordinary function to Policy.
type PolicyFunc func(state LogState) []uint64

func (f PolicyFunc) Apply(state LogState) []uint64 { return f(state) }

// CompositePolicy combines policies with union semantics: a segment is
// deleted if any sub-policy names it.
type CompositePolicy struct {
	policies []Policy
}

// NewCompositePolicy builds a Policy that deletes whatever any of
// policies names.
func NewCompositePolicy(policies ...Policy) *CompositePolicy {
	return &CompositePolicy{policies: policies}
}

func (c *CompositePolicy) Apply(state LogState) []uint64 {
	seen := make(map[uint64]struct{})
	var result []uint64
	for _, p := range c.policies {
		for _, id := range p.Apply(state) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				result = append(result, id)
			}
		}
	}
	return result
}

// TTLPolicy deletes segments whose last chunk is older than maxAge,
// stopping at the first segment that isn't (spec §4.8's max_age: oldest
// to newest, stop at the first newer segment). Never names the newest
// segment.
type TTLPolicy struct {
	maxAge time.Duration
}

// NewTTLPolicy builds a TTLPolicy.
func NewTTLPolicy(maxAge time.Duration) *TTLPolicy {
	return &TTLPolicy{maxAge: maxAge}
}

func (p *TTLPolicy) Apply(state LogState) []uint64 {
	if p.maxAge <= 0 || len(state.Segments) <= 1 {
		return nil
	}
	cutoff := state.Now.Add(-p.maxAge).UnixMilli()

	var result []uint64
	for _, seg := range state.Segments[:len(state.Segments)-1] {
		if seg.LastTimestampMs >= cutoff {
			break
		}
		result = append(result, seg.FirstChunkID)
	}
	return result
}

// SizePolicy deletes the oldest segments once the cumulative size,
// summed newest to oldest, exceeds maxBytes (spec §4.8's max_bytes).
// Never names the newest segment.
type SizePolicy struct {
	maxBytes int64
}

// NewSizePolicy builds a SizePolicy.
func NewSizePolicy(maxBytes int64) *SizePolicy {
	return &SizePolicy{maxBytes: maxBytes}
}

func (p *SizePolicy) Apply(state LogState) []uint64 {
	if p.maxBytes <= 0 || len(state.Segments) <= 1 {
		return nil
	}

	keep := make(map[uint64]struct{})
	var budget int64
	for i := len(state.Segments) - 1; i >= 0; i-- {
		seg := state.Segments[i]
		if i != len(state.Segments)-1 && budget+seg.Bytes > p.maxBytes {
			break
		}
		budget += seg.Bytes
		keep[seg.FirstChunkID] = struct{}{}
	}

	var result []uint64
	for _, seg := range state.Segments {
		if _, ok := keep[seg.FirstChunkID]; !ok {
			result = append(result, seg.FirstChunkID)
		}
	}
	return result
}

// Snapshot reads every segment pair under dir into a LogState for a
// Policy to judge.
func Snapshot(dir string, now time.Time, logger *slog.Logger) (LogState, error) {
	logger = logging.Default(logger).With("component", "retention")

	segIDs, err := segment.List(dir)
	if err != nil {
		return LogState{}, fmt.Errorf("retention: list %s: %w", dir, err)
	}

	metas := make([]SegmentMeta, 0, len(segIDs))
	for _, id := range segIDs {
		p, err := segment.OpenForRead(dir, id, logger)
		if err != nil {
			return LogState{}, err
		}
		segSize, err := p.SegmentSize()
		if err != nil {
			p.Close()
			return LogState{}, err
		}
		idxSize, err := p.IndexSize()
		if err != nil {
			p.Close()
			return LogState{}, err
		}
		rec, ok, err := p.LastIndexRecord()
		p.Close()
		if err != nil {
			return LogState{}, err
		}
		meta := SegmentMeta{FirstChunkID: id, Bytes: segSize + idxSize}
		if ok {
			meta.LastTimestampMs = rec.TimestampMs
		}
		metas = append(metas, meta)
	}

	return LogState{Segments: metas, Now: now}, nil
}

// Evaluate snapshots dir, asks policy which segments to delete, and
// deletes them, returning the deleted first-chunk-ids.
func Evaluate(dir string, policy Policy, now time.Time, logger *slog.Logger) ([]uint64, error) {
	logger = logging.Default(logger).With("component", "retention")

	state, err := Snapshot(dir, now, logger)
	if err != nil {
		return nil, err
	}
	if len(state.Segments) <= 1 {
		return nil, nil
	}

	doomed := policy.Apply(state)
	for _, id := range doomed {
		logger.Info("evicting segment", "first_chunk_id", id)
		if err := deletePair(dir, id); err != nil {
			return nil, err
		}
	}
	return doomed, nil
}

// PublishCounters recomputes first_chunk_id/first_offset/first_timestamp
// and segments from dir's current segment listing and publishes them
// into ids/counters, the step spec §4.8 requires after any retention
// pass.
func PublishCounters(dir string, ids *cells.ChunkIDs, counters *cells.Counters, logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "retention")

	segIDs, err := segment.List(dir)
	if err != nil {
		return fmt.Errorf("retention: list %s: %w", dir, err)
	}
	counters.SetSegments(int64(len(segIDs)))
	if len(segIDs) == 0 {
		return nil
	}

	p, err := segment.OpenForRead(dir, segIDs[0], logger)
	if err != nil {
		return err
	}
	defer p.Close()

	rec, ok, err := p.FirstIndexRecord()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ids.SetFirst(int64(rec.ChunkID))
	counters.SetFirstOffset(int64(rec.ChunkID))
	counters.SetFirstTimestamp(rec.TimestampMs)
	return nil
}

func deletePair(dir string, firstChunkID uint64) error {
	if err := os.Remove(segment.Path(dir, firstChunkID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(segment.IndexPath(dir, firstChunkID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
