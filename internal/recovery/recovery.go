// Package recovery implements the startup tail-repair protocol (spec
// §4.6): detecting and stripping a partially written index/segment tail
// left by a crash mid-append, so a writer can resume appending cleanly.
package recovery

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/segment"
)

// castagnoliTable is the CRC32 polynomial used throughout the engine for
// chunk data checksums, matching the Castagnoli (not IEEE) table
// convention used for chunk-data checksums elsewhere in the corpus.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptedSegment is returned by Repair only when no segment pair
// remains after trailing pairs are stripped. A sole pair in which no
// valid index record is found is reset to bare headers instead, so the
// ordinary repair path does not return this error.
var ErrCorruptedSegment = errors.New("recovery: corrupted segment, no valid chunk found")

// Result describes the state of the log directory after repair,
// everything a writer needs to resume append and reload its counters.
type Result struct {
	SegmentIDs []uint64

	HasLastChunk         bool
	LastChunkID          uint64
	LastChunkEpoch       uint64
	LastChunkTimestampMs int64
	LastChunkRecordCount uint32

	HasFirstChunk       bool
	FirstChunkID        uint64
	FirstTimestampMs    int64
}

// Repair scans dir, ensures at least one segment pair exists, and
// repairs a partially written tail on the most recent pair. It returns
// enough state for a writer to reload its tail-info and counters.
func Repair(dir string, logger *slog.Logger) (Result, error) {
	logger = logging.Default(logger).With("component", "recovery")

	ids, err := segment.List(dir)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list %s: %w", dir, err)
	}

	if len(ids) == 0 {
		p, err := segment.Create(dir, 0, logger)
		if err != nil {
			return Result{}, fmt.Errorf("recovery: create initial pair: %w", err)
		}
		p.Close()
		return Result{SegmentIDs: []uint64{0}}, nil
	}

	for len(ids) > 0 {
		last := ids[len(ids)-1]
		valid, empty, err := repairPair(dir, last, logger)
		if err != nil {
			return Result{}, err
		}
		if valid {
			break
		}
		if !empty {
			// Found a valid record, loop exits via `valid`; unreachable.
			break
		}
		if len(ids) == 1 {
			// Sole pair is empty: reset to bare headers and stop.
			if err := resetToHeaders(dir, last, logger); err != nil {
				return Result{}, err
			}
			break
		}
		logger.Info("deleting empty trailing segment pair", "first_chunk_id", last)
		if err := deletePair(dir, last); err != nil {
			return Result{}, err
		}
		ids = ids[:len(ids)-1]
	}

	if len(ids) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrCorruptedSegment, dir)
	}

	result := Result{SegmentIDs: ids}

	lastID := ids[len(ids)-1]
	p, err := segment.OpenForRead(dir, lastID, logger)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: reopen %d: %w", lastID, err)
	}
	defer p.Close()

	if rec, ok, err := p.LastIndexRecord(); err != nil {
		return Result{}, err
	} else if ok {
		h, err := p.ReadHeaderAt(int64(rec.Position))
		if err != nil {
			return Result{}, fmt.Errorf("recovery: read last chunk header: %w", err)
		}
		result.HasLastChunk = true
		result.LastChunkID = rec.ChunkID
		result.LastChunkEpoch = rec.Epoch
		result.LastChunkTimestampMs = rec.TimestampMs
		result.LastChunkRecordCount = h.RecordCount
	}

	firstID := ids[0]
	fp, err := segment.OpenForRead(dir, firstID, logger)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: reopen first pair %d: %w", firstID, err)
	}
	defer fp.Close()
	if rec, ok, err := fp.FirstIndexRecord(); err != nil {
		return Result{}, err
	} else if ok {
		result.HasFirstChunk = true
		result.FirstChunkID = rec.ChunkID
		result.FirstTimestampMs = rec.TimestampMs
	}

	return result, nil
}

// repairPair repairs the tail of one segment pair in place. It reports
// valid=true once a trustworthy trailing record is found, and
// empty=true when, after
// stripping, the pair holds no chunks at all (a candidate for deletion
// if it is not the sole remaining pair).
func repairPair(dir string, firstChunkID uint64, logger *slog.Logger) (valid, empty bool, err error) {
	p, err := segment.OpenForAppend(dir, firstChunkID, logger)
	if err != nil {
		return false, false, fmt.Errorf("recovery: open %d: %w", firstChunkID, err)
	}
	defer p.Close()

	idxSize, err := p.IndexSize()
	if err != nil {
		return false, false, err
	}
	aligned := segment.AlignIndexSize(idxSize)
	if aligned != idxSize {
		logger.Warn("truncating fractional trailing index bytes", "first_chunk_id", firstChunkID, "from", idxSize, "to", aligned)
		if err := p.TruncateIndex(aligned); err != nil {
			return false, false, err
		}
	}

	segSize, err := p.SegmentSize()
	if err != nil {
		return false, false, err
	}

	pos := aligned
	for pos > logformat.LogHeaderSize {
		recOffset := pos - logformat.IndexRecordSize
		rec, err := p.IndexRecordAt(recOffset)
		if err != nil {
			return false, false, err
		}
		if rec.IsZero() {
			pos = recOffset
			continue
		}
		if validateChunk(p, rec, segSize) {
			if err := p.TruncateIndex(pos); err != nil {
				return false, false, err
			}
			h, err := p.ReadHeaderAt(int64(rec.Position))
			if err != nil {
				return false, false, err
			}
			if err := p.TruncateSegment(int64(rec.Position) + h.TotalSize()); err != nil {
				return false, false, err
			}
			return true, false, nil
		}
		logger.Warn("dropping invalid trailing index record", "first_chunk_id", firstChunkID, "chunk_id", rec.ChunkID)
		pos = recOffset
	}

	if err := p.TruncateIndex(logformat.LogHeaderSize); err != nil {
		return false, false, err
	}
	if err := p.TruncateSegment(logformat.LogHeaderSize); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func validateChunk(p *segment.Pair, rec logformat.IndexRecord, segSize int64) bool {
	pos := int64(rec.Position)
	if pos < 0 || pos+logformat.ChunkHeaderSize > segSize {
		return false
	}
	h, err := p.ReadHeaderAt(pos)
	if err != nil {
		return false
	}
	if h.ChunkID != rec.ChunkID || h.Epoch != rec.Epoch || h.TimestampMs != rec.TimestampMs || h.Type != rec.Type {
		return false
	}
	total := h.TotalSize()
	if pos+total > segSize {
		return false
	}
	dataStart := pos + logformat.ChunkHeaderSize + int64(h.BloomSize)
	data := make([]byte, h.DataSize)
	if _, err := p.ReadAt(data, dataStart); err != nil {
		return false
	}
	return crc32.Checksum(data, castagnoliTable) == h.CRC
}

func resetToHeaders(dir string, firstChunkID uint64, logger *slog.Logger) error {
	p, err := segment.OpenForAppend(dir, firstChunkID, logger)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.TruncateSegment(logformat.LogHeaderSize); err != nil {
		return err
	}
	return p.TruncateIndex(logformat.LogHeaderSize)
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
