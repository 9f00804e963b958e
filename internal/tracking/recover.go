package tracking

import (
	"fmt"
	"log/slog"

	"chunklog/internal/logformat"
	"chunklog/internal/segment"
)

// Recover rebuilds tracking state by walking one segment's chunks
// sequentially from LOG_HEADER_SIZE (spec §4.9): a TRK_SNAPSHOT chunk
// resets the state from its single simple entry body, a TRK_DELTA chunk
// folds its single simple entry body in as deltas scoped to the chunk's
// id, and a USER chunk's data is skipped but its trailer (if any) folds
// in the same way. The caller picks which segment is "the first (oldest
// available) segment of interest" — ordinarily the log's current
// segment, so a resuming writer recovers the state since its last
// snapshot without rescanning the whole log.
func Recover(dir string, segmentFirstChunkID uint64, cfg Config, logger *slog.Logger) (*State, error) {
	p, err := segment.OpenForRead(dir, segmentFirstChunkID, logger)
	if err != nil {
		return nil, fmt.Errorf("tracking: open segment %d: %w", segmentFirstChunkID, err)
	}
	defer p.Close()

	segSize, err := p.SegmentSize()
	if err != nil {
		return nil, fmt.Errorf("tracking: stat segment %d: %w", segmentFirstChunkID, err)
	}

	state, err := Init(nil, cfg)
	if err != nil {
		return nil, err
	}

	pos := int64(logformat.LogHeaderSize)
	for pos < segSize {
		h, err := p.ReadHeaderAt(pos)
		if err != nil {
			return nil, fmt.Errorf("tracking: read chunk header at %d: %w", pos, err)
		}

		dataPos := pos + logformat.ChunkHeaderSize + int64(h.BloomSize)

		switch h.Type {
		case logformat.ChunkTrkSnapshot:
			body, err := readEntryBody(p, dataPos, h.DataSize)
			if err != nil {
				return nil, err
			}
			state, err = Init(body, cfg)
			if err != nil {
				return nil, fmt.Errorf("tracking: reset from snapshot at chunk %d: %w", h.ChunkID, err)
			}

		case logformat.ChunkTrkDelta:
			body, err := readEntryBody(p, dataPos, h.DataSize)
			if err != nil {
				return nil, err
			}
			state, err = state.AppendTrailer(h.ChunkID, body)
			if err != nil {
				return nil, fmt.Errorf("tracking: apply delta at chunk %d: %w", h.ChunkID, err)
			}

		case logformat.ChunkUser:
			if h.TrailerSize > 0 {
				trailerPos := dataPos + int64(h.DataSize)
				trailer := make([]byte, h.TrailerSize)
				if _, err := p.ReadAt(trailer, trailerPos); err != nil {
					return nil, fmt.Errorf("tracking: read trailer at chunk %d: %w", h.ChunkID, err)
				}
				state, err = state.AppendTrailer(h.ChunkID, trailer)
				if err != nil {
					return nil, fmt.Errorf("tracking: apply user trailer at chunk %d: %w", h.ChunkID, err)
				}
			}
		}

		pos += h.TotalSize()
	}

	return state, nil
}

// readEntryBody reads a chunk's data region and unwraps its single
// framed simple entry, returning the entry's raw body.
func readEntryBody(p *segment.Pair, dataPos int64, dataSize uint32) ([]byte, error) {
	data := make([]byte, dataSize)
	if _, err := p.ReadAt(data, dataPos); err != nil {
		return nil, fmt.Errorf("tracking: read chunk data at %d: %w", dataPos, err)
	}
	e, _, err := logformat.DecodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("tracking: decode tracking entry: %w", err)
	}
	return e.Body, nil
}
