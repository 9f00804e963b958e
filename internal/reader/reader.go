// Package reader implements the shared byte-stream engine behind the two
// reader variants (spec §4.4): the data-replication reader and the
// offset-consumer reader, plus timestamp/offset seek via internal/resolver
// attaching a starting position.
package reader

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"chunklog/internal/bloom"
	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/segment"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Start is the resolved starting position a caller (typically
// internal/resolver) hands to Open: which segment, which chunk-id is
// expected next, and the byte position within that segment.
type Start struct {
	SegmentFirstChunkID uint64
	Position            int64
	NextChunkID         uint64
}

// Reader streams chunks from a log directory starting at a resolved
// position, advancing across segment rollovers and retention-driven
// segment deletion transparently.
type Reader struct {
	cfg    Config
	logger *slog.Logger

	dir  string
	pair *segment.Pair
	pos  int64

	nextChunkID uint64

	ids      *cells.ChunkIDs
	counters *cells.Counters

	closed bool
}

// Open resolves dir's current segment list and opens the pair named by
// start.SegmentFirstChunkID for reading, positioned at start.Position.
func Open(cfg Config, start Start) (*Reader, error) {
	logger := logging.Default(cfg.Logger).With("component", "reader", "log", cfg.Name, "mode", modeString(cfg.Mode))

	pair, err := segment.OpenForRead(cfg.Dir, start.SegmentFirstChunkID, logger)
	if err != nil {
		return nil, fmt.Errorf("reader: open %d: %w", start.SegmentFirstChunkID, err)
	}

	r := &Reader{
		cfg:         cfg,
		logger:      logger,
		dir:         cfg.Dir,
		pair:        pair,
		pos:         start.Position,
		nextChunkID: start.NextChunkID,
		ids:         cfg.IDs,
		counters:    cfg.Counters,
	}
	if cfg.ReadersCounterFn != nil {
		cfg.ReadersCounterFn(1)
	}
	return r, nil
}

func modeString(m Mode) string {
	if m == OffsetMode {
		return "offset"
	}
	return "data"
}

// Close releases the reader's open segment pair.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cfg.ReadersCounterFn != nil {
		r.cfg.ReadersCounterFn(-1)
	}
	return r.pair.Close()
}

// NextChunkID returns the chunk-id the reader expects to find at its
// current position.
func (r *Reader) NextChunkID() uint64 { return r.nextChunkID }

func (r *Reader) canReadNextChunkID() bool {
	if r.cfg.Mode == DataMode {
		return int64(r.nextChunkID) <= r.ids.Last()
	}
	return int64(r.nextChunkID) <= r.ids.Committed()
}

// NextHeader runs the header-streaming algorithm (spec §4.4 steps 1-6):
// it skips chunks the matcher rejects, follows rollover into later
// segments, and returns the chunk-id's header once matched (or once no
// filter is configured). matcher may be nil (no filter: every chunk
// matches) and may be replaced by the caller between calls to retry the
// same header against a different filter without having advanced state.
func (r *Reader) NextHeader(matcher *bloom.Matcher) (logformat.ChunkHeader, error) {
	for {
		if !r.canReadNextChunkID() {
			return logformat.ChunkHeader{}, ErrEndOfStream
		}

		h, err := r.pair.ReadHeaderAt(r.pos)
		if err != nil {
			advanced, aerr := r.advanceSegment()
			if aerr != nil {
				return logformat.ChunkHeader{}, aerr
			}
			if !advanced {
				return logformat.ChunkHeader{}, ErrEndOfStream
			}
			continue
		}

		if h.ChunkID != r.nextChunkID {
			return logformat.ChunkHeader{}, &UnexpectedChunkIDError{Seen: h.ChunkID, Expected: r.nextChunkID}
		}

		if !r.selectorAccepts(h.Type) {
			r.advanceWithin(h)
			continue
		}

		bloomBytes, err := r.pair.ReadBloomAt(r.pos+logformat.ChunkHeaderSize, int(h.BloomSize))
		if err != nil {
			return logformat.ChunkHeader{}, fmt.Errorf("reader: read bloom filter: %w", err)
		}

		result := bloom.NoFilter
		if matcher != nil {
			result = matcher.IsMatch(bloomBytes)
		}
		if result == bloom.NoMatch {
			r.advanceWithin(h)
			continue
		}

		return h, nil
	}
}

func (r *Reader) selectorAccepts(t logformat.ChunkType) bool {
	if r.cfg.Mode == DataMode || r.cfg.ChunkSelector == All {
		return true
	}
	return t == logformat.ChunkUser
}

func (r *Reader) advanceWithin(h logformat.ChunkHeader) {
	r.pos += logformat.ChunkHeaderSize + int64(h.BloomSize) + int64(h.DataSize) + int64(h.TrailerSize)
	r.nextChunkID += uint64(h.RecordCount)
}

// advanceSegment implements step 6: locate the segment that should now
// hold r.nextChunkID (accounting for retention having deleted earlier
// segments out from under a lagging reader, hence the max against
// first_chunk_id), open it, and reset position to the segment header. It
// reports advanced=false when that segment is the one already open,
// signaling end_of_stream to the caller.
func (r *Reader) advanceSegment() (bool, error) {
	ids, err := segment.List(r.dir)
	if err != nil {
		return false, fmt.Errorf("reader: list %s: %w", r.dir, err)
	}

	target := r.nextChunkID
	if first := r.ids.First(); first >= 0 && uint64(first) > target {
		target = uint64(first)
	}

	newID, ok := segment.ForOffset(ids, target)
	if !ok {
		return false, nil
	}
	if newID == r.pair.FirstChunkID {
		return false, nil
	}

	newPair, err := segment.OpenForRead(r.dir, newID, r.logger)
	if err != nil {
		return false, fmt.Errorf("reader: open next segment %d: %w", newID, err)
	}
	r.pair.Close()
	r.pair = newPair
	r.pos = logformat.LogHeaderSize
	if newID > r.nextChunkID {
		r.nextChunkID = newID
	}
	return true, nil
}

// ReadChunk returns the raw header, data and trailer bytes for the chunk
// at the reader's current position, validating CRC, then advances past
// it (spec §4.4 "read_chunk").
func (r *Reader) ReadChunk(matcher *bloom.Matcher) (logformat.ChunkHeader, []byte, []byte, error) {
	h, err := r.NextHeader(matcher)
	if err != nil {
		return logformat.ChunkHeader{}, nil, nil, err
	}

	dataStart := r.pos + logformat.ChunkHeaderSize + int64(h.BloomSize)
	data := make([]byte, h.DataSize)
	if _, err := r.pair.ReadAt(data, dataStart); err != nil {
		return logformat.ChunkHeader{}, nil, nil, fmt.Errorf("reader: read data: %w", err)
	}
	if crc32.Checksum(data, castagnoliTable) != h.CRC {
		return logformat.ChunkHeader{}, nil, nil, &CRCValidationError{ChunkID: h.ChunkID}
	}

	var trailer []byte
	if h.TrailerSize > 0 {
		trailer = make([]byte, h.TrailerSize)
		if _, err := r.pair.ReadAt(trailer, dataStart+int64(h.DataSize)); err != nil {
			return logformat.ChunkHeader{}, nil, nil, fmt.Errorf("reader: read trailer: %w", err)
		}
	}

	r.advanceWithin(h)
	return h, data, trailer, nil
}

// ReadChunkParsed additionally splits the data region into its framed
// entries (spec §4.4 "read_chunk_parsed"). Sub-batch bodies are returned
// opaque, never decompressed.
func (r *Reader) ReadChunkParsed(matcher *bloom.Matcher) (logformat.ChunkHeader, []logformat.Entry, []byte, error) {
	h, data, trailer, err := r.ReadChunk(matcher)
	if err != nil {
		return logformat.ChunkHeader{}, nil, nil, err
	}
	entries, err := logformat.DecodeAllEntries(data)
	if err != nil {
		return logformat.ChunkHeader{}, nil, nil, fmt.Errorf("reader: decode entries: %w", err)
	}
	return h, entries, trailer, nil
}

// Dir returns the log directory the reader streams from.
func (r *Reader) Dir() string { return r.dir }

// SegmentFile returns the *os.File backing the reader's current segment,
// for a caller driving transport.SendFile directly.
func (r *Reader) SegmentFile() *os.File { return r.pair.File() }

// Position returns the reader's current byte offset within its open
// segment file.
func (r *Reader) Position() int64 { return r.pos }

// ChunkBodyRange returns the on-disk byte range send_file should transfer
// for the already-matched header at the reader's current position: for
// an offset reader, only the data portion of USER chunks (skipping the
// trailer); for a data reader, the entire filter+data+trailer region
// (spec §4.4 "send_file").
func (r *Reader) ChunkBodyRange(h logformat.ChunkHeader) (offset int64, length int64) {
	headerEnd := r.pos + logformat.ChunkHeaderSize
	if r.cfg.Mode == OffsetMode && h.Type == logformat.ChunkUser {
		return headerEnd + int64(h.BloomSize), int64(h.DataSize)
	}
	return headerEnd, int64(h.BloomSize) + int64(h.DataSize) + int64(h.TrailerSize)
}
