// Package writer implements the write path of the log: chunk assembly,
// CRC protection, segment rollover, index maintenance, and the
// replication accept_chunk path (spec §4.3).
package writer

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"

	"chunklog/internal/bloom"
	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/recovery"
	"chunklog/internal/segment"
	"chunklog/internal/tracking"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

const bloomHashCount = 4

// Entry is one input to Write: either a simple record (Body, with an
// optional FilterValue folded into the chunk's Bloom filter before
// framing) or an opaque sub-batch passthrough the engine never
// decompresses.
type Entry struct {
	IsBatch bool

	Body        []byte
	FilterValue []byte // simple entries only; nil inserts the empty string

	NumRecords      uint16 // sub-batch only
	CompressionType logformat.CompressionType
	UncompressedLen uint32
}

func (e Entry) recordCount() uint32 {
	if e.IsBatch {
		return uint32(e.NumRecords)
	}
	return 1
}

// TailInfo is the writer's cached view of where the next chunk will
// land and what the previous chunk looked like, per the glossary's
// "tail-info" definition.
type TailInfo struct {
	NextChunkID uint64

	HasLast         bool
	LastEpoch       uint64
	LastChunkID     uint64
	LastTimestampMs int64
}

// Writer owns the active segment pair for one log and appends to it.
// Exactly one Writer exists per log; it is not safe to share across
// goroutines without relying on its own internal locking, which it
// provides.
type Writer struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger

	dir     string
	epoch   uint64
	pair    *segment.Pair
	segIDs  []uint64
	segSize int64
	segCnt  int64

	tail TailInfo

	tracking *tracking.State

	ids      *cells.ChunkIDs
	counters *cells.Counters
}

// Open recovers dir (if needed) and opens the log for append, enforcing
// the epoch invariant from §4.3.
func Open(cfg Config) (*Writer, error) {
	cfg.setDefaults()
	logger := logging.Default(cfg.Logger).With("component", "writer", "log", cfg.Name)

	result, err := recovery.Repair(cfg.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("writer: recover %s: %w", cfg.Dir, err)
	}

	if result.HasLastChunk && result.LastChunkEpoch > cfg.Epoch {
		return nil, &InvalidEpochError{Found: result.LastChunkEpoch, Configured: cfg.Epoch}
	}

	lastID := result.SegmentIDs[len(result.SegmentIDs)-1]
	pair, err := segment.OpenForAppend(cfg.Dir, lastID, logger)
	if err != nil {
		return nil, fmt.Errorf("writer: open last pair %d: %w", lastID, err)
	}

	segSize, err := pair.SegmentSize()
	if err != nil {
		pair.Close()
		return nil, err
	}
	segCnt, err := pair.ChunkCount()
	if err != nil {
		pair.Close()
		return nil, err
	}

	tail := TailInfo{NextChunkID: 0}
	if result.HasLastChunk {
		tail.NextChunkID = result.LastChunkID + uint64(result.LastChunkRecordCount)
		tail.HasLast = true
		tail.LastEpoch = result.LastChunkEpoch
		tail.LastChunkID = result.LastChunkID
		tail.LastTimestampMs = result.LastChunkTimestampMs
	}

	trackState, err := tracking.Recover(cfg.Dir, lastID, cfg.TrackingConfig, logger)
	if err != nil {
		pair.Close()
		return nil, fmt.Errorf("writer: recover tracking: %w", err)
	}

	if tail.HasLast {
		cfg.IDs.SetLast(int64(tail.LastChunkID))
	}
	if result.HasFirstChunk {
		cfg.IDs.SetFirst(int64(result.FirstChunkID))
		cfg.Counters.SetFirstOffset(int64(result.FirstChunkID))
		cfg.Counters.SetFirstTimestamp(result.FirstTimestampMs)
	}
	cfg.Counters.SetOffset(int64(tail.NextChunkID))
	cfg.Counters.SetSegments(int64(len(result.SegmentIDs)))

	w := &Writer{
		cfg:      cfg,
		logger:   logger,
		dir:      cfg.Dir,
		epoch:    cfg.Epoch,
		pair:     pair,
		segIDs:   result.SegmentIDs,
		segSize:  segSize,
		segCnt:   segCnt,
		tail:     tail,
		tracking: trackState,
		ids:      cfg.IDs,
		counters: cfg.Counters,
	}
	return w, nil
}

// Close closes the active segment pair.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pair.Close()
}

// Tail returns a copy of the writer's current tail-info.
func (w *Writer) Tail() TailInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tail
}

// Write assembles entries into one chunk, appends it, and rolls the
// segment over if thresholds are met. trailer, if non-nil, is appended
// verbatim as the chunk's trailer region.
func (w *Writer) Write(entries []Entry, chunkType logformat.ChunkType, timestampMs int64, trailer []byte) (TailInfo, error) {
	if len(entries) == 0 {
		return TailInfo{}, fmt.Errorf("writer: write requires at least one entry")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	data, entryCount, recordCount, bloomState, err := w.assemble(entries)
	if err != nil {
		return TailInfo{}, err
	}

	wouldRoll := w.segCnt+1 > w.cfg.MaxSegmentSizeChunks ||
		w.segSize+logformat.ChunkHeaderSize+int64(len(data)) > w.cfg.MaxSegmentSizeBytes

	if wouldRoll && !w.tracking.IsEmpty() {
		if err := w.writeSnapshotChunkLocked(); err != nil {
			return TailInfo{}, err
		}
	}

	chunkID := w.tail.NextChunkID
	if err := w.appendChunkLocked(chunkType, chunkID, timestampMs, w.epoch, entryCount, recordCount, data, bloomState, trailer); err != nil {
		return TailInfo{}, err
	}

	if chunkType == logformat.ChunkUser && len(trailer) > 0 {
		if _, err := w.tracking.AppendTrailer(chunkID, trailer); err != nil {
			w.logger.Warn("failed to fold trailer into tracking state", "chunk_id", chunkID, "error", err)
		}
	}

	w.tail.NextChunkID = chunkID + uint64(recordCount)
	w.tail.HasLast = true
	w.tail.LastEpoch = w.epoch
	w.tail.LastChunkID = chunkID
	w.tail.LastTimestampMs = timestampMs

	w.counters.SetOffset(int64(w.tail.NextChunkID))
	w.counters.AddChunks(1)
	w.ids.SetLast(int64(chunkID))
	if w.ids.First() < 0 {
		w.ids.SetFirst(int64(chunkID))
		w.counters.SetFirstOffset(int64(chunkID))
		w.counters.SetFirstTimestamp(timestampMs)
	}

	if w.segCnt > w.cfg.MaxSegmentSizeChunks || w.segSize > w.cfg.MaxSegmentSizeBytes {
		if err := w.rolloverLocked(); err != nil {
			return TailInfo{}, err
		}
	}

	return w.tail, nil
}

// assemble folds entries into a single framed data region, accumulating
// entry/record counts and a Bloom filter over simple entries' filter
// values (spec §4.3 step 1).
func (w *Writer) assemble(entries []Entry) ([]byte, uint16, uint32, *bloom.State, error) {
	var data []byte
	var entryCount uint16
	var recordCount uint32

	var bs *bloom.State
	if w.cfg.FilterSize > 0 {
		bs = bloom.NewFromSize(w.cfg.FilterSize, bloomHashCount)
	}

	for _, e := range entries {
		if e.IsBatch {
			data = append(data, logformat.EncodeSubBatch(e.NumRecords, e.CompressionType, e.UncompressedLen, e.Body)...)
		} else {
			framed, err := logformat.EncodeSimple(e.Body)
			if err != nil {
				return nil, 0, 0, nil, fmt.Errorf("writer: entry body too large: %w", err)
			}
			data = append(data, framed...)
			if bs != nil {
				bs.Insert(e.FilterValue)
			}
		}
		entryCount++
		recordCount += e.recordCount()
	}

	return data, entryCount, recordCount, bs, nil
}

func (w *Writer) writeSnapshotChunkLocked() error {
	firstOffset := uint64(w.counters.FirstOffset())
	firstTimestamp := w.counters.FirstTimestamp()
	snapshotBytes, newState := w.tracking.Snapshot(firstOffset, firstTimestamp)
	w.tracking = newState

	framed, err := logformat.EncodeSimple(snapshotBytes)
	if err != nil {
		return fmt.Errorf("writer: encode tracking snapshot: %w", err)
	}

	chunkID := w.tail.NextChunkID
	if err := w.appendChunkLocked(logformat.ChunkTrkSnapshot, chunkID, w.tail.LastTimestampMs, w.epoch, 1, 0, framed, nil, nil); err != nil {
		return fmt.Errorf("writer: write tracking snapshot: %w", err)
	}
	return nil
}

func (w *Writer) appendChunkLocked(
	chunkType logformat.ChunkType,
	chunkID uint64,
	timestampMs int64,
	epoch uint64,
	entryCount uint16,
	recordCount uint32,
	data []byte,
	bs *bloom.State,
	trailer []byte,
) error {
	var bloomBytes []byte
	var bloomSize uint8
	if bs != nil {
		bloomBytes = bs.ToBinary()
		bloomSize = uint8(bs.Size())
	}

	h := logformat.ChunkHeader{
		Type:        chunkType,
		EntryCount:  entryCount,
		RecordCount: recordCount,
		TimestampMs: timestampMs,
		Epoch:       epoch,
		ChunkID:     chunkID,
		CRC:         crc32.Checksum(data, castagnoliTable),
		DataSize:    uint32(len(data)),
		TrailerSize: uint32(len(trailer)),
		BloomSize:   bloomSize,
	}

	buf := make([]byte, 0, logformat.ChunkHeaderSize+len(bloomBytes)+len(data)+len(trailer))
	headerBuf := make([]byte, logformat.ChunkHeaderSize)
	h.Encode(headerBuf)
	buf = append(buf, headerBuf...)
	buf = append(buf, bloomBytes...)
	buf = append(buf, data...)
	buf = append(buf, trailer...)

	rec := logformat.IndexRecord{ChunkID: chunkID, TimestampMs: timestampMs, Epoch: epoch, Type: chunkType}
	if _, err := w.pair.AppendChunk(buf, rec); err != nil {
		return fmt.Errorf("writer: append chunk %d: %w", chunkID, err)
	}

	w.segSize += int64(len(buf))
	w.segCnt++
	return nil
}

func (w *Writer) rolloverLocked() error {
	nextID := w.tail.NextChunkID
	w.logger.Info("rolling segment", "next_chunk_id", nextID)

	if err := w.pair.Close(); err != nil {
		return fmt.Errorf("writer: close segment before rollover: %w", err)
	}

	newPair, err := segment.Create(w.dir, nextID, w.logger)
	if err != nil {
		return fmt.Errorf("writer: create new segment %d: %w", nextID, err)
	}

	w.pair = newPair
	w.segIDs = append(w.segIDs, nextID)
	w.segSize = logformat.LogHeaderSize
	w.segCnt = 0
	w.counters.AddSegments(1)

	if w.cfg.OnRollover != nil {
		go w.cfg.OnRollover()
	}
	return nil
}

// AcceptChunk implements the replication accept path (spec §4.3): bytes
// must be a fully-framed chunk (header‖bloom‖data‖trailer) as produced by
// the leader's writer. AcceptChunk validates the chunk-id and CRC, then
// appends it unchanged.
func (w *Writer) AcceptChunk(chunkBytes []byte) (TailInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, err := logformat.Decode(chunkBytes)
	if err != nil {
		return TailInfo{}, &InvalidChunkHeaderError{Err: err}
	}

	if h.ChunkID != w.tail.NextChunkID {
		return TailInfo{}, &AcceptOutOfOrderError{Seen: h.ChunkID, Expected: w.tail.NextChunkID}
	}

	dataStart := logformat.ChunkHeaderSize + int(h.BloomSize)
	dataEnd := dataStart + int(h.DataSize)
	if dataEnd > len(chunkBytes) {
		return TailInfo{}, &InvalidChunkHeaderError{Err: fmt.Errorf("chunk body shorter than header declares")}
	}
	if crc32.Checksum(chunkBytes[dataStart:dataEnd], castagnoliTable) != h.CRC {
		return TailInfo{}, &CRCValidationError{ChunkID: h.ChunkID}
	}

	rec := logformat.IndexRecord{ChunkID: h.ChunkID, TimestampMs: h.TimestampMs, Epoch: h.Epoch, Type: h.Type}
	if _, err := w.pair.AppendChunk(chunkBytes, rec); err != nil {
		return TailInfo{}, fmt.Errorf("writer: accept_chunk append: %w", err)
	}
	w.segSize += int64(len(chunkBytes))
	w.segCnt++

	w.tail.NextChunkID = h.ChunkID + uint64(h.RecordCount)
	w.tail.HasLast = true
	w.tail.LastEpoch = h.Epoch
	w.tail.LastChunkID = h.ChunkID
	w.tail.LastTimestampMs = h.TimestampMs
	w.epoch = h.Epoch

	w.counters.SetOffset(int64(w.tail.NextChunkID))
	w.counters.AddChunks(1)
	w.ids.SetLast(int64(h.ChunkID))
	if w.ids.First() < 0 {
		w.ids.SetFirst(int64(h.ChunkID))
	}

	if w.segCnt > w.cfg.MaxSegmentSizeChunks || w.segSize > w.cfg.MaxSegmentSizeBytes {
		if err := w.rolloverLocked(); err != nil {
			return TailInfo{}, err
		}
	}

	return w.tail, nil
}
