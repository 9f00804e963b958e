// Package segment implements the segment-pair unit of the log: the
// (first-chunk-id.segment, first-chunk-id.index) file pair holding a
// contiguous run of chunks and their fixed-size index records (spec
// §4.2).
package segment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"chunklog/internal/logformat"
)

var (
	ErrShortChunkRead = errors.New("segment: short read of chunk header")
	ErrShortRecord    = errors.New("segment: short read of index record")
)

// Pair is one open (segment, index) file pair.
type Pair struct {
	FirstChunkID uint64
	dir          string

	seg *os.File
	idx *os.File

	logger *slog.Logger
}

// Path returns the segment file's path for firstChunkID under dir.
func Path(dir string, firstChunkID uint64) string {
	return dir + string(os.PathSeparator) + logformat.SegmentFilename(firstChunkID)
}

// IndexPath returns the index file's path for firstChunkID under dir.
func IndexPath(dir string, firstChunkID uint64) string {
	return dir + string(os.PathSeparator) + logformat.IndexFilename(firstChunkID)
}

// Create makes a brand-new, empty segment pair named by firstChunkID,
// writing the 8-byte file headers to both files, and opens it for
// append.
func Create(dir string, firstChunkID uint64, logger *slog.Logger) (*Pair, error) {
	segPath := Path(dir, firstChunkID)
	idxPath := IndexPath(dir, firstChunkID)

	seg, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: create %s: %w", segPath, err)
	}
	idx, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		seg.Close()
		os.Remove(segPath)
		return nil, fmt.Errorf("segment: create %s: %w", idxPath, err)
	}

	hdr := make([]byte, logformat.LogHeaderSize)
	logformat.EncodeSegmentHeader(hdr)
	if _, err := seg.Write(hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: write segment header: %w", err)
	}
	logformat.EncodeIndexHeader(hdr)
	if _, err := idx.Write(hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: write index header: %w", err)
	}

	return &Pair{FirstChunkID: firstChunkID, dir: dir, seg: seg, idx: idx, logger: logger}, nil
}

// OpenForAppend opens an existing segment pair for read/write, validating
// both file headers.
func OpenForAppend(dir string, firstChunkID uint64, logger *slog.Logger) (*Pair, error) {
	return open(dir, firstChunkID, os.O_RDWR, logger)
}

// OpenForRead opens an existing segment pair read-only, validating both
// file headers.
func OpenForRead(dir string, firstChunkID uint64, logger *slog.Logger) (*Pair, error) {
	return open(dir, firstChunkID, os.O_RDONLY, logger)
}

func open(dir string, firstChunkID uint64, flag int, logger *slog.Logger) (*Pair, error) {
	segPath := Path(dir, firstChunkID)
	idxPath := IndexPath(dir, firstChunkID)

	seg, err := os.OpenFile(segPath, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open %s: %w", segPath, err)
	}
	idx, err := os.OpenFile(idxPath, flag, 0o644)
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("segment: open %s: %w", idxPath, err)
	}

	hdr := make([]byte, logformat.LogHeaderSize)
	if _, err := io.ReadFull(seg, hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: read segment header: %w", err)
	}
	if err := logformat.DecodeSegmentHeader(hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: %s: %w", segPath, err)
	}
	if _, err := io.ReadFull(idx, hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: read index header: %w", err)
	}
	if err := logformat.DecodeIndexHeader(hdr); err != nil {
		seg.Close()
		idx.Close()
		return nil, fmt.Errorf("segment: %s: %w", idxPath, err)
	}

	return &Pair{FirstChunkID: firstChunkID, dir: dir, seg: seg, idx: idx, logger: logger}, nil
}

// Close closes both files.
func (p *Pair) Close() error {
	segErr := p.seg.Close()
	idxErr := p.idx.Close()
	if segErr != nil {
		return segErr
	}
	return idxErr
}

// SegmentSize returns the current on-disk size of the segment file.
func (p *Pair) SegmentSize() (int64, error) {
	info, err := p.seg.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// IndexSize returns the current on-disk size of the index file.
func (p *Pair) IndexSize() (int64, error) {
	info, err := p.idx.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ChunkCount returns the number of index records currently on disk,
// aligning the index file's size to a record boundary first (§4.9).
func (p *Pair) ChunkCount() (int64, error) {
	size, err := p.IndexSize()
	if err != nil {
		return 0, err
	}
	aligned := AlignIndexSize(size)
	return (aligned - logformat.LogHeaderSize) / logformat.IndexRecordSize, nil
}

// AlignIndexSize rounds size down to the nearest complete index record
// boundary after the 8-byte header, guarding against a concurrently
// extended file (spec §9, "position-then-read race on growing files"):
// pos - (pos - header_size) mod 29.
func AlignIndexSize(size int64) int64 {
	if size < logformat.LogHeaderSize {
		return logformat.LogHeaderSize
	}
	rem := (size - logformat.LogHeaderSize) % logformat.IndexRecordSize
	return size - rem
}

// ReadHeaderAt reads and parses the 56-byte chunk header at the given
// segment file position.
func (p *Pair) ReadHeaderAt(pos int64) (logformat.ChunkHeader, error) {
	buf := make([]byte, logformat.ChunkHeaderSize)
	n, err := p.seg.ReadAt(buf, pos)
	if n < len(buf) {
		return logformat.ChunkHeader{}, fmt.Errorf("%w: at %d: %w", ErrShortChunkRead, pos, err)
	}
	return logformat.Decode(buf)
}

// ReadBloomAt reads size bytes of bloom-filter data located right after
// the header at pos.
func (p *Pair) ReadBloomAt(pos int64, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := p.seg.ReadAt(buf, pos); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt reads exactly len(buf) bytes from the segment at pos.
func (p *Pair) ReadAt(buf []byte, pos int64) (int, error) {
	return p.seg.ReadAt(buf, pos)
}

// AppendChunk writes full on-disk chunk bytes (header‖bloom‖data‖trailer)
// to the segment at its current end, then appends the corresponding
// 29-byte index record. It returns the segment position the chunk was
// written at.
func (p *Pair) AppendChunk(chunkBytes []byte, rec logformat.IndexRecord) (int64, error) {
	pos, err := p.SegmentSize()
	if err != nil {
		return 0, err
	}
	if _, err := p.seg.WriteAt(chunkBytes, pos); err != nil {
		return 0, fmt.Errorf("segment: append chunk: %w", err)
	}
	rec.Position = uint32(pos)

	idxBuf := make([]byte, logformat.IndexRecordSize)
	rec.Encode(idxBuf)
	idxPos, err := p.IndexSize()
	if err != nil {
		return 0, err
	}
	if _, err := p.idx.WriteAt(idxBuf, idxPos); err != nil {
		return 0, fmt.Errorf("segment: append index record: %w", err)
	}
	return pos, nil
}

// TruncateSegment truncates the segment file to size bytes.
func (p *Pair) TruncateSegment(size int64) error { return p.seg.Truncate(size) }

// TruncateIndex truncates the index file to size bytes.
func (p *Pair) TruncateIndex(size int64) error { return p.idx.Truncate(size) }

// IndexRecordAt reads the index record at byte offset pos.
func (p *Pair) IndexRecordAt(pos int64) (logformat.IndexRecord, error) {
	buf := make([]byte, logformat.IndexRecordSize)
	if _, err := p.idx.ReadAt(buf, pos); err != nil {
		return logformat.IndexRecord{}, fmt.Errorf("%w: at %d: %w", ErrShortRecord, pos, err)
	}
	return logformat.DecodeIndexRecord(buf)
}

// FirstIndexRecord reads the first record in the index file, if any.
func (p *Pair) FirstIndexRecord() (logformat.IndexRecord, bool, error) {
	size, err := p.IndexSize()
	if err != nil {
		return logformat.IndexRecord{}, false, err
	}
	if AlignIndexSize(size) <= logformat.LogHeaderSize {
		return logformat.IndexRecord{}, false, nil
	}
	rec, err := p.IndexRecordAt(logformat.LogHeaderSize)
	if err != nil {
		return logformat.IndexRecord{}, false, err
	}
	return rec, true, nil
}

// LastIndexRecord reads the last complete record in the index file, if
// any, after aligning the file's size to a record boundary.
func (p *Pair) LastIndexRecord() (logformat.IndexRecord, bool, error) {
	size, err := p.IndexSize()
	if err != nil {
		return logformat.IndexRecord{}, false, err
	}
	aligned := AlignIndexSize(size)
	if aligned <= logformat.LogHeaderSize {
		return logformat.IndexRecord{}, false, nil
	}
	rec, err := p.IndexRecordAt(aligned - logformat.IndexRecordSize)
	if err != nil {
		return logformat.IndexRecord{}, false, err
	}
	return rec, true, nil
}

// Dir returns the directory the pair lives in.
func (p *Pair) Dir() string { return p.dir }

// File exposes the underlying segment file for callers that need to hand
// its file descriptor to a zero-copy transfer (internal/transport's tcp
// send_file path).
func (p *Pair) File() *os.File { return p.seg }
