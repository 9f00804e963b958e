// Package resolver maps a reader's public attach specs (first, last,
// next, absolute offset, integer offset, timestamp) to a concrete
// (segment, chunk-id, file position) a reader.Reader can open at
// (spec §4.5), with a bounded retry wrapper absorbing a retention race
// that deletes the target segment mid-scan.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"

	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/reader"
	"chunklog/internal/segment"
)

const maxRetries = 3

var (
	// ErrOffsetOutOfRange is the {abs, k} spec's failure when k falls
	// outside [first, last+1].
	ErrOffsetOutOfRange = errors.New("resolver: offset out of range")
	// errMissingFile signals a retention race the retry wrapper should
	// absorb: the target segment existed when listed but vanished by
	// the time it was opened for scanning.
	errMissingFile = errors.New("resolver: target segment file went missing mid-scan")
	// ErrRetriesExhausted is returned once the retry wrapper has seen
	// errMissingFile on every attempt.
	ErrRetriesExhausted = errors.New("resolver: retries exhausted")
)

// Kind identifies which public attach spec a Spec resolves.
type Kind int

const (
	KindFirst Kind = iota
	KindLast
	KindNext
	KindAbs
	KindOffset
	KindTimestamp
)

// Spec is one public attach spec: Offset is used by KindAbs/KindOffset,
// TimestampMs by KindTimestamp.
type Spec struct {
	Kind        Kind
	Offset      uint64
	TimestampMs int64
}

// Resolve resolves spec against dir's current segment listing and ids,
// retrying up to 3 times if a retention race deletes the target segment
// mid-scan (spec §4.5's "missing_file" retry wrapper).
func Resolve(dir string, ids *cells.ChunkIDs, spec Spec, logger *slog.Logger) (reader.Start, error) {
	logger = logging.Default(logger).With("component", "resolver")

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		start, err := resolveOnce(dir, ids, spec, logger)
		if err == nil {
			return start, nil
		}
		if !errors.Is(err, errMissingFile) {
			return reader.Start{}, err
		}
		lastErr = err
		logger.Warn("retrying resolve after missing_file race", "attempt", attempt+1, "error", err)
	}
	return reader.Start{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func resolveOnce(dir string, ids *cells.ChunkIDs, spec Spec, logger *slog.Logger) (reader.Start, error) {
	segIDs, err := segment.List(dir)
	if err != nil {
		return reader.Start{}, err
	}
	if len(segIDs) == 0 {
		return reader.Start{}, errMissingFile
	}

	switch spec.Kind {
	case KindFirst:
		return resolveFirst(dir, segIDs, logger)
	case KindLast:
		return resolveLast(dir, segIDs, logger)
	case KindNext:
		return resolveNext(dir, segIDs, logger)
	case KindAbs:
		first, last := boundsOrZero(ids)
		if spec.Offset < first || int64(spec.Offset) > last+1 {
			return reader.Start{}, ErrOffsetOutOfRange
		}
		return resolveOffset(dir, segIDs, spec.Offset, logger)
	case KindOffset:
		first, last := boundsOrZero(ids)
		k := spec.Offset
		if k < first {
			k = first
		}
		if int64(k) > last+1 {
			return resolveNext(dir, segIDs, logger)
		}
		return resolveOffset(dir, segIDs, k, logger)
	case KindTimestamp:
		return resolveTimestamp(dir, segIDs, spec.TimestampMs, logger)
	default:
		return reader.Start{}, fmt.Errorf("resolver: unknown attach kind %d", spec.Kind)
	}
}

func boundsOrZero(ids *cells.ChunkIDs) (first uint64, last int64) {
	f := ids.First()
	if f < 0 {
		f = 0
	}
	return uint64(f), ids.Last()
}

func resolveFirst(dir string, segIDs []uint64, logger *slog.Logger) (reader.Start, error) {
	id := segIDs[0]
	p, err := segment.OpenForRead(dir, id, logger)
	if err != nil {
		return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
	}
	defer p.Close()

	rec, ok, err := p.FirstIndexRecord()
	if err != nil {
		return reader.Start{}, err
	}
	if !ok {
		return reader.Start{SegmentFirstChunkID: id, Position: logformat.LogHeaderSize, NextChunkID: id}, nil
	}
	return reader.Start{SegmentFirstChunkID: id, Position: int64(rec.Position), NextChunkID: rec.ChunkID}, nil
}

func resolveNext(dir string, segIDs []uint64, logger *slog.Logger) (reader.Start, error) {
	id := segIDs[len(segIDs)-1]
	p, err := segment.OpenForRead(dir, id, logger)
	if err != nil {
		return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
	}
	defer p.Close()

	rec, ok, err := p.LastIndexRecord()
	if err != nil {
		return reader.Start{}, err
	}
	if !ok {
		return reader.Start{SegmentFirstChunkID: id, Position: logformat.LogHeaderSize, NextChunkID: id}, nil
	}
	h, err := p.ReadHeaderAt(int64(rec.Position))
	if err != nil {
		return reader.Start{}, err
	}
	return reader.Start{
		SegmentFirstChunkID: id,
		Position:            int64(rec.Position) + h.TotalSize(),
		NextChunkID:         rec.ChunkID + uint64(h.RecordCount),
	}, nil
}

func resolveLast(dir string, segIDs []uint64, logger *slog.Logger) (reader.Start, error) {
	for i := len(segIDs) - 1; i >= 0; i-- {
		id := segIDs[i]
		p, err := segment.OpenForRead(dir, id, logger)
		if err != nil {
			return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
		}
		rec, ok, err := lastUserRecord(p)
		p.Close()
		if err != nil {
			return reader.Start{}, err
		}
		if ok {
			return reader.Start{SegmentFirstChunkID: id, Position: int64(rec.Position), NextChunkID: rec.ChunkID}, nil
		}
	}
	return resolveNext(dir, segIDs, logger)
}

func lastUserRecord(p *segment.Pair) (logformat.IndexRecord, bool, error) {
	count, err := p.ChunkCount()
	if err != nil {
		return logformat.IndexRecord{}, false, err
	}
	for i := count - 1; i >= 0; i-- {
		rec, err := p.IndexRecordAt(logformat.LogHeaderSize + i*logformat.IndexRecordSize)
		if err != nil {
			return logformat.IndexRecord{}, false, err
		}
		if rec.Type == logformat.ChunkUser {
			return rec, true, nil
		}
	}
	return logformat.IndexRecord{}, false, nil
}

func resolveOffset(dir string, segIDs []uint64, k uint64, logger *slog.Logger) (reader.Start, error) {
	id, ok := segment.ForOffset(segIDs, k)
	if !ok {
		return reader.Start{}, fmt.Errorf("%w: no segment covers offset %d", errMissingFile, k)
	}
	p, err := segment.OpenForRead(dir, id, logger)
	if err != nil {
		return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
	}
	defer p.Close()

	count, err := p.ChunkCount()
	if err != nil {
		return reader.Start{}, err
	}
	var best logformat.IndexRecord
	found := false
	for i := int64(0); i < count; i++ {
		rec, err := p.IndexRecordAt(logformat.LogHeaderSize + i*logformat.IndexRecordSize)
		if err != nil {
			return reader.Start{}, err
		}
		if rec.ChunkID > k {
			break
		}
		best = rec
		found = true
	}
	if !found {
		return reader.Start{SegmentFirstChunkID: id, Position: logformat.LogHeaderSize, NextChunkID: id}, nil
	}
	return reader.Start{SegmentFirstChunkID: id, Position: int64(best.Position), NextChunkID: best.ChunkID}, nil
}

func resolveTimestamp(dir string, segIDs []uint64, ts int64, logger *slog.Logger) (reader.Start, error) {
	newestID := segIDs[len(segIDs)-1]
	np, err := segment.OpenForRead(dir, newestID, logger)
	if err != nil {
		return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
	}
	lastRec, ok, err := np.LastIndexRecord()
	np.Close()
	if err != nil {
		return reader.Start{}, err
	}
	if ok && ts > lastRec.TimestampMs {
		return resolveNext(dir, segIDs, logger)
	}

	for i := len(segIDs) - 1; i >= 0; i-- {
		id := segIDs[i]
		p, err := segment.OpenForRead(dir, id, logger)
		if err != nil {
			return reader.Start{}, fmt.Errorf("%w: %v", errMissingFile, err)
		}
		first, okFirst, errFirst := p.FirstIndexRecord()
		last, okLast, errLast := p.LastIndexRecord()
		if errFirst != nil {
			p.Close()
			return reader.Start{}, errFirst
		}
		if errLast != nil {
			p.Close()
			return reader.Start{}, errLast
		}
		if !okFirst || !okLast {
			p.Close()
			continue
		}
		if ts < first.TimestampMs || ts > last.TimestampMs {
			p.Close()
			continue
		}

		count, err := p.ChunkCount()
		if err != nil {
			p.Close()
			return reader.Start{}, err
		}
		var match logformat.IndexRecord
		found := false
		for j := int64(0); j < count; j++ {
			rec, err := p.IndexRecordAt(logformat.LogHeaderSize + j*logformat.IndexRecordSize)
			if err != nil {
				p.Close()
				return reader.Start{}, err
			}
			if rec.TimestampMs >= ts {
				match = rec
				found = true
				break
			}
		}
		p.Close()
		if found {
			return reader.Start{SegmentFirstChunkID: id, Position: int64(match.Position), NextChunkID: match.ChunkID}, nil
		}
	}

	return resolveFirst(dir, segIDs, logger)
}
