// Package acceptor implements the leader-follower reconciliation
// algorithm (spec §4.7): given the leader's chunk-id range and its
// descending (epoch, last-chunk-id-in-epoch) vector, truncate the local
// log to the largest prefix shared with the leader.
package acceptor

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/google/uuid"

	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/segment"
)

// EpochOffset is one entry in the leader's descending epoch vector: the
// highest chunk-id the leader wrote while at Epoch.
type EpochOffset struct {
	Epoch       uint64
	LastChunkID uint64
}

// Range is the leader's reported chunk-id range. Empty is true when the
// leader reports no range at all (an empty log).
type Range struct {
	First uint64
	Last  uint64
	Empty bool
}

// TruncateTo reconciles dir against the leader's remoteRange and
// epochOffsets, returning the surviving segment first-chunk-ids in
// ascending order after truncation (spec §4.7).
func TruncateTo(dir string, remoteRange Range, epochOffsets []EpochOffset, logger *slog.Logger) ([]uint64, error) {
	logger = logging.Default(logger).With("component", "acceptor", "reconcile_id", uuid.NewString())

	sorted := append([]EpochOffset(nil), epochOffsets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Epoch > sorted[j].Epoch })

	segIDs, err := segment.List(dir)
	if err != nil {
		return nil, fmt.Errorf("acceptor: list %s: %w", dir, err)
	}

	localEpoch, localLastChunkID, hasLocal, err := localTail(dir, segIDs, logger)
	if err != nil {
		return nil, err
	}

	for _, eo := range sorted {
		segID, found := segment.ForOffset(segIDs, eo.LastChunkID)
		pastEnd := hasLocal && eo.LastChunkID > localLastChunkID
		if !found || pastEnd {
			if hasLocal && localEpoch == eo.Epoch && localLastChunkID < eo.LastChunkID {
				if !rangesOverlap(segIDs, localLastChunkID, remoteRange) {
					logger.Info("no overlap with leader range, attaching fresh", "local_last", localLastChunkID, "epoch", eo.Epoch)
					if err := deleteAllPairs(dir, segIDs); err != nil {
						return nil, err
					}
					return nil, nil
				}
				return segIDs, nil
			}
			continue
		}

		rec, indexPos, matched, err := scanForExact(dir, segID, eo.LastChunkID, eo.Epoch, logger)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		return truncateAt(dir, segID, rec, indexPos, segIDs, logger)
	}

	logger.Info("no epoch/offset pair matched, diverging everywhere")
	if err := deleteAllPairs(dir, segIDs); err != nil {
		return nil, err
	}
	return nil, nil
}

func localTail(dir string, segIDs []uint64, logger *slog.Logger) (epoch uint64, chunkID uint64, ok bool, err error) {
	if len(segIDs) == 0 {
		return 0, 0, false, nil
	}
	last := segIDs[len(segIDs)-1]
	p, err := segment.OpenForRead(dir, last, logger)
	if err != nil {
		return 0, 0, false, err
	}
	defer p.Close()

	rec, found, err := p.LastIndexRecord()
	if err != nil || !found {
		return 0, 0, false, err
	}
	return rec.Epoch, rec.ChunkID, true, nil
}

func rangesOverlap(segIDs []uint64, localLastChunkID uint64, remote Range) bool {
	if remote.Empty || len(segIDs) == 0 {
		return false
	}
	localFirst := segIDs[0]
	return localFirst <= remote.Last && remote.First <= localLastChunkID
}

func scanForExact(dir string, segID uint64, k uint64, epoch uint64, logger *slog.Logger) (logformat.IndexRecord, int64, bool, error) {
	p, err := segment.OpenForRead(dir, segID, logger)
	if err != nil {
		return logformat.IndexRecord{}, 0, false, err
	}
	defer p.Close()

	count, err := p.ChunkCount()
	if err != nil {
		return logformat.IndexRecord{}, 0, false, err
	}
	for i := int64(0); i < count; i++ {
		pos := logformat.LogHeaderSize + i*logformat.IndexRecordSize
		rec, err := p.IndexRecordAt(pos)
		if err != nil {
			return logformat.IndexRecord{}, 0, false, err
		}
		if rec.ChunkID == k {
			return rec, pos, rec.Epoch == epoch, nil
		}
	}
	return logformat.IndexRecord{}, 0, false, nil
}

func truncateAt(dir string, segID uint64, rec logformat.IndexRecord, indexPos int64, segIDs []uint64, logger *slog.Logger) ([]uint64, error) {
	p, err := segment.OpenForAppend(dir, segID, logger)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	h, err := p.ReadHeaderAt(int64(rec.Position))
	if err != nil {
		return nil, fmt.Errorf("acceptor: read truncation-point header: %w", err)
	}
	if err := p.TruncateSegment(int64(rec.Position) + h.TotalSize()); err != nil {
		return nil, err
	}
	if err := p.TruncateIndex(indexPos + logformat.IndexRecordSize); err != nil {
		return nil, err
	}

	var survivors []uint64
	for _, id := range segIDs {
		if id > rec.ChunkID {
			if err := deletePair(dir, id); err != nil {
				return nil, err
			}
			continue
		}
		survivors = append(survivors, id)
	}
	return survivors, nil
}

func deleteAllPairs(dir string, segIDs []uint64) error {
	for _, id := range segIDs {
		if err := deletePair(dir, id); err != nil {
			return err
		}
	}
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
