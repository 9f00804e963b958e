package segment

import (
	"os"
	"sort"

	"chunklog/internal/logformat"
)

// List returns the sorted first-chunk-ids of every complete segment pair
// (both .segment and .index present) in dir. Lexicographic filename order
// equals chronological order (spec §3).
func List(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	segIDs := make(map[uint64]bool)
	idxIDs := make(map[uint64]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := logformat.ParseSegmentFilename(e.Name()); ok {
			segIDs[id] = true
		}
		if id, ok := logformat.ParseIndexFilename(e.Name()); ok {
			idxIDs[id] = true
		}
	}

	var ids []uint64
	for id := range segIDs {
		if idxIDs[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// First returns the smallest first-chunk-id in dir, if any segment pair
// exists.
func First(dir string) (uint64, bool, error) {
	ids, err := List(dir)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// Last returns the largest first-chunk-id in dir, if any segment pair
// exists.
func Last(dir string) (uint64, bool, error) {
	ids, err := List(dir)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// ForOffset returns the first-chunk-id of the segment whose name-encoded
// first-offset is the greatest one ≤ target, among a pre-sorted ascending
// ids slice. Used to locate the segment that would contain chunk-id
// target.
func ForOffset(ids []uint64, target uint64) (uint64, bool) {
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] > target })
	if idx == 0 {
		return 0, false
	}
	return ids[idx-1], true
}

// Next returns the first id in ids that is strictly greater than after.
func Next(ids []uint64, after uint64) (uint64, bool) {
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] > after })
	if idx >= len(ids) {
		return 0, false
	}
	return ids[idx], true
}
