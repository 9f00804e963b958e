package resolver

import (
	"testing"

	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/writer"
)

func buildLog(t *testing.T, dir string) (*cells.ChunkIDs, *cells.Counters) {
	t.Helper()
	ids := cells.NewChunkIDs()
	counters := cells.NewCounters()
	w, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, IDs: ids, Counters: counters})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	defer w.Close()

	timestamps := []int64{1000, 2000, 3000, 4000}
	for i, ts := range timestamps {
		if _, err := w.Write([]writer.Entry{{Body: []byte{byte('a' + i)}}}, logformat.ChunkUser, ts, nil); err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
	}
	ids.SetCommitted(ids.Last())
	return ids, counters
}

func TestResolveFirst(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	start, err := Resolve(dir, ids, Spec{Kind: KindFirst}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 0 {
		t.Fatalf("NextChunkID = %d, want 0", start.NextChunkID)
	}
}

func TestResolveNext(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	start, err := Resolve(dir, ids, Spec{Kind: KindNext}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 4 {
		t.Fatalf("NextChunkID = %d, want 4", start.NextChunkID)
	}
}

func TestResolveLastFindsMostRecentUserChunk(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	start, err := Resolve(dir, ids, Spec{Kind: KindLast}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 3 {
		t.Fatalf("NextChunkID = %d, want 3", start.NextChunkID)
	}
}

func TestResolveOffsetClampsAndScans(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	start, err := Resolve(dir, ids, Spec{Kind: KindOffset, Offset: 2}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 2 {
		t.Fatalf("NextChunkID = %d, want 2", start.NextChunkID)
	}

	// Above last+1 falls back to "next".
	start, err = Resolve(dir, ids, Spec{Kind: KindOffset, Offset: 100}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 4 {
		t.Fatalf("NextChunkID = %d, want 4 (next)", start.NextChunkID)
	}
}

func TestResolveAbsRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	if _, err := Resolve(dir, ids, Spec{Kind: KindAbs, Offset: 99}, nil); err != ErrOffsetOutOfRange {
		t.Fatalf("err = %v, want ErrOffsetOutOfRange", err)
	}
}

func TestResolveTimestamp(t *testing.T) {
	dir := t.TempDir()
	ids, _ := buildLog(t, dir)

	start, err := Resolve(dir, ids, Spec{Kind: KindTimestamp, TimestampMs: 2500}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 2 {
		t.Fatalf("NextChunkID = %d, want 2 (first record with ts >= 2500)", start.NextChunkID)
	}

	// Past the newest timestamp resolves to "next".
	start, err = Resolve(dir, ids, Spec{Kind: KindTimestamp, TimestampMs: 9000}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 4 {
		t.Fatalf("NextChunkID = %d, want 4 (next)", start.NextChunkID)
	}

	// Before the oldest timestamp resolves to "first".
	start, err = Resolve(dir, ids, Spec{Kind: KindTimestamp, TimestampMs: 0}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if start.NextChunkID != 0 {
		t.Fatalf("NextChunkID = %d, want 0 (first)", start.NextChunkID)
	}
}
