package tracking_test

import (
	"testing"

	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/tracking"
	"chunklog/internal/writer"
)

func TestRecoverFoldsUserTrailerWithinSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	trailer := logformat.TrackingEntry{Type: logformat.TrackingOffset, ID: []byte("consumer-a"), Data: 5}.Encode()
	if _, err := w.Write([]writer.Entry{{Body: []byte("a")}}, logformat.ChunkUser, 1000, trailer); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	s, err := tracking.Recover(dir, 0, tracking.Config{}, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, ok := s.Get(logformat.TrackingOffset, []byte("consumer-a"))
	if !ok || got != 5 {
		t.Fatalf("Get = (%d, %v), want (5, true)", got, ok)
	}
}

func TestRecoverResetsFromSnapshotThenAppliesLaterDelta(t *testing.T) {
	dir := t.TempDir()
	w, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, MaxSegmentSizeChunks: 1, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}

	first := logformat.TrackingEntry{Type: logformat.TrackingOffset, ID: []byte("consumer-a"), Data: 1}.Encode()
	if _, err := w.Write([]writer.Entry{{Body: []byte("a")}}, logformat.ChunkUser, 1000, first); err != nil {
		t.Fatalf("Write #1: %v", err)
	}
	// Chunk-count threshold of 1 forces a TRK_SNAPSHOT ahead of the
	// second write, folding the first trailer's entry into the snapshot.
	second := logformat.TrackingEntry{Type: logformat.TrackingOffset, ID: []byte("consumer-b"), Data: 9}.Encode()
	if _, err := w.Write([]writer.Entry{{Body: []byte("b")}}, logformat.ChunkUser, 2000, second); err != nil {
		t.Fatalf("Write #2: %v", err)
	}
	w.Close()

	s, err := tracking.Recover(dir, 0, tracking.Config{}, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	gotA, ok := s.Get(logformat.TrackingOffset, []byte("consumer-a"))
	if !ok || gotA != 1 {
		t.Fatalf("Get consumer-a = (%d, %v), want (1, true)", gotA, ok)
	}
	gotB, ok := s.Get(logformat.TrackingOffset, []byte("consumer-b"))
	if !ok || gotB != 9 {
		t.Fatalf("Get consumer-b = (%d, %v), want (9, true)", gotB, ok)
	}
}

func TestRecoverEmptySegmentYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	w, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	w.Close()

	s, err := tracking.Recover(dir, 0, tracking.Config{}, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !s.IsEmpty() {
		t.Fatal("expected empty state from a segment with no chunks")
	}
}
