package retention

import (
	"testing"
	"time"

	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/segment"
	"chunklog/internal/writer"
)

func buildSegments(t *testing.T, dir string, timestamps []int64) {
	t.Helper()
	w, err := writer.Open(writer.Config{
		Dir:                  dir,
		Name:                 "test",
		Epoch:                1,
		MaxSegmentSizeChunks: 1,
		IDs:                  cells.NewChunkIDs(),
		Counters:             cells.NewCounters(),
	})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	defer w.Close()

	for i, ts := range timestamps {
		if _, err := w.Write([]writer.Entry{{Body: []byte{byte('a' + i)}}}, logformat.ChunkUser, ts, nil); err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
	}
}

func TestTTLPolicyEvictsOlderSegmentsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	buildSegments(t, dir, []int64{1000, 2000, 3000})

	segIDs, err := segment.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(segIDs) != 3 {
		t.Fatalf("segIDs = %v, want 3 segments", segIDs)
	}

	now := time.UnixMilli(3000 + 10_000)
	deleted, err := Evaluate(dir, NewTTLPolicy(5*time.Second), now, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 segments", deleted)
	}

	segIDs, err = segment.List(dir)
	if err != nil {
		t.Fatalf("List after Evaluate: %v", err)
	}
	if len(segIDs) != 1 {
		t.Fatalf("segIDs = %v, want exactly the newest segment left", segIDs)
	}
}

func TestTTLPolicyNeverEvictsNewest(t *testing.T) {
	dir := t.TempDir()
	buildSegments(t, dir, []int64{1000})

	deleted, err := Evaluate(dir, NewTTLPolicy(time.Millisecond), time.UnixMilli(999_999_999), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deleted = %v, want nothing (sole segment is the newest)", deleted)
	}

	segIDs, err := segment.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(segIDs) != 1 {
		t.Fatalf("segIDs = %v, want the sole segment kept", segIDs)
	}
}

func TestSizePolicyEvictsOldestOnceOverBudget(t *testing.T) {
	dir := t.TempDir()
	buildSegments(t, dir, []int64{1000, 2000, 3000})

	segIDs, err := segment.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(segIDs) != 3 {
		t.Fatalf("segIDs = %v, want 3 segments", segIDs)
	}

	state, err := Snapshot(dir, time.UnixMilli(0), nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	newest := state.Segments[len(state.Segments)-1].Bytes

	deleted, err := Evaluate(dir, NewSizePolicy(newest), time.UnixMilli(0), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 segments", deleted)
	}

	segIDs, err = segment.List(dir)
	if err != nil {
		t.Fatalf("List after Evaluate: %v", err)
	}
	if len(segIDs) != 1 {
		t.Fatalf("segIDs = %v, want only the newest segment left", segIDs)
	}
}

func TestCompositePolicyUnionsDecisions(t *testing.T) {
	dir := t.TempDir()
	buildSegments(t, dir, []int64{1000, 2000, 3000})

	// A one-hour TTL alone keeps every segment; size alone keeps only
	// the newest. The union should match the size policy here.
	state, err := Snapshot(dir, time.UnixMilli(3000+10_000), nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	newest := state.Segments[len(state.Segments)-1].Bytes

	policy := NewCompositePolicy(NewTTLPolicy(time.Hour), NewSizePolicy(newest))
	deleted, err := Evaluate(dir, policy, time.UnixMilli(3000+10_000), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 segments from the size policy", deleted)
	}
}

func TestPublishCountersReflectsSurvivingSegments(t *testing.T) {
	dir := t.TempDir()
	buildSegments(t, dir, []int64{1000, 2000, 3000})

	if _, err := Evaluate(dir, NewTTLPolicy(5*time.Second), time.UnixMilli(3000+10_000), nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	ids := cells.NewChunkIDs()
	counters := cells.NewCounters()
	if err := PublishCounters(dir, ids, counters, nil); err != nil {
		t.Fatalf("PublishCounters: %v", err)
	}

	if counters.Segments() != 1 {
		t.Fatalf("Segments() = %d, want 1", counters.Segments())
	}
	if ids.First() != 2 {
		t.Fatalf("First() = %d, want 2 (newest surviving chunk-id)", ids.First())
	}
	if counters.FirstTimestamp() != 3000 {
		t.Fatalf("FirstTimestamp() = %d, want 3000", counters.FirstTimestamp())
	}
}
