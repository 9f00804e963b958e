package acceptor

import (
	"testing"

	"chunklog/internal/cells"
	"chunklog/internal/logformat"
	"chunklog/internal/segment"
	"chunklog/internal/writer"
)

func fiveEntries() []writer.Entry {
	entries := make([]writer.Entry, 5)
	for i := range entries {
		entries[i] = writer.Entry{Body: []byte{byte('a' + i)}}
	}
	return entries
}

func TestTruncateToAcceptorDivergence(t *testing.T) {
	dir := t.TempDir()

	w1, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open epoch 1: %v", err)
	}
	if _, err := w1.Write(fiveEntries(), logformat.ChunkUser, 1000, nil); err != nil {
		t.Fatalf("write chunk 0: %v", err)
	}
	if _, err := w1.Write(fiveEntries(), logformat.ChunkUser, 2000, nil); err != nil {
		t.Fatalf("write chunk 5: %v", err)
	}
	w1.Close()

	w2, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 2, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open epoch 2: %v", err)
	}
	if _, err := w2.Write(fiveEntries(), logformat.ChunkUser, 3000, nil); err != nil {
		t.Fatalf("write chunk 10: %v", err)
	}
	w2.Close()

	survivors, err := TruncateTo(dir, Range{First: 0, Last: 12}, []EpochOffset{{Epoch: 2, LastChunkID: 10}, {Epoch: 1, LastChunkID: 5}}, nil)
	if err != nil {
		t.Fatalf("TruncateTo: %v", err)
	}
	if len(survivors) != 1 || survivors[0] != 0 {
		t.Fatalf("survivors = %v, want [0]", survivors)
	}

	p, err := segment.OpenForRead(dir, 0, nil)
	if err != nil {
		t.Fatalf("OpenForRead: %v", err)
	}
	defer p.Close()

	rec, ok, err := p.LastIndexRecord()
	if err != nil || !ok {
		t.Fatalf("LastIndexRecord: ok=%v err=%v", ok, err)
	}
	if rec.ChunkID != 10 {
		t.Fatalf("LastIndexRecord.ChunkID = %d, want 10", rec.ChunkID)
	}

	h, err := p.ReadHeaderAt(int64(rec.Position))
	if err != nil {
		t.Fatalf("ReadHeaderAt: %v", err)
	}
	size, err := p.SegmentSize()
	if err != nil {
		t.Fatalf("SegmentSize: %v", err)
	}
	if size != int64(rec.Position)+h.TotalSize() {
		t.Fatalf("SegmentSize = %d, want %d", size, int64(rec.Position)+h.TotalSize())
	}
}

func TestTruncateToNoMatchDivergesEverywhere(t *testing.T) {
	dir := t.TempDir()
	w, err := writer.Open(writer.Config{Dir: dir, Name: "test", Epoch: 1, IDs: cells.NewChunkIDs(), Counters: cells.NewCounters()})
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	if _, err := w.Write([]writer.Entry{{Body: []byte("a")}}, logformat.ChunkUser, 1000, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	survivors, err := TruncateTo(dir, Range{First: 100, Last: 200}, []EpochOffset{{Epoch: 9, LastChunkID: 150}}, nil)
	if err != nil {
		t.Fatalf("TruncateTo: %v", err)
	}
	if len(survivors) != 0 {
		t.Fatalf("survivors = %v, want empty", survivors)
	}

	ids, err := segment.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("segments remain after full divergence: %v", ids)
	}
}
