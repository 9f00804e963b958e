package segment

import (
	"testing"

	"chunklog/internal/logformat"
)

func testHeader(chunkID uint64, dataSize uint32) logformat.ChunkHeader {
	return logformat.ChunkHeader{
		Type:        logformat.ChunkUser,
		EntryCount:  1,
		RecordCount: 1,
		TimestampMs: 1000,
		Epoch:       1,
		ChunkID:     chunkID,
		DataSize:    dataSize,
	}
}

func buildChunk(t *testing.T, h logformat.ChunkHeader, data []byte) []byte {
	t.Helper()
	buf := make([]byte, logformat.ChunkHeaderSize+len(data))
	h.Encode(buf)
	copy(buf[logformat.ChunkHeaderSize:], data)
	return buf
}

func TestCreateAndOpen(t *testing.T) {
	dir := t.TempDir()
	p, err := Create(dir, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.FirstChunkID != 0 {
		t.Fatalf("FirstChunkID = %d, want 0", p.FirstChunkID)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenForAppend(dir, 0, nil)
	if err != nil {
		t.Fatalf("OpenForAppend: %v", err)
	}
	defer p2.Close()

	size, err := p2.SegmentSize()
	if err != nil {
		t.Fatalf("SegmentSize: %v", err)
	}
	if size != logformat.LogHeaderSize {
		t.Fatalf("SegmentSize = %d, want %d", size, logformat.LogHeaderSize)
	}
}

func TestAppendChunkAndReadBack(t *testing.T) {
	dir := t.TempDir()
	p, err := Create(dir, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	data := []byte("hello")
	h := testHeader(0, uint32(len(data)))
	chunkBytes := buildChunk(t, h, data)

	rec := logformat.IndexRecord{ChunkID: 0, TimestampMs: 1000, Epoch: 1, Type: logformat.ChunkUser}
	pos, err := p.AppendChunk(chunkBytes, rec)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if pos != logformat.LogHeaderSize {
		t.Fatalf("pos = %d, want %d", pos, logformat.LogHeaderSize)
	}

	got, err := p.ReadHeaderAt(pos)
	if err != nil {
		t.Fatalf("ReadHeaderAt: %v", err)
	}
	if got.ChunkID != 0 || got.DataSize != uint32(len(data)) {
		t.Fatalf("unexpected header: %+v", got)
	}

	first, ok, err := p.FirstIndexRecord()
	if err != nil || !ok {
		t.Fatalf("FirstIndexRecord: ok=%v err=%v", ok, err)
	}
	if first.Position != uint32(logformat.LogHeaderSize) {
		t.Fatalf("first.Position = %d, want %d", first.Position, logformat.LogHeaderSize)
	}

	last, ok, err := p.LastIndexRecord()
	if err != nil || !ok {
		t.Fatalf("LastIndexRecord: ok=%v err=%v", ok, err)
	}
	if last.ChunkID != 0 {
		t.Fatalf("last.ChunkID = %d, want 0", last.ChunkID)
	}
}

func TestAlignIndexSize(t *testing.T) {
	header := int64(logformat.LogHeaderSize)
	rec := int64(logformat.IndexRecordSize)
	cases := []struct{ in, want int64 }{
		{header, header},
		{header + rec, header + rec},
		{header + rec + 5, header + rec},
		{header - 1, header},
	}
	for _, c := range cases {
		if got := AlignIndexSize(c.in); got != c.want {
			t.Errorf("AlignIndexSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDirListFirstLast(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []uint64{0, 100, 50} {
		p, err := Create(dir, id, nil)
		if err != nil {
			t.Fatalf("Create(%d): %v", id, err)
		}
		p.Close()
	}

	ids, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []uint64{0, 50, 100}
	if len(ids) != len(want) {
		t.Fatalf("List = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List = %v, want %v", ids, want)
		}
	}

	first, ok, err := First(dir)
	if err != nil || !ok || first != 0 {
		t.Fatalf("First = (%d, %v, %v), want (0, true, nil)", first, ok, err)
	}
	last, ok, err := Last(dir)
	if err != nil || !ok || last != 100 {
		t.Fatalf("Last = (%d, %v, %v), want (100, true, nil)", last, ok, err)
	}
}

func TestDirForOffsetAndNext(t *testing.T) {
	ids := []uint64{0, 50, 100}
	got, ok := ForOffset(ids, 75)
	if !ok || got != 50 {
		t.Fatalf("ForOffset(75) = (%d, %v), want (50, true)", got, ok)
	}

	next, ok := Next(ids, 50)
	if !ok || next != 100 {
		t.Fatalf("Next(50) = (%d, %v), want (100, true)", next, ok)
	}
	if _, ok := Next(ids, 100); ok {
		t.Fatal("Next(100) should report no next segment")
	}
}
