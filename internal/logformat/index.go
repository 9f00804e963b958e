package logformat

import (
	"encoding/binary"
	"errors"
)

// IndexRecordSize is the fixed 29-byte index record layout (§3):
//
//	[0:8]   chunk-id (u64)
//	[8:16]  timestamp, signed ms (i64)
//	[16:24] epoch (u64)
//	[24:28] file position of chunk within the segment (u32)
//	[28]    chunk type (u8)
const IndexRecordSize = 29

var ErrIndexRecordTooSmall = errors.New("logformat: index record too small")

// IndexRecord is one fixed-size entry in a .index file.
type IndexRecord struct {
	ChunkID     uint64
	TimestampMs int64
	Epoch       uint64
	Position    uint32
	Type        ChunkType
}

// Encode writes the record into an IndexRecordSize-byte buffer.
func (r IndexRecord) Encode(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], r.ChunkID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.TimestampMs))
	binary.BigEndian.PutUint64(buf[16:24], r.Epoch)
	binary.BigEndian.PutUint32(buf[24:28], r.Position)
	buf[28] = byte(r.Type)
}

// DecodeIndexRecord parses an IndexRecordSize-byte buffer.
func DecodeIndexRecord(buf []byte) (IndexRecord, error) {
	if len(buf) < IndexRecordSize {
		return IndexRecord{}, ErrIndexRecordTooSmall
	}
	return IndexRecord{
		ChunkID:     binary.BigEndian.Uint64(buf[0:8]),
		TimestampMs: int64(binary.BigEndian.Uint64(buf[8:16])),
		Epoch:       binary.BigEndian.Uint64(buf[16:24]),
		Position:    binary.BigEndian.Uint32(buf[24:28]),
		Type:        ChunkType(buf[28]),
	}, nil
}

// IsZero reports whether the record is all-zero bytes (used by recovery to
// detect a not-yet-written trailing record, §4.6).
func (r IndexRecord) IsZero() bool {
	return r.ChunkID == 0 && r.TimestampMs == 0 && r.Epoch == 0 && r.Position == 0 && r.Type == ChunkUser
}
