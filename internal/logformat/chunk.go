package logformat

import (
	"encoding/binary"
	"errors"
)

// ChunkType identifies what a chunk's data region holds.
type ChunkType uint8

const (
	ChunkUser        ChunkType = 0
	ChunkTrkDelta    ChunkType = 1
	ChunkTrkSnapshot ChunkType = 2
)

func (t ChunkType) Valid() bool {
	switch t {
	case ChunkUser, ChunkTrkDelta, ChunkTrkSnapshot:
		return true
	default:
		return false
	}
}

func (t ChunkType) String() string {
	switch t {
	case ChunkUser:
		return "user"
	case ChunkTrkDelta:
		return "trk_delta"
	case ChunkTrkSnapshot:
		return "trk_snapshot"
	default:
		return "unknown"
	}
}

// Chunk magic/version packed into the header's first byte: 4-bit magic (5)
// in the high nibble, 4-bit version (1) in the low nibble.
const (
	ChunkMagicNibble   = 0x5
	ChunkVersionNibble = 0x1
	chunkMagicByte     = ChunkMagicNibble<<4 | ChunkVersionNibble
)

// ChunkHeaderSize is the fixed 56-byte chunk header size (§3, §6).
// Field layout:
//
//	[0]     magic(4 bits)+version(4 bits)
//	[1]     chunk type (u8)
//	[2:4]   entry count (u16)
//	[4:8]   record count (u32)
//	[8:16]  timestamp, signed ms (i64)
//	[16:24] epoch (u64)
//	[24:32] chunk-id (u64)
//	[32:36] CRC32 of entry data region (u32)
//	[36:40] data size (u32)
//	[40:44] trailer size (u32)
//	[44]    bloom filter size (u8)
//	[45:56] reserved (11 bytes; spec names 3, padded to fill the fixed 56-byte header)
const ChunkHeaderSize = 56

var (
	ErrChunkHeaderTooSmall = errors.New("logformat: chunk header too small")
	ErrChunkMagicMismatch  = errors.New("logformat: chunk magic/version mismatch")
	ErrChunkTypeInvalid    = errors.New("logformat: invalid chunk type")
)

// ChunkHeader is the decoded fixed chunk header.
type ChunkHeader struct {
	Type         ChunkType
	EntryCount   uint16
	RecordCount  uint32
	TimestampMs  int64
	Epoch        uint64
	ChunkID      uint64
	CRC          uint32
	DataSize     uint32
	TrailerSize  uint32
	BloomSize    uint8
}

// Encode writes the header into a ChunkHeaderSize-byte buffer.
func (h ChunkHeader) Encode(buf []byte) {
	buf[0] = chunkMagicByte
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[2:4], h.EntryCount)
	binary.BigEndian.PutUint32(buf[4:8], h.RecordCount)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.TimestampMs))
	binary.BigEndian.PutUint64(buf[16:24], h.Epoch)
	binary.BigEndian.PutUint64(buf[24:32], h.ChunkID)
	binary.BigEndian.PutUint32(buf[32:36], h.CRC)
	binary.BigEndian.PutUint32(buf[36:40], h.DataSize)
	binary.BigEndian.PutUint32(buf[40:44], h.TrailerSize)
	buf[44] = h.BloomSize
	for i := 45; i < ChunkHeaderSize; i++ {
		buf[i] = 0
	}
}

// Decode parses a ChunkHeaderSize-byte buffer into a ChunkHeader.
// Returns ErrChunkHeaderTooSmall, ErrChunkMagicMismatch or ErrChunkTypeInvalid
// on malformed input (writer.InvalidChunkHeaderError wraps these).
func Decode(buf []byte) (ChunkHeader, error) {
	if len(buf) < ChunkHeaderSize {
		return ChunkHeader{}, ErrChunkHeaderTooSmall
	}
	if buf[0] != chunkMagicByte {
		return ChunkHeader{}, ErrChunkMagicMismatch
	}
	ct := ChunkType(buf[1])
	if !ct.Valid() {
		return ChunkHeader{}, ErrChunkTypeInvalid
	}
	return ChunkHeader{
		Type:        ct,
		EntryCount:  binary.BigEndian.Uint16(buf[2:4]),
		RecordCount: binary.BigEndian.Uint32(buf[4:8]),
		TimestampMs: int64(binary.BigEndian.Uint64(buf[8:16])),
		Epoch:       binary.BigEndian.Uint64(buf[16:24]),
		ChunkID:     binary.BigEndian.Uint64(buf[24:32]),
		CRC:         binary.BigEndian.Uint32(buf[32:36]),
		DataSize:    binary.BigEndian.Uint32(buf[36:40]),
		TrailerSize: binary.BigEndian.Uint32(buf[40:44]),
		BloomSize:   buf[44],
	}, nil
}

// TotalSize returns the full on-disk byte length of a chunk with this header:
// header + bloom filter bytes + data + trailer.
func (h ChunkHeader) TotalSize() int64 {
	return int64(ChunkHeaderSize) + int64(h.BloomSize) + int64(h.DataSize) + int64(h.TrailerSize)
}
