package logformat

import (
	"encoding/binary"
	"errors"
)

// Entry framing (§3, §4.1).
//
// Simple entry:   1 bit tag(0) + 31-bit length, big-endian u32, then body.
// Sub-batch entry: 1 byte (tag(1) in bit 7, 3-bit compression type in bits
// 6-4, 4 reserved bits), then u16 record count, u32 uncompressed length,
// u32 length, then body. Sub-batch bodies are opaque: the engine never
// decompresses them (§4.4, §9).
const (
	simpleTagMask   = 0x80000000
	simpleLenMask   = 0x7fffffff
	subBatchTagBit  = 0x80
	subBatchCompMask = 0x70
	subBatchCompShift = 4

	SimpleHeaderSize   = 4
	SubBatchHeaderSize = 1 + 2 + 4 + 4 // tag/comp byte, record count, uncompressed len, len
)

var (
	ErrEntryTooSmall  = errors.New("logformat: entry too small")
	ErrEntryBodyShort = errors.New("logformat: entry body shorter than framed length")
	ErrEntryBodyTooLarge = errors.New("logformat: entry body exceeds 31-bit length field")
)

// CompressionType is the 3-bit sub-batch compression code. The engine never
// interprets it beyond carrying it through untouched.
type CompressionType uint8

// Entry is one decoded framed entry: either Simple (IsBatch=false, Body is
// the raw record bytes) or a sub-batch passthrough (IsBatch=true).
type Entry struct {
	IsBatch           bool
	Body              []byte
	NumRecords        uint16          // sub-batch only
	CompressionType   CompressionType // sub-batch only
	UncompressedLen   uint32          // sub-batch only
}

// EncodeSimple frames a simple entry: tag 0 + 31-bit length + body.
func EncodeSimple(body []byte) ([]byte, error) {
	if len(body) > simpleLenMask {
		return nil, ErrEntryBodyTooLarge
	}
	buf := make([]byte, SimpleHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body))&simpleLenMask)
	copy(buf[4:], body)
	return buf, nil
}

// EncodeSubBatch frames a sub-batch passthrough entry.
func EncodeSubBatch(numRecords uint16, compType CompressionType, uncompressedLen uint32, body []byte) []byte {
	buf := make([]byte, SubBatchHeaderSize+len(body))
	buf[0] = subBatchTagBit | (byte(compType)<<subBatchCompShift)&subBatchCompMask
	binary.BigEndian.PutUint16(buf[1:3], numRecords)
	binary.BigEndian.PutUint32(buf[3:7], uncompressedLen)
	binary.BigEndian.PutUint32(buf[7:11], uint32(len(body)))
	copy(buf[11:], body)
	return buf
}

// DecodeEntry reads one framed entry starting at buf[0], returning the
// number of bytes consumed.
func DecodeEntry(buf []byte) (Entry, int, error) {
	if len(buf) < 1 {
		return Entry{}, 0, ErrEntryTooSmall
	}
	tag := buf[0] & 0x80
	if tag == 0 {
		if len(buf) < SimpleHeaderSize {
			return Entry{}, 0, ErrEntryTooSmall
		}
		word := binary.BigEndian.Uint32(buf[:4])
		length := int(word & simpleLenMask)
		end := SimpleHeaderSize + length
		if len(buf) < end {
			return Entry{}, 0, ErrEntryBodyShort
		}
		return Entry{IsBatch: false, Body: buf[SimpleHeaderSize:end]}, end, nil
	}

	if len(buf) < SubBatchHeaderSize {
		return Entry{}, 0, ErrEntryTooSmall
	}
	compType := CompressionType((buf[0] & subBatchCompMask) >> subBatchCompShift)
	numRecords := binary.BigEndian.Uint16(buf[1:3])
	uncompressedLen := binary.BigEndian.Uint32(buf[3:7])
	length := int(binary.BigEndian.Uint32(buf[7:11]))
	end := SubBatchHeaderSize + length
	if len(buf) < end {
		return Entry{}, 0, ErrEntryBodyShort
	}
	return Entry{
		IsBatch:         true,
		Body:            buf[SubBatchHeaderSize:end],
		NumRecords:      numRecords,
		CompressionType: compType,
		UncompressedLen: uncompressedLen,
	}, end, nil
}

// DecodeAllEntries splits an entire data region into its framed entries.
func DecodeAllEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	for len(data) > 0 {
		e, n, err := DecodeEntry(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		data = data[n:]
	}
	return entries, nil
}
