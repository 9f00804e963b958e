// Package logformat defines the on-disk binary layouts for the segmented
// chunk log: the log header shared by segment and index files, the chunk
// header, the index record, entry framing, and tracking entries.
//
// All multi-byte fields are big-endian. Layouts are fixed-size and exact;
// there is no format versioning beyond the magic+version field (see
// Non-goals).
package logformat

import (
	"encoding/binary"
	"errors"
)

// Segment/index file header: 8 bytes total.
const (
	SegmentMagic = "OSIL"
	IndexMagic   = "OSIX"

	LogHeaderSize = 8
	LogVersion    = uint32(1)
)

var (
	ErrHeaderTooSmall = errors.New("logformat: header too small")
	ErrBadMagic       = errors.New("logformat: magic mismatch")
	ErrBadVersion     = errors.New("logformat: version mismatch")
)

// EncodeSegmentHeader writes the 8-byte segment file header into buf.
func EncodeSegmentHeader(buf []byte) {
	copy(buf[:4], SegmentMagic)
	binary.BigEndian.PutUint32(buf[4:8], LogVersion)
}

// EncodeIndexHeader writes the 8-byte index file header into buf.
func EncodeIndexHeader(buf []byte) {
	copy(buf[:4], IndexMagic)
	binary.BigEndian.PutUint32(buf[4:8], LogVersion)
}

// DecodeSegmentHeader validates the 8-byte segment header.
func DecodeSegmentHeader(buf []byte) error {
	return decodeHeader(buf, SegmentMagic)
}

// DecodeIndexHeader validates the 8-byte index header.
func DecodeIndexHeader(buf []byte) error {
	return decodeHeader(buf, IndexMagic)
}

func decodeHeader(buf []byte, magic string) error {
	if len(buf) < LogHeaderSize {
		return ErrHeaderTooSmall
	}
	if string(buf[:4]) != magic {
		return ErrBadMagic
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != LogVersion {
		return ErrBadVersion
	}
	return nil
}
