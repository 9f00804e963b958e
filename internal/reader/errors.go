package reader

import (
	"errors"
	"fmt"
)

// ErrEndOfStream is returned by NextHeader when the reader has caught up
// to the writer's committed/last chunk-id and no further rollover segment
// exists (spec §4.4 step 1, step 6).
var ErrEndOfStream = errors.New("reader: end of stream")

// UnexpectedChunkIDError is a protocol violation: the header at the
// reader's expected position does not carry the expected chunk-id
// (spec §4.4 step 3).
type UnexpectedChunkIDError struct {
	Seen     uint64
	Expected uint64
}

func (e *UnexpectedChunkIDError) Error() string {
	return fmt.Sprintf("reader: unexpected chunk-id: header has %d, expected %d", e.Seen, e.Expected)
}

// CRCValidationError is fatal: a chunk's data region failed its CRC32
// check at read time (spec §7).
type CRCValidationError struct {
	ChunkID uint64
}

func (e *CRCValidationError) Error() string {
	return fmt.Sprintf("reader: crc validation failure for chunk %d", e.ChunkID)
}
