package writer

import "fmt"

// InvalidEpochError is fatal at writer init: the last recovered chunk's
// epoch exceeds the configured epoch (spec §4.3, §7).
type InvalidEpochError struct {
	Found     uint64
	Configured uint64
}

func (e *InvalidEpochError) Error() string {
	return fmt.Sprintf("writer: invalid epoch: last chunk epoch %d exceeds configured epoch %d", e.Found, e.Configured)
}

// AcceptOutOfOrderError is fatal: accept_chunk saw a chunk-id that does
// not match the writer's expected next chunk-id (spec §4.3, §7).
type AcceptOutOfOrderError struct {
	Seen     uint64
	Expected uint64
}

func (e *AcceptOutOfOrderError) Error() string {
	return fmt.Sprintf("writer: accept_chunk out of order: seen %d, expected %d", e.Seen, e.Expected)
}

// CRCValidationError is fatal: a chunk's data region failed its CRC32
// check at accept_chunk (spec §7). The reader reports its own
// reader.CRCValidationError for failures at read time.
type CRCValidationError struct {
	ChunkID uint64
}

func (e *CRCValidationError) Error() string {
	return fmt.Sprintf("writer: crc validation failure for chunk %d", e.ChunkID)
}

// InvalidChunkHeaderError wraps malformed framing encountered while
// parsing a chunk header.
type InvalidChunkHeaderError struct {
	Err error
}

func (e *InvalidChunkHeaderError) Error() string {
	return fmt.Sprintf("writer: invalid chunk header: %v", e.Err)
}

func (e *InvalidChunkHeaderError) Unwrap() error { return e.Err }
