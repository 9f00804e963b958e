package reader

import (
	"log/slog"

	"chunklog/internal/cells"
)

// Mode selects which of the two reader variants (spec §4.4) governs
// visibility and default chunk selection.
type Mode int

const (
	// DataMode is the replication reader: emits every chunk, including
	// tracking chunks, bounded by last_chunk_id.
	DataMode Mode = iota
	// OffsetMode is the consumer reader: emits only chunks matching
	// ChunkSelector, bounded by committed_chunk_id.
	OffsetMode
)

// ChunkSelector filters which chunk types an offset reader emits. The
// zero value is UserData, the spec's documented default.
type ChunkSelector int

const (
	// UserData emits only ChunkUser chunks, the offset reader default.
	UserData ChunkSelector = iota
	// All emits every chunk type, same visibility as a data reader's
	// content (still bounded by committed_chunk_id, not last_chunk_id).
	All
)

const defaultFilterPreread = 16

// Config holds the recognized configuration keys from spec §6 relevant
// to the reader side of a log.
type Config struct {
	Dir  string
	Name string

	Mode          Mode
	ChunkSelector ChunkSelector

	IDs      *cells.ChunkIDs
	Counters *cells.Counters

	// ReadersCounterFn, if set, is invoked with +1 on Open and -1 on
	// Close, matching the teacher's callback-style lifecycle hooks.
	ReadersCounterFn func(delta int)

	Logger *slog.Logger
}

