// Package tracking implements the default in-memory tracking module used
// by the engine's tracking-recovery scan (spec §4.9) and the writer's
// snapshot interleaving (§4.3). It implements the
// init/is_empty/snapshot/append_trailer contract that spec §6 specifies
// only as an external collaborator interface.
package tracking

import (
	"sort"
	"sync"

	"chunklog/internal/logformat"
)

// watermarkID is the reserved (empty) id used to carry the log's
// first_offset/first_timestamp counters as of the last snapshot, so a
// reader of a TRK_SNAPSHOT chunk can recover them without re-scanning
// index files.
const watermarkID = ""

// Config is forwarded opaquely from the writer's tracking_config key.
// The default implementation does not interpret any fields today; it
// exists so call sites have a stable type to pass through.
type Config struct{}

type entryKey struct {
	Type logformat.TrackingType
	ID   string
}

type entryValue struct {
	ChunkID uint64
	Data    uint64
}

// State is the accumulated tracking state: the latest known value per
// (type, id), each stamped with the chunk-id it was last updated at.
type State struct {
	mu      sync.Mutex
	entries map[entryKey]entryValue
}

// Init builds a State from an optional prior TRK_SNAPSHOT body. A nil or
// empty snapshot produces an empty state.
func Init(snapshotBytes []byte, _ Config) (*State, error) {
	s := &State{entries: make(map[entryKey]entryValue)}
	if len(snapshotBytes) == 0 {
		return s, nil
	}
	entries, err := decodeAll(snapshotBytes)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		s.entries[entryKey{Type: e.Type, ID: string(e.ID)}] = entryValue{ChunkID: 0, Data: e.Data}
	}
	return s, nil
}

// IsEmpty reports whether the state holds no tracking data beyond the
// watermark entries written by Snapshot.
func (s *State) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.ID != watermarkID {
			return false
		}
	}
	return true
}

// Snapshot serializes the current state into a TRK_SNAPSHOT chunk body,
// folding in the log's first_offset/first_timestamp counters as
// watermark entries, and returns the (possibly updated) state.
func (s *State) Snapshot(firstOffset uint64, firstTimestamp int64) ([]byte, *State) {
	s.mu.Lock()
	s.entries[entryKey{Type: logformat.TrackingOffset, ID: watermarkID}] = entryValue{Data: firstOffset}
	s.entries[entryKey{Type: logformat.TrackingTimestamp, ID: watermarkID}] = entryValue{Data: uint64(firstTimestamp)}

	keys := make([]entryKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})

	var out []byte
	for _, k := range keys {
		v := s.entries[k]
		te := logformat.TrackingEntry{Type: k.Type, ID: []byte(k.ID), Data: v.Data}
		out = append(out, te.Encode()...)
	}
	s.mu.Unlock()
	return out, s
}

// AppendTrailer folds the tracking entries carried by a TRK_DELTA chunk's
// entry body, or a USER chunk's trailer, into the state, scoped to
// chunkID. An entry already recorded at a newer chunk-id is left alone.
func (s *State) AppendTrailer(chunkID uint64, trailer []byte) (*State, error) {
	if len(trailer) == 0 {
		return s, nil
	}
	entries, err := decodeAll(trailer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		key := entryKey{Type: e.Type, ID: string(e.ID)}
		if existing, ok := s.entries[key]; ok && existing.ChunkID > chunkID {
			continue
		}
		s.entries[key] = entryValue{ChunkID: chunkID, Data: e.Data}
	}
	return s, nil
}

// Get returns the latest value recorded for (trackingType, id) and
// whether it was present.
func (s *State) Get(trackingType logformat.TrackingType, id []byte) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[entryKey{Type: trackingType, ID: string(id)}]
	return v.Data, ok
}

func decodeAll(buf []byte) ([]logformat.TrackingEntry, error) {
	var entries []logformat.TrackingEntry
	for len(buf) > 0 {
		e, n, err := logformat.DecodeTrackingEntry(buf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		buf = buf[n:]
	}
	return entries, nil
}
