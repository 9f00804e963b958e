package logformat

import (
	"encoding/binary"
	"errors"
)

// TrackingType identifies the kind of out-of-band tracking data carried in
// a TRK_DELTA chunk's single entry, or a USER chunk's trailer (§3).
type TrackingType uint8

const (
	TrackingSequence  TrackingType = 0
	TrackingOffset    TrackingType = 1
	TrackingTimestamp TrackingType = 2
)

var (
	ErrTrackingEntryTooSmall = errors.New("logformat: tracking entry too small")
)

// trackingFixedSize is the fixed portion (type + id-length + 8-byte data);
// the variable id bytes are appended between id-length and data.
const trackingFixedSize = 1 + 1 + 8

// TrackingEntry is one producer-sequence / consumer-offset / record-timestamp
// tracking record.
type TrackingEntry struct {
	Type TrackingType
	ID   []byte
	Data uint64
}

// Encode serializes a tracking entry: type(1) + id-length(1) + id + data(8).
func (t TrackingEntry) Encode() []byte {
	buf := make([]byte, trackingFixedSize+len(t.ID))
	buf[0] = byte(t.Type)
	buf[1] = byte(len(t.ID))
	copy(buf[2:2+len(t.ID)], t.ID)
	binary.BigEndian.PutUint64(buf[2+len(t.ID):], t.Data)
	return buf
}

// DecodeTrackingEntry reads one tracking entry from buf, returning bytes consumed.
func DecodeTrackingEntry(buf []byte) (TrackingEntry, int, error) {
	if len(buf) < 2 {
		return TrackingEntry{}, 0, ErrTrackingEntryTooSmall
	}
	idLen := int(buf[1])
	end := 2 + idLen + 8
	if len(buf) < end {
		return TrackingEntry{}, 0, ErrTrackingEntryTooSmall
	}
	id := make([]byte, idLen)
	copy(id, buf[2:2+idLen])
	data := binary.BigEndian.Uint64(buf[2+idLen : end])
	return TrackingEntry{
		Type: TrackingType(buf[0]),
		ID:   id,
		Data: data,
	}, end, nil
}
