package logformat

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SegmentExt = ".segment"
	IndexExt   = ".index"

	filenameDigits = 20
)

// SegmentFilename returns the zero-padded segment filename for firstChunkID.
func SegmentFilename(firstChunkID uint64) string {
	return fmt.Sprintf("%0*d%s", filenameDigits, firstChunkID, SegmentExt)
}

// IndexFilename returns the zero-padded index filename for firstChunkID.
func IndexFilename(firstChunkID uint64) string {
	return fmt.Sprintf("%0*d%s", filenameDigits, firstChunkID, IndexExt)
}

// ParseSegmentFilename extracts the first-chunk-id from a ".segment" filename.
func ParseSegmentFilename(name string) (uint64, bool) {
	return parsePrefixed(name, SegmentExt)
}

// ParseIndexFilename extracts the first-chunk-id from an ".index" filename.
func ParseIndexFilename(name string) (uint64, bool) {
	return parsePrefixed(name, IndexExt)
}

func parsePrefixed(name, ext string) (uint64, bool) {
	if !strings.HasSuffix(name, ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(name, ext)
	if len(digits) != filenameDigits {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
