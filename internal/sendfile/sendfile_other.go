//go:build !linux

package sendfile

import (
	"io"
	"os"
)

// Transfer falls back to a buffered copy on platforms without a zero-copy
// sendfile syscall wired up here.
func Transfer(conn syscallConn, f *os.File, offset int64, count int) (int64, error) {
	w, ok := conn.(io.Writer)
	if !ok {
		return 0, errNotAWriter
	}
	return io.Copy(w, io.NewSectionReader(f, offset, int64(count)))
}
