//go:build linux

package sendfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Transfer zero-copies count bytes from f starting at offset into conn's
// underlying file descriptor, resuming on a partial transfer, and returns
// the total number of bytes sent.
func Transfer(conn syscallConn, f *os.File, offset int64, count int) (int64, error) {
	var total int64
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	off := offset
	remaining := count
	for remaining > 0 {
		var n int
		var sendErr error
		ctlErr := rawConn.Write(func(fd uintptr) bool {
			n, sendErr = unix.Sendfile(int(fd), int(f.Fd()), &off, remaining)
			if sendErr == syscall.EAGAIN {
				return false
			}
			return true
		})
		if ctlErr != nil {
			return total, ctlErr
		}
		if sendErr != nil {
			return total, sendErr
		}
		if n == 0 {
			break
		}
		total += int64(n)
		remaining -= n
	}
	return total, nil
}
