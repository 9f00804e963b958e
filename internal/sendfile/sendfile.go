// Package sendfile provides a zero-copy file-to-socket transfer primitive
// for the "tcp" transport kind (spec §4.4 send_file). On platforms without
// a zero-copy syscall it falls back to a buffered copy.
package sendfile

import (
	"errors"
	"syscall"
)

// syscallConn is satisfied by *net.TCPConn and testable fakes.
type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

var errNotAWriter = errors.New("sendfile: connection does not implement io.Writer for the fallback path")
