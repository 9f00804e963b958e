// Package transport implements the two wire-transfer kinds a reader can
// stream chunks over (spec §4.4, §6): "tcp" (zero-copy file-to-socket
// transfer) and "ssl" (buffered copy through a TLS connection).
package transport

import (
	"fmt"
	"io"
	"net"
	"os"

	"chunklog/internal/sendfile"
)

// Kind selects the wire-transfer strategy for a reader's socket.
type Kind int

const (
	// TCP sends the header through a plain socket write and the chunk
	// body through a zero-copy file-to-socket transfer, resuming on a
	// partial send.
	TCP Kind = iota
	// SSL sends both header and body by reading into memory first and
	// writing through the TLS connection, since the kernel cannot
	// splice encrypted bytes directly from a file descriptor.
	SSL
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case SSL:
		return "ssl"
	default:
		return "unknown"
	}
}

// Conn is the minimal socket surface a transport needs: a plain io.Writer
// for header bytes, plus whatever Kind-specific body transfer requires.
type Conn struct {
	Kind Kind
	W    io.Writer
	// TCPConn is required when Kind == TCP; SendFile needs the raw
	// connection to hand its file descriptor to the kernel.
	TCPConn *net.TCPConn
}

// Send writes bytes to the connection unconditionally through its writer,
// regardless of transport kind — used for header bytes and, under SSL, for
// the entire body too.
func Send(conn Conn, bytes []byte) error {
	_, err := conn.W.Write(bytes)
	return err
}

// SendFile transfers count bytes from f starting at offset to conn's body,
// using a zero-copy transfer for TCP and a buffered read+write for SSL.
func SendFile(conn Conn, f *os.File, offset int64, count int) (int64, error) {
	switch conn.Kind {
	case TCP:
		if conn.TCPConn == nil {
			return 0, fmt.Errorf("transport: tcp sendfile requires a *net.TCPConn")
		}
		return sendfile.Transfer(conn.TCPConn, f, offset, count)
	case SSL:
		n, err := io.Copy(conn.W, io.NewSectionReader(f, offset, int64(count)))
		return n, err
	default:
		return 0, fmt.Errorf("transport: unknown kind %v", conn.Kind)
	}
}
