package client

import (
	"compress/flate"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/outpostmail/mailkit/wire"
)

// ErrCompressNotSupported is returned by Compress when the server does
// not advertise COMPRESS=DEFLATE (RFC 4978).
var ErrCompressNotSupported = errors.New("imap: server does not support COMPRESS=DEFLATE")

// Compress negotiates COMPRESS=DEFLATE and, on OK, switches the
// connection to a deflate codec in both directions. A NO carrying the
// COMPRESSIONACTIVE response code means a compression layer is already
// active; that is accepted as success and the codec is not layered a
// second time.
func (c *Client) Compress() error {
	if !c.SupportsCompress() {
		return ErrCompressNotSupported
	}

	result, err := c.executeUpgrade("COMPRESS", "DEFLATE")
	if err != nil {
		return err
	}
	if result.status != "OK" {
		if strings.EqualFold(result.code, "COMPRESSIONACTIVE") {
			return nil
		}
		return commandResultError(result)
	}

	deflated := newDeflateConn(c.conn)
	c.mu.Lock()
	c.conn = deflated
	c.encoder = wire.NewEncoder(deflated)
	c.decoder = wire.NewDecoder(deflated)
	c.mu.Unlock()

	c.reader = newReader(c.decoder, c)
	go c.reader.run()

	return nil
}

// deflateConn layers a deflate codec over a net.Conn. Writes are
// flushed after every call so a compressed command reaches the server
// immediately instead of sitting in the flate window.
type deflateConn struct {
	net.Conn
	r io.ReadCloser
	w *flate.Writer
}

func newDeflateConn(conn net.Conn) *deflateConn {
	fw, _ := flate.NewWriter(conn, flate.DefaultCompression)
	return &deflateConn{Conn: conn, r: flate.NewReader(conn), w: fw}
}

func (dc *deflateConn) Read(p []byte) (int, error) { return dc.r.Read(p) }

func (dc *deflateConn) Write(p []byte) (int, error) {
	n, err := dc.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, dc.w.Flush()
}

func (dc *deflateConn) Close() error {
	if err := dc.w.Close(); err != nil {
		dc.Conn.Close()
		return err
	}
	return dc.Conn.Close()
}
