// Package transport provides the byte-stream dialing and upgrading shared
// by the IMAP, SMTP, and POP3 clients: plain TCP, implicit TLS, in-place
// STARTTLS upgrade, RFC 5929 TLS channel binding data, and RFC 4978-style
// DEFLATE compression layering.
package transport

import (
	"compress/flate"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"
)

// Conn wraps a network connection with optional compression layered on
// top, and exposes the information needed for SASL channel binding.
type Conn struct {
	net.Conn

	reader io.Reader
	writer io.WriteCloser

	tlsState *tls.ConnectionState
}

// Dialer dials and upgrades connections for a mail protocol client.
type Dialer struct {
	// TLSConfig is used for implicit TLS and STARTTLS upgrades. A nil
	// config means the standard library's zero-value defaults apply.
	TLSConfig *tls.Config
	// DialTimeout bounds the initial TCP handshake; zero means no timeout.
	DialTimeout time.Duration
	// NetDialer is used for the underlying TCP dial; defaults to
	// &net.Dialer{} when nil. Proxy dialers satisfy this by wrapping
	// net.Conn creation (see the proxy package).
	NetDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
}

func (d *Dialer) netDialer() interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
} {
	if d.NetDialer != nil {
		return d.NetDialer
	}
	return &net.Dialer{Timeout: d.DialTimeout}
}

// Dial opens a plain TCP connection.
func (d *Dialer) Dial(ctx context.Context, addr string) (*Conn, error) {
	nc, err := d.netDialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return newConn(nc), nil
}

// DialTLS opens a connection with TLS established immediately (implicit
// TLS, e.g. IMAPS/POP3S/SMTPS on their dedicated ports).
func (d *Dialer) DialTLS(ctx context.Context, addr string) (*Conn, error) {
	nc, err := d.netDialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	tlsConn := tls.Client(nc, d.tlsConfig(addr))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", addr, err)
	}
	return wrapTLS(tlsConn), nil
}

func (d *Dialer) tlsConfig(addr string) *tls.Config {
	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}

func newConn(nc net.Conn) *Conn {
	return &Conn{Conn: nc, reader: nc, writer: nopWriteCloser{nc}}
}

// WrapConn adapts an already-established net.Conn (e.g. one accepted by a
// listener, or a pipe side in a test) into a *Conn with no TLS or
// compression layered on yet.
func WrapConn(nc net.Conn) *Conn {
	return newConn(nc)
}

func wrapTLS(tc *tls.Conn) *Conn {
	state := tc.ConnectionState()
	return &Conn{Conn: tc, reader: tc, writer: nopWriteCloser{tc}, tlsState: &state}
}

// StartTLS upgrades an existing plain connection in place, for protocols
// that negotiate TLS mid-session (IMAP STARTTLS, SMTP STARTTLS, POP3 STLS).
// cfg is used as given: its ServerName is not filled in from the dial
// target.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	if c.tlsState != nil {
		return fmt.Errorf("transport: connection is already using TLS")
	}
	tlsConn := tls.Client(c.Conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("transport: STARTTLS handshake: %w", err)
	}
	state := tlsConn.ConnectionState()
	c.Conn = tlsConn
	c.reader = tlsConn
	c.writer = nopWriteCloser{tlsConn}
	c.tlsState = &state
	return nil
}

// IsTLS reports whether TLS is in effect on this connection.
func (c *Conn) IsTLS() bool {
	return c.tlsState != nil
}

// Read implements io.Reader over whatever layer (compressed or not) is
// currently active.
func (c *Conn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// Write implements io.Writer over whatever layer is currently active.
func (c *Conn) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

// StartCompression layers DEFLATE (RFC 1951, as used by IMAP's RFC 4978
// COMPRESS=DEFLATE extension) onto the connection. Calling it a second time
// is a no-op: COMPRESSIONACTIVE is treated as already-successful rather
// than double-wrapping the flate codec.
func (c *Conn) StartCompression() error {
	if _, ok := c.writer.(*flateWriteCloser); ok {
		return nil
	}
	c.reader = flate.NewReader(c.reader)
	fw, err := flate.NewWriter(c.writer, flate.DefaultCompression)
	if err != nil {
		return err
	}
	c.writer = &flateWriteCloser{w: fw, underlying: c.writer}
	return nil
}

type flateWriteCloser struct {
	w          *flate.Writer
	underlying io.WriteCloser
}

func (f *flateWriteCloser) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}

func (f *flateWriteCloser) Close() error {
	if err := f.w.Close(); err != nil {
		return err
	}
	return f.underlying.Close()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ChannelBindingData implements auth.ChannelBinder using the
// "tls-server-end-point" binding type from RFC 5929: the hash of the
// server's leaf certificate, using the certificate's own signature hash
// algorithm when it is stronger than MD5/SHA-1, falling back to SHA-256
// otherwise (RFC 5929 §4.1).
func (c *Conn) ChannelBindingData() (name string, data []byte, ok bool) {
	if c.tlsState == nil || len(c.tlsState.PeerCertificates) == 0 {
		return "", nil, false
	}
	cert := c.tlsState.PeerCertificates[0]
	return "tls-server-end-point", endpointHash(cert), true
}

func endpointHash(cert *x509.Certificate) []byte {
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384:
		h := sha512.Sum384(cert.Raw)
		return h[:]
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512:
		h := sha512.Sum512(cert.Raw)
		return h[:]
	default:
		h := sha256.Sum256(cert.Raw)
		return h[:]
	}
}
