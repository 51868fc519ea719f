// Package proxy implements the CONNECT-style proxy dialers a mail client
// needs to reach a server through: HTTP CONNECT, SOCKS4/4a, and SOCKS5.
// The Dialer interface mirrors the shape golang.org/x/net/proxy uses, so a
// transport.Dialer's NetDialer field can hold any of these directly.
package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

// Dialer dials a target address through a proxy.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// HTTPConnect dials through an HTTP/1.1 proxy using the CONNECT method.
type HTTPConnect struct {
	ProxyAddr string
	Username  string
	Password  string
}

// DialContext connects to ProxyAddr and issues CONNECT addr.
func (p *HTTPConnect) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", p.ProxyAddr, err)
	}

	req := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n"
	if p.Username != "" {
		req += "Proxy-Authorization: Basic " + basicAuth(p.Username, p.Password) + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: sending CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	tp := textproto.NewReader(reader)
	statusLine, err := tp.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: reading CONNECT response: %w", err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: reading CONNECT headers: %w", err)
	}

	fields := strings.Fields(statusLine)
	if len(fields) < 2 || fields[1] != "200" {
		conn.Close()
		return nil, fmt.Errorf("proxy: CONNECT failed: %s", statusLine)
	}

	return &bufferedConn{Conn: conn, r: reader}, nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// bufferedConn lets us hand back a net.Conn after consuming bytes the proxy
// might have pipelined past the CONNECT response into the bufio.Reader.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// SOCKS4 dials through a SOCKS4 or SOCKS4a proxy (SOCKS4a is used
// automatically when the target host does not resolve to an IPv4 literal).
type SOCKS4 struct {
	ProxyAddr string
	UserID    string
}

func (p *SOCKS4) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid port %q: %w", portStr, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", p.ProxyAddr, err)
	}

	req := []byte{0x04, 0x01}
	req = binary.BigEndian.AppendUint16(req, uint16(port))

	ip := net.ParseIP(host)
	socks4a := ip == nil || ip.To4() == nil
	if socks4a {
		req = append(req, 0, 0, 0, 1)
	} else {
		req = append(req, ip.To4()...)
	}
	req = append(req, []byte(p.UserID)...)
	req = append(req, 0)
	if socks4a {
		req = append(req, []byte(host)...)
		req = append(req, 0)
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: sending SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := fullRead(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: reading SOCKS4 response: %w", err)
	}
	if resp[0] != 0x00 || resp[1] != 0x5a {
		conn.Close()
		return nil, fmt.Errorf("proxy: SOCKS4 request rejected, code %d", resp[1])
	}
	return conn, nil
}

// SOCKS5 dials through a SOCKS5 proxy (RFC 1928), with optional
// username/password authentication (RFC 1929).
type SOCKS5 struct {
	ProxyAddr string
	Username  string
	Password  string
}

func (p *SOCKS5) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid port %q: %w", portStr, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", p.ProxyAddr, err)
	}

	if err := p.negotiateAuth(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := p.sendConnect(conn, host, port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *SOCKS5) negotiateAuth(conn net.Conn) error {
	methods := []byte{0x00} // no auth
	if p.Username != "" {
		methods = append(methods, 0x02) // username/password
	}
	hello := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("proxy: sending SOCKS5 hello: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := fullRead(conn, resp); err != nil {
		return fmt.Errorf("proxy: reading SOCKS5 hello response: %w", err)
	}
	if resp[0] != 0x05 {
		return fmt.Errorf("proxy: unexpected SOCKS version %d", resp[0])
	}

	switch resp[1] {
	case 0x00:
		return nil
	case 0x02:
		return p.authenticate(conn)
	case 0xff:
		return fmt.Errorf("proxy: SOCKS5 server rejected all auth methods")
	default:
		return fmt.Errorf("proxy: unsupported SOCKS5 auth method %d", resp[1])
	}
}

func (p *SOCKS5) authenticate(conn net.Conn) error {
	req := []byte{0x01, byte(len(p.Username))}
	req = append(req, p.Username...)
	req = append(req, byte(len(p.Password)))
	req = append(req, p.Password...)
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: sending SOCKS5 credentials: %w", err)
	}
	resp := make([]byte, 2)
	if _, err := fullRead(conn, resp); err != nil {
		return fmt.Errorf("proxy: reading SOCKS5 auth response: %w", err)
	}
	if resp[1] != 0x00 {
		return fmt.Errorf("proxy: SOCKS5 authentication failed")
	}
	return nil
}

func (p *SOCKS5) sendConnect(conn net.Conn, host string, port int) error {
	req := []byte{0x05, 0x01, 0x00}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			req = append(req, 0x01)
			req = append(req, ip4...)
		} else {
			req = append(req, 0x04)
			req = append(req, ip.To16()...)
		}
	} else {
		req = append(req, 0x03, byte(len(host)))
		req = append(req, host...)
	}
	req = binary.BigEndian.AppendUint16(req, uint16(port))

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: sending SOCKS5 connect request: %w", err)
	}

	header := make([]byte, 4)
	if _, err := fullRead(conn, header); err != nil {
		return fmt.Errorf("proxy: reading SOCKS5 connect response: %w", err)
	}
	if header[1] != 0x00 {
		return fmt.Errorf("proxy: SOCKS5 connect failed, code %d", header[1])
	}

	var addrLen int
	switch header[3] {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		lenByte := make([]byte, 1)
		if _, err := fullRead(conn, lenByte); err != nil {
			return fmt.Errorf("proxy: reading SOCKS5 bound address length: %w", err)
		}
		addrLen = int(lenByte[0])
	default:
		return fmt.Errorf("proxy: unknown SOCKS5 address type %d", header[3])
	}
	if _, err := fullRead(conn, make([]byte, addrLen+2)); err != nil {
		return fmt.Errorf("proxy: reading SOCKS5 bound address: %w", err)
	}
	return nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
