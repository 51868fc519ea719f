package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSOCKS5_NoAuthConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hello := make([]byte, 3)
		io.ReadFull(conn, hello)
		conn.Write([]byte{0x05, 0x00})

		header := make([]byte, 4)
		io.ReadFull(conn, header)
		host := make([]byte, header[3])
		io.ReadFull(conn, host)
		io.ReadFull(conn, make([]byte, 2))

		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		conn.Write([]byte("payload"))
	}()

	p := &SOCKS5{ProxyAddr: ln.Addr().String()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := p.DialContext(ctx, "tcp", "example.com:993")
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, len("payload"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestSOCKS4_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		head := make([]byte, 8)
		io.ReadFull(conn, head)
		// consume userid + NUL + (socks4a hostname + NUL if present)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil || buf[0] == 0 {
				break
			}
		}
		if head[4] == 0 && head[5] == 0 && head[6] == 0 && head[7] == 1 {
			for {
				if _, err := conn.Read(buf); err != nil || buf[0] == 0 {
					break
				}
			}
		}
		conn.Write([]byte{0x00, 0x5a, 0, 0, 0, 0, 0, 0})
	}()

	p := &SOCKS4{ProxyAddr: ln.Addr().String()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = p.DialContext(ctx, "tcp", "example.com:143")
	require.NoError(t, err)
}

func TestHTTPConnect_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		_ = n
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		conn.Write([]byte("payload"))
	}()

	p := &HTTPConnect{ProxyAddr: ln.Addr().String()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := p.DialContext(ctx, "tcp", "example.com:465")
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, len("payload"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}
