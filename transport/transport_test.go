package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDial_PlainConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello"))
	}()

	d := &Dialer{DialTimeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.False(t, conn.IsTLS())
}

func TestStartCompression_RoundTrips(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := newConn(server)
	cc := newConn(client)

	require.NoError(t, sc.StartCompression())
	require.NoError(t, cc.StartCompression())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sc.Write([]byte("compressed payload"))
		assert.NoError(t, err)
	}()

	buf := make([]byte, len("compressed payload"))
	_, err := io.ReadFull(cc, buf)
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(buf))
	<-done
}

func TestStartCompression_IsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := newConn(client)

	require.NoError(t, c.StartCompression())
	first := c.writer
	require.NoError(t, c.StartCompression())
	assert.Same(t, first, c.writer)
}

func TestChannelBindingData_NoTLS(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := newConn(client)

	_, _, ok := c.ChannelBindingData()
	assert.False(t, ok)
}
