package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	imap "github.com/outpostmail/mailkit"
)

func newFakeClient(t *testing.T, caps []string, serve func(r *bufio.Reader, w net.Conn)) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	go func() {
		fmt.Fprint(serverConn, "* OK ready\r\n")
		serve(bufio.NewReader(serverConn), serverConn)
	}()

	c, err := New(clientConn)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
	return c
}

func TestCompressNotAdvertised(t *testing.T) {
	c := newFakeClient(t, nil, func(r *bufio.Reader, w net.Conn) {})

	if err := c.Compress(); !errors.Is(err, ErrCompressNotSupported) {
		t.Errorf("Compress() error = %v, want ErrCompressNotSupported", err)
	}
}

func TestCompressCompressionActive(t *testing.T) {
	c := newFakeClient(t, []string{"COMPRESS=DEFLATE"}, func(r *bufio.Reader, w net.Conn) {
		line, _ := r.ReadString('\n')
		if !strings.Contains(line, "COMPRESS DEFLATE") {
			t.Errorf("unexpected command: %q", line)
		}
		tag := strings.Fields(line)[0]
		fmt.Fprintf(w, "%s NO [COMPRESSIONACTIVE] already compressed\r\n", tag)

		// The reader must still be live and uncompressed after the NO.
		line, _ = r.ReadString('\n')
		if strings.Contains(line, "NOOP") {
			tag = strings.Fields(line)[0]
			fmt.Fprintf(w, "%s OK done\r\n", tag)
		}
	})

	done := make(chan error, 2)
	go func() {
		if err := c.Compress(); err != nil {
			done <- fmt.Errorf("Compress: %w", err)
			return
		}
		done <- c.Noop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for COMPRESSIONACTIVE handling")
	}
}

func TestNotifyNotSupported(t *testing.T) {
	c := newFakeClient(t, nil, func(r *bufio.Reader, w net.Conn) {})

	if err := c.NotifyNone(); !errors.Is(err, ErrNotifyNotSupported) {
		t.Errorf("NotifyNone() error = %v, want ErrNotifyNotSupported", err)
	}
}

func TestNotifySetWireFormat(t *testing.T) {
	gotLine := make(chan string, 1)
	c := newFakeClient(t, []string{"NOTIFY"}, func(r *bufio.Reader, w net.Conn) {
		line, _ := r.ReadString('\n')
		gotLine <- strings.TrimRight(line, "\r\n")
		tag := strings.Fields(line)[0]
		fmt.Fprintf(w, "%s OK done\r\n", tag)
	})

	err := c.NotifySet(
		imap.NotifyFilter{Specifier: "SELECTED", Events: []string{"MessageNew", "MessageExpunge"}},
		imap.NotifyFilter{Specifier: "PERSONAL"},
	)
	if err != nil {
		t.Fatalf("NotifySet: %v", err)
	}

	line := <-gotLine
	want := "NOTIFY SET (SELECTED (MessageNew MessageExpunge)) (PERSONAL NONE)"
	if !strings.HasSuffix(line, want) {
		t.Errorf("sent %q, want suffix %q", line, want)
	}
}
