package smtp

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/outpostmail/mailkit/transport"
)

func dialFake(t *testing.T, serve func(r *bufio.Reader, w net.Conn)) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	go func() {
		w := bufio.NewWriter(serverConn)
		w.WriteString("220 mail.example.com ESMTP\r\n")
		w.Flush()
		serve(bufio.NewReader(serverConn), serverConn)
	}()

	c, err := newClient(transport.WrapConn(clientConn))
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	c.extensions = map[string][]string{"PIPELINING": nil}
	return c
}

func writeLine(t *testing.T, w net.Conn, line string) {
	t.Helper()
	if _, err := w.Write([]byte(line + "\r\n")); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func TestTransactionPipelinedAllAccepted(t *testing.T) {
	c := dialFake(t, func(r *bufio.Reader, w net.Conn) {
		line, _ := r.ReadString('\n') // MAIL FROM
		_ = line
		writeLine(t, w, "250 OK")

		r.ReadString('\n') // RCPT TO alice
		writeLine(t, w, "250 OK")
		r.ReadString('\n') // RCPT TO bob
		writeLine(t, w, "250 OK")

		r.ReadString('\n') // DATA
		writeLine(t, w, "354 go ahead")

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == ".\r\n" {
				writeLine(t, w, "250 Message accepted")
				return
			}
		}
	})

	results, err := c.Transaction("sender@example.com", MailOptions{}, []string{"alice@example.com", "bob@example.com"}, nil, []byte("Subject: hi\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("recipient %s: %v", r.To, r.Err)
		}
	}
}

func TestTransactionPipelinedPartialRejection(t *testing.T) {
	c := dialFake(t, func(r *bufio.Reader, w net.Conn) {
		r.ReadString('\n') // MAIL FROM
		writeLine(t, w, "250 OK")

		r.ReadString('\n') // RCPT TO alice
		writeLine(t, w, "250 OK")
		r.ReadString('\n') // RCPT TO bob
		writeLine(t, w, "550 No such user")

		r.ReadString('\n') // DATA
		writeLine(t, w, "354 go ahead")

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == ".\r\n" {
				writeLine(t, w, "250 Message accepted")
				return
			}
		}
	})

	results, err := c.Transaction("sender@example.com", MailOptions{}, []string{"alice@example.com", "bob@example.com"}, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("alice should be accepted, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("bob should have been rejected")
	}
}

func TestTransactionPipelinedNoneAccepted(t *testing.T) {
	c := dialFake(t, func(r *bufio.Reader, w net.Conn) {
		r.ReadString('\n') // MAIL FROM
		writeLine(t, w, "250 OK")
		r.ReadString('\n') // RCPT TO
		writeLine(t, w, "550 No such user")
		r.ReadString('\n') // DATA
		writeLine(t, w, "554 no valid recipients")
	})

	results, err := c.Transaction("sender@example.com", MailOptions{}, []string{"nobody@example.com"}, nil, []byte("hi"))
	if err == nil {
		t.Fatal("expected an error when the server rejects DATA outright")
	}
	if results[0].Err == nil {
		t.Error("expected the lone recipient to be reported as rejected")
	}
}

func TestTransactionFallsBackWithoutPipelining(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	go func() {
		w := bufio.NewWriter(serverConn)
		w.WriteString("220 mail.example.com ESMTP\r\n")
		w.Flush()
		r := bufio.NewReader(serverConn)

		r.ReadString('\n')
		writeLine(t, serverConn, "250 OK")
		r.ReadString('\n')
		writeLine(t, serverConn, "250 OK")
		r.ReadString('\n')
		writeLine(t, serverConn, "354 go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == ".\r\n" {
				writeLine(t, serverConn, "250 OK")
				return
			}
		}
	}()

	c, err := newClient(transport.WrapConn(clientConn))
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	c.extensions = map[string][]string{}

	done := make(chan error, 1)
	go func() {
		_, err := c.Transaction("sender@example.com", MailOptions{}, []string{"alice@example.com"}, nil, []byte("hi"))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Transaction: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transaction timed out")
	}
}

func TestMailLineParameters(t *testing.T) {
	tests := []struct {
		opts MailOptions
		want string
	}{
		{MailOptions{}, "MAIL FROM:<a@x>"},
		{MailOptions{Size: 42}, "MAIL FROM:<a@x> SIZE=42"},
		{MailOptions{Body8BitMIME: true}, "MAIL FROM:<a@x> BODY=8BITMIME"},
		{MailOptions{BinaryMIME: true, Body8BitMIME: true}, "MAIL FROM:<a@x> BODY=BINARYMIME"},
		{MailOptions{SMTPUTF8: true, RequireTLS: true}, "MAIL FROM:<a@x> SMTPUTF8 REQUIRETLS"},
		{MailOptions{DSNEnvID: "abc", DSNRet: "hdrs"}, "MAIL FROM:<a@x> ENVID=abc RET=HDRS"},
	}
	for _, tt := range tests {
		if got := mailLine("a@x", tt.opts); got != tt.want {
			t.Errorf("mailLine(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestNeedsSMTPUTF8(t *testing.T) {
	if NeedsSMTPUTF8("a@x", []string{"b@y"}, []byte("Subject: hi\r\n\r\nplain")) {
		t.Error("all-ASCII envelope flagged as needing SMTPUTF8")
	}
	if !NeedsSMTPUTF8("ü@x", []string{"b@y"}, nil) {
		t.Error("non-ASCII sender not flagged")
	}
	if !NeedsSMTPUTF8("a@x", []string{"b@exämple.com"}, nil) {
		t.Error("non-ASCII recipient not flagged")
	}
	if !NeedsSMTPUTF8("a@x", []string{"b@y"}, []byte("Subject: héllo\r\n\r\nbody")) {
		t.Error("non-ASCII header not flagged")
	}
	if NeedsSMTPUTF8("a@x", []string{"b@y"}, []byte("Subject: hi\r\n\r\nhéllo body")) {
		t.Error("non-ASCII body alone should not require SMTPUTF8")
	}
}
