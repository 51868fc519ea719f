// Package pop3 implements a POP3/POP3S client (RFC 1939), mirroring the
// connection/command shape of the imap client package but for POP3's much
// simpler single-line and dot-stuffed-multiline response grammar.
package pop3

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outpostmail/mailkit/auth"
	"github.com/outpostmail/mailkit/transport"
	"github.com/outpostmail/mailkit/wire"
)

// State is the POP3 session state (RFC 1939 §3).
type State int

const (
	StateAuthorization State = iota
	StateTransaction
	StateUpdate
)

// Client is a POP3 client connection.
type Client struct {
	conn      *transport.Conn
	dec       *wire.Decoder
	state     State
	timestamp string // APOP greeting timestamp, empty if the server omitted one
	caps      map[string]bool

	// Timeout bounds each command write and each response read
	// (including a whole multiline body). Zero or negative disables the
	// per-operation deadline.
	Timeout time.Duration
}

// Dial connects to a POP3 server over plain TCP.
func Dial(ctx context.Context, addr string, d *transport.Dialer) (*Client, error) {
	if d == nil {
		d = &transport.Dialer{}
	}
	conn, err := d.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return newClient(conn)
}

// DialTLS connects to a POP3S server with implicit TLS.
func DialTLS(ctx context.Context, addr string, d *transport.Dialer) (*Client, error) {
	if d == nil {
		d = &transport.Dialer{}
	}
	conn, err := d.DialTLS(ctx, addr)
	if err != nil {
		return nil, err
	}
	return newClient(conn)
}

func newClient(conn *transport.Conn) (*Client, error) {
	c := &Client{conn: conn, dec: wire.NewDecoder(conn), state: StateAuthorization, Timeout: 2 * time.Minute}
	if err := c.readGreeting(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// armRead installs the per-operation read deadline; the returned func
// clears it again.
func (c *Client) armRead() func() {
	if c.Timeout <= 0 {
		return func() {}
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	return func() { _ = c.conn.SetReadDeadline(time.Time{}) }
}

func (c *Client) readGreeting() error {
	defer c.armRead()()
	line, err := c.dec.ReadLine()
	if err != nil {
		return fmt.Errorf("pop3: reading greeting: %w", err)
	}
	if !strings.HasPrefix(line, "+OK") {
		return fmt.Errorf("pop3: server rejected connection: %s", line)
	}
	if i := strings.IndexByte(line, '<'); i >= 0 {
		if j := strings.IndexByte(line[i:], '>'); j >= 0 {
			c.timestamp = line[i : i+j+1]
		}
	}
	return nil
}

// Timestamp returns the greeting banner's APOP timestamp, or "" if the
// server did not advertise one.
func (c *Client) Timestamp() string { return c.timestamp }

func (c *Client) sendLine(line string) error {
	if c.Timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

// command sends a command line and reads the single-line +OK/-ERR status.
func (c *Client) command(line string) (text string, err error) {
	if err := c.sendLine(line); err != nil {
		return "", fmt.Errorf("pop3: sending command: %w", err)
	}
	return c.readStatus()
}

func (c *Client) readStatus() (string, error) {
	defer c.armRead()()
	resp, err := c.dec.ReadLine()
	if err != nil {
		return "", fmt.Errorf("pop3: reading response: %w", err)
	}
	switch {
	case strings.HasPrefix(resp, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(resp, "+OK")), nil
	case strings.HasPrefix(resp, "-ERR"):
		return "", &Error{Text: strings.TrimSpace(strings.TrimPrefix(resp, "-ERR"))}
	default:
		return "", fmt.Errorf("pop3: malformed response: %s", resp)
	}
}

// Error is a -ERR server response.
type Error struct{ Text string }

func (e *Error) Error() string { return "pop3: " + e.Text }

func (c *Client) multiline() (string, error) {
	defer c.armRead()()
	return wire.NewDotStuffReader(c.dec).ReadAll()
}

// USER sends the username (RFC 1939 §7).
func (c *Client) USER(name string) error {
	_, err := c.command("USER " + name)
	return err
}

// PASS sends the password, completing USER/PASS authentication.
func (c *Client) PASS(password string) error {
	_, err := c.command("PASS " + password)
	if err == nil {
		c.state = StateTransaction
	}
	return err
}

// APOP authenticates with a single round trip using the greeting
// timestamp and a shared secret (RFC 1939 §7): the digest sent is
// MD5(timestamp + secret) in lowercase hex. Fails if the greeting
// carried no timestamp.
func (c *Client) APOP(name, secret string) error {
	if c.timestamp == "" {
		return fmt.Errorf("pop3: server greeting did not offer an APOP timestamp")
	}
	sum := md5.Sum([]byte(c.timestamp + secret))
	_, err := c.command("APOP " + name + " " + hex.EncodeToString(sum[:]))
	if err == nil {
		c.state = StateTransaction
	}
	return err
}

// CAPA lists server capabilities (RFC 2449).
func (c *Client) CAPA() ([]string, error) {
	if _, err := c.command("CAPA"); err != nil {
		return nil, err
	}
	body, err := c.multiline()
	if err != nil {
		return nil, err
	}
	var caps []string
	c.caps = make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		caps = append(caps, line)
		c.caps[strings.ToUpper(strings.Fields(line)[0])] = true
	}
	return caps, nil
}

// HasCap reports whether a prior CAPA call advertised name.
func (c *Client) HasCap(name string) bool {
	return c.caps[strings.ToUpper(name)]
}

// STLS upgrades the connection to TLS in place (RFC 2595).
func (c *Client) STLS(ctx context.Context, cfg *tls.Config) error {
	if _, err := c.command("STLS"); err != nil {
		return err
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if err := c.conn.StartTLS(ctx, cfg); err != nil {
		return err
	}
	c.dec = wire.NewDecoder(c.conn)
	return nil
}

// Authenticate runs a SASL mechanism via AUTH (RFC 5034).
func (c *Client) Authenticate(mech auth.ClientMechanism) error {
	ir, err := mech.Start()
	if err != nil {
		return fmt.Errorf("pop3: starting %s: %w", mech.Name(), err)
	}

	line := "AUTH " + mech.Name()
	if ir != nil {
		line += " " + base64.StdEncoding.EncodeToString(ir)
	}
	if err := c.sendLine(line); err != nil {
		return err
	}

	for {
		clear := c.armRead()
		resp, err := c.dec.ReadLine()
		clear()
		if err != nil {
			return fmt.Errorf("pop3: reading auth response: %w", err)
		}
		if strings.HasPrefix(resp, "+OK") {
			c.state = StateTransaction
			return nil
		}
		if strings.HasPrefix(resp, "-ERR") {
			return &Error{Text: strings.TrimSpace(strings.TrimPrefix(resp, "-ERR"))}
		}
		if !strings.HasPrefix(resp, "+ ") && resp != "+" {
			return fmt.Errorf("pop3: unexpected auth continuation: %s", resp)
		}
		challenge, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(strings.TrimPrefix(resp, "+"), " "))
		if err != nil {
			return fmt.Errorf("pop3: decoding challenge: %w", err)
		}
		reply, err := mech.Next(challenge)
		if err != nil {
			return fmt.Errorf("pop3: mechanism step: %w", err)
		}
		if err := c.sendLine(base64.StdEncoding.EncodeToString(reply)); err != nil {
			return err
		}
	}
}

// Stat returns the message count and total size in octets (RFC 1939 §5).
func (c *Client) Stat() (count int, size int64, err error) {
	text, err := c.command("STAT")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("pop3: malformed STAT response: %q", text)
	}
	count, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("pop3: malformed STAT count: %w", err)
	}
	size, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("pop3: malformed STAT size: %w", err)
	}
	return count, size, nil
}

// ListEntry is one message's number and size from LIST/UIDL.
type ListEntry struct {
	Num   int
	Size  int64
	UniqueID string
}

// List returns the size of every message, or of a single message if msg > 0.
func (c *Client) List(msg int) ([]ListEntry, error) {
	if msg > 0 {
		text, err := c.command(fmt.Sprintf("LIST %d", msg))
		if err != nil {
			return nil, err
		}
		entry, err := parseListLine(text)
		if err != nil {
			return nil, err
		}
		return []ListEntry{entry}, nil
	}

	if _, err := c.command("LIST"); err != nil {
		return nil, err
	}
	body, err := c.multiline()
	if err != nil {
		return nil, err
	}
	return parseListBody(body, false)
}

// UIDL returns persistent unique IDs for every message, or for one message.
func (c *Client) UIDL(msg int) ([]ListEntry, error) {
	if msg > 0 {
		text, err := c.command(fmt.Sprintf("UIDL %d", msg))
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("pop3: malformed UIDL response: %q", text)
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("pop3: malformed UIDL number: %w", err)
		}
		return []ListEntry{{Num: num, UniqueID: fields[1]}}, nil
	}

	if _, err := c.command("UIDL"); err != nil {
		return nil, err
	}
	body, err := c.multiline()
	if err != nil {
		return nil, err
	}
	return parseListBody(body, true)
}

func parseListLine(text string) (ListEntry, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ListEntry{}, fmt.Errorf("pop3: malformed LIST response: %q", text)
	}
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return ListEntry{}, fmt.Errorf("pop3: malformed LIST number: %w", err)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return ListEntry{}, fmt.Errorf("pop3: malformed LIST size: %w", err)
	}
	return ListEntry{Num: num, Size: size}, nil
}

func parseListBody(body string, uidl bool) ([]ListEntry, error) {
	var entries []ListEntry
	for _, line := range strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("pop3: malformed list entry: %q", line)
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("pop3: malformed entry number: %w", err)
		}
		if uidl {
			entries = append(entries, ListEntry{Num: num, UniqueID: fields[1]})
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pop3: malformed entry size: %w", err)
		}
		entries = append(entries, ListEntry{Num: num, Size: size})
	}
	return entries, nil
}

// Retr retrieves a full message (RFC 1939 §5).
func (c *Client) Retr(msg int) (string, error) {
	if _, err := c.command(fmt.Sprintf("RETR %d", msg)); err != nil {
		return "", err
	}
	return c.multiline()
}

// Top retrieves the header plus the first n lines of the body (RFC 1939 §7).
func (c *Client) Top(msg, n int) (string, error) {
	if _, err := c.command(fmt.Sprintf("TOP %d %d", msg, n)); err != nil {
		return "", err
	}
	return c.multiline()
}

// UTF8 opts the session into UTF-8 mode (RFC 6856); servers that
// advertise UTF8 then accept and emit UTF-8 in responses and arguments.
func (c *Client) UTF8() error {
	_, err := c.command("UTF8")
	return err
}

// Lang selects the language for server response text (RFC 6856 §3). An
// empty tag sends a bare LANG, which returns the multiline listing of
// languages the server offers.
func (c *Client) Lang(tag string) (string, error) {
	if tag == "" {
		if _, err := c.command("LANG"); err != nil {
			return "", err
		}
		return c.multiline()
	}
	return c.command("LANG " + tag)
}

// Dele marks a message for deletion, effective on QUIT.
func (c *Client) Dele(msg int) error {
	_, err := c.command(fmt.Sprintf("DELE %d", msg))
	return err
}

// Noop is a keepalive no-op.
func (c *Client) Noop() error {
	_, err := c.command("NOOP")
	return err
}

// Rset unmarks every message queued for deletion this session.
func (c *Client) Rset() error {
	_, err := c.command("RSET")
	return err
}

// Quit ends the session, committing queued deletions, and closes the
// connection.
func (c *Client) Quit() error {
	_, err := c.command("QUIT")
	c.state = StateUpdate
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}
