// Package smtp implements an SMTP/ESMTP client (RFC 5321), reusing the
// transport and wire packages the IMAP client already relies on for
// dialing/TLS and line framing, adapted for SMTP's reply-code grammar
// instead of IMAP's tagged responses.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outpostmail/mailkit/auth"
	"github.com/outpostmail/mailkit/transport"
	"github.com/outpostmail/mailkit/wire"
)

// Client is an SMTP client connection.
type Client struct {
	conn       *transport.Conn
	dec        *wire.Decoder
	helloName  string
	extensions map[string][]string

	// Timeout bounds each command write and each reply read. Zero or
	// negative disables the per-operation deadline.
	Timeout time.Duration
}

// Reply is a parsed SMTP reply: a three-digit code, optional RFC 3463
// enhanced status code, and the reply text (possibly multi-line).
type Reply struct {
	Code           int
	EnhancedStatus string
	Lines          []string
}

// Error wraps a negative (4xx/5xx) SMTP reply.
type Error struct{ Reply Reply }

func (e *Error) Error() string {
	return fmt.Sprintf("smtp: %d %s", e.Reply.Code, strings.Join(e.Reply.Lines, "; "))
}

// Dial connects over plain TCP and reads the greeting.
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

// DialTLS connects with implicit TLS (SMTPS, port 465) and reads the
// greeting.
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
	c := &Client{conn: conn, dec: wire.NewDecoder(conn), Timeout: 2 * time.Minute}
	reply, err := c.readReply()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Code != 220 {
		conn.Close()
		return nil, &Error{Reply: reply}
	}
	return c, nil
}

// write sends raw bytes, bounding the write with Timeout.
func (c *Client) write(p []byte) error {
	if c.Timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(p)
	return err
}

// readReply parses a (possibly multi-line) SMTP reply: lines of the form
// "250-text" continue, "250 text" (or "250<SP>") ends the reply. The
// whole reply read is bounded by Timeout.
func (c *Client) readReply() (Reply, error) {
	if c.Timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	var reply Reply
	for {
		line, err := c.dec.ReadLine()
		if err != nil {
			return reply, fmt.Errorf("smtp: reading reply: %w", err)
		}
		if len(line) < 4 {
			return reply, fmt.Errorf("smtp: malformed reply line: %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return reply, fmt.Errorf("smtp: malformed reply code: %q", line)
		}
		reply.Code = code
		text := line[4:]
		reply.Lines = append(reply.Lines, text)
		if reply.EnhancedStatus == "" {
			if es, rest, ok := splitEnhancedStatus(text); ok {
				reply.EnhancedStatus = es
				reply.Lines[len(reply.Lines)-1] = rest
			}
		}
		if line[3] == ' ' {
			return reply, nil
		}
		if line[3] != '-' {
			return reply, fmt.Errorf("smtp: malformed reply separator: %q", line)
		}
	}
}

func splitEnhancedStatus(text string) (status, rest string, ok bool) {
	fields := strings.SplitN(text, " ", 2)
	if len(fields) == 0 {
		return "", text, false
	}
	parts := strings.Split(fields[0], ".")
	if len(parts) != 3 {
		return "", text, false
	}
	for _, p := range parts {
		if p == "" {
			return "", text, false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return "", text, false
			}
		}
	}
	if len(fields) == 2 {
		return fields[0], fields[1], true
	}
	return fields[0], "", true
}

func (c *Client) cmd(line string) (Reply, error) {
	if err := c.write([]byte(line + "\r\n")); err != nil {
		return Reply{}, fmt.Errorf("smtp: sending command: %w", err)
	}
	reply, err := c.readReply()
	if err != nil {
		return Reply{}, err
	}
	if reply.Code >= 400 {
		return reply, &Error{Reply: reply}
	}
	return reply, nil
}

// Hello sends EHLO, falling back to HELO if the server doesn't support
// ESMTP, and records the advertised extensions.
func (c *Client) Hello(localName string) error {
	c.helloName = localName
	reply, err := c.cmd("EHLO " + localName)
	if err != nil {
		var smtpErr *Error
		if ok := asSMTPError(err, &smtpErr); ok && smtpErr.Reply.Code >= 500 {
			heloReply, heloErr := c.cmd("HELO " + localName)
			if heloErr != nil {
				return heloErr
			}
			c.extensions = map[string][]string{}
			_ = heloReply
			return nil
		}
		return err
	}

	c.extensions = make(map[string][]string)
	for _, line := range reply.Lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := strings.ToUpper(fields[0])
		c.extensions[name] = fields[1:]
	}
	return nil
}

func asSMTPError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}

// HasExtension reports whether the server advertised name in its EHLO
// response.
func (c *Client) HasExtension(name string) bool {
	_, ok := c.extensions[strings.ToUpper(name)]
	return ok
}

// ExtensionParams returns the parameters advertised for an extension.
func (c *Client) ExtensionParams(name string) []string {
	return c.extensions[strings.ToUpper(name)]
}

// StartTLS issues STARTTLS and upgrades the connection, then re-sends
// EHLO as RFC 3207 requires (capabilities must be re-negotiated).
func (c *Client) StartTLS(ctx context.Context, cfg *tls.Config) error {
	if _, err := c.cmd("STARTTLS"); err != nil {
		return err
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if err := c.conn.StartTLS(ctx, cfg); err != nil {
		return err
	}
	c.dec = wire.NewDecoder(c.conn)
	return c.Hello(c.helloName)
}

// Authenticate runs a SASL mechanism via AUTH (RFC 4954).
func (c *Client) Authenticate(mech auth.ClientMechanism) error {
	ir, err := mech.Start()
	if err != nil {
		return fmt.Errorf("smtp: starting %s: %w", mech.Name(), err)
	}

	line := "AUTH " + mech.Name()
	if ir != nil {
		line += " " + base64.StdEncoding.EncodeToString(ir)
	}
	if err := c.write([]byte(line + "\r\n")); err != nil {
		return err
	}

	for {
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.Code == 235 {
			return nil
		}
		if reply.Code >= 400 {
			return &Error{Reply: reply}
		}
		if reply.Code != 334 {
			return fmt.Errorf("smtp: unexpected auth reply code %d", reply.Code)
		}
		var challenge []byte
		if len(reply.Lines) > 0 {
			challenge, err = base64.StdEncoding.DecodeString(reply.Lines[0])
			if err != nil {
				return fmt.Errorf("smtp: decoding challenge: %w", err)
			}
		}
		resp, err := mech.Next(challenge)
		if err != nil {
			return fmt.Errorf("smtp: mechanism step: %w", err)
		}
		if err := c.write([]byte(base64.StdEncoding.EncodeToString(resp) + "\r\n")); err != nil {
			return err
		}
	}
}

// MailOptions configures the MAIL FROM command.
type MailOptions struct {
	Size         int64  // SIZE, 0 to omit
	Body8BitMIME bool   // BODY=8BITMIME, requires the 8BITMIME extension
	BinaryMIME   bool   // BODY=BINARYMIME, requires CHUNKING (RFC 3030)
	SMTPUTF8     bool   // SMTPUTF8
	RequireTLS   bool   // REQUIRETLS (RFC 8689)
	DSNEnvID     string // ENVID (RFC 3461)
	DSNRet       string // RET=FULL or RET=HDRS (RFC 3461)
}

// Mail sends MAIL FROM.
func (c *Client) Mail(from string, opts MailOptions) error {
	_, err := c.cmd(mailLine(from, opts))
	return err
}

func mailLine(from string, opts MailOptions) string {
	line := "MAIL FROM:<" + from + ">"
	if opts.Size > 0 {
		line += fmt.Sprintf(" SIZE=%d", opts.Size)
	}
	if opts.BinaryMIME {
		line += " BODY=BINARYMIME"
	} else if opts.Body8BitMIME {
		line += " BODY=8BITMIME"
	}
	if opts.SMTPUTF8 {
		line += " SMTPUTF8"
	}
	if opts.RequireTLS {
		line += " REQUIRETLS"
	}
	if opts.DSNEnvID != "" {
		line += " ENVID=" + opts.DSNEnvID
	}
	if opts.DSNRet != "" {
		line += " RET=" + strings.ToUpper(opts.DSNRet)
	}
	return line
}

// NeedsSMTPUTF8 reports whether delivering this envelope requires the
// SMTPUTF8 extension: a non-ASCII byte in any address or in the message
// header block (the body's charset is the MIME layer's concern, not the
// envelope's).
func NeedsSMTPUTF8(from string, to []string, body []byte) bool {
	if !isASCII([]byte(from)) {
		return true
	}
	for _, rcpt := range to {
		if !isASCII([]byte(rcpt)) {
			return true
		}
	}
	header := body
	if i := bytes.Index(body, []byte("\r\n\r\n")); i >= 0 {
		header = body[:i]
	} else if i := bytes.Index(body, []byte("\n\n")); i >= 0 {
		header = body[:i]
	}
	return !isASCII(header)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// RcptNotify configures DSN per-recipient NOTIFY values (RFC 3461).
type RcptNotify struct {
	Success bool
	Failure bool
	Delay   bool
	Never   bool
}

// RcptOptions configures the RCPT TO command.
type RcptOptions struct {
	Notify RcptNotify
	ORcpt  string // original recipient, ORCPT=
}

// Rcpt sends RCPT TO for a single recipient.
func (c *Client) Rcpt(to string, opts RcptOptions) error {
	_, err := c.cmd(rcptLine(to, opts))
	return err
}

func rcptLine(to string, opts RcptOptions) string {
	line := "RCPT TO:<" + to + ">"
	var notify []string
	if opts.Notify.Never {
		notify = []string{"NEVER"}
	} else {
		if opts.Notify.Success {
			notify = append(notify, "SUCCESS")
		}
		if opts.Notify.Failure {
			notify = append(notify, "FAILURE")
		}
		if opts.Notify.Delay {
			notify = append(notify, "DELAY")
		}
	}
	if len(notify) > 0 {
		line += " NOTIFY=" + strings.Join(notify, ",")
	}
	if opts.ORcpt != "" {
		line += " ORCPT=" + opts.ORcpt
	}
	return line
}

// RcptResult is the per-recipient outcome of a Transaction call.
type RcptResult struct {
	To  string
	Err error
}

// Transaction runs MAIL FROM, one RCPT TO per recipient, and DATA as a
// single pipelined batch when the server advertised PIPELINING (RFC
// 2920): every command is written before any reply is read, and replies
// are then consumed strictly in command order. A server that accepts
// none of the recipients rejects the pipelined DATA itself, so no
// client-side recipient count is needed before sending it. Falls back
// to one command at a time, waiting for each reply, when PIPELINING
// isn't advertised or CHUNKING is (BDAT's per-chunk replies don't fit
// the write-everything-then-read-everything shape).
func (c *Client) Transaction(from string, mailOpts MailOptions, to []string, rcptOpts []RcptOptions, body []byte) ([]RcptResult, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("smtp: transaction requires at least one recipient")
	}
	if rcptOpts == nil {
		rcptOpts = make([]RcptOptions, len(to))
	}
	if !c.HasExtension("PIPELINING") || c.HasExtension("CHUNKING") {
		return c.transactionSequential(from, mailOpts, to, rcptOpts, body)
	}
	return c.transactionPipelined(from, mailOpts, to, rcptOpts, body)
}

func (c *Client) transactionSequential(from string, mailOpts MailOptions, to []string, rcptOpts []RcptOptions, body []byte) ([]RcptResult, error) {
	if err := c.Mail(from, mailOpts); err != nil {
		return nil, err
	}

	results := make([]RcptResult, len(to))
	accepted := 0
	for i, rcpt := range to {
		err := c.Rcpt(rcpt, rcptOpts[i])
		results[i] = RcptResult{To: rcpt, Err: err}
		if err == nil {
			accepted++
		}
	}
	if accepted == 0 {
		return results, fmt.Errorf("smtp: no recipients were accepted")
	}
	return results, c.Data(body)
}

func (c *Client) transactionPipelined(from string, mailOpts MailOptions, to []string, rcptOpts []RcptOptions, body []byte) ([]RcptResult, error) {
	var cmds bytes.Buffer
	cmds.WriteString(mailLine(from, mailOpts))
	cmds.WriteString("\r\n")
	for i, rcpt := range to {
		cmds.WriteString(rcptLine(rcpt, rcptOpts[i]))
		cmds.WriteString("\r\n")
	}
	cmds.WriteString("DATA\r\n")
	if err := c.write(cmds.Bytes()); err != nil {
		return nil, fmt.Errorf("smtp: sending pipelined transaction: %w", err)
	}

	mailReply, err := c.readReply()
	if err != nil {
		return nil, err
	}
	if mailReply.Code >= 400 {
		return nil, &Error{Reply: mailReply}
	}

	results := make([]RcptResult, len(to))
	for i, rcpt := range to {
		reply, err := c.readReply()
		if err != nil {
			return results, err
		}
		if reply.Code >= 400 {
			err = &Error{Reply: reply}
		}
		results[i] = RcptResult{To: rcpt, Err: err}
	}

	dataReply, err := c.readReply()
	if err != nil {
		return results, err
	}
	if dataReply.Code >= 400 {
		return results, &Error{Reply: dataReply}
	}

	var bodyBuf bytes.Buffer
	if err := wire.WriteDotStuffed(&bodyBuf, body); err != nil {
		return results, err
	}
	if err := c.write(bodyBuf.Bytes()); err != nil {
		return results, fmt.Errorf("smtp: writing message body: %w", err)
	}
	finalReply, err := c.readReply()
	if err != nil {
		return results, err
	}
	if finalReply.Code >= 400 {
		return results, &Error{Reply: finalReply}
	}
	return results, nil
}

// Data sends the message body with DATA, dot-stuffing it, or BDAT chunks
// if the server advertised CHUNKING (RFC 3030).
func (c *Client) Data(body []byte) error {
	if c.HasExtension("CHUNKING") {
		return c.bdat(body)
	}

	if _, err := c.cmd("DATA"); err != nil {
		return err
	}
	// DATA's intermediate "354" reply is itself a non-error 3xx code that
	// cmd() treats as success since it is below 400.
	var buf bytes.Buffer
	if err := wire.WriteDotStuffed(&buf, body); err != nil {
		return err
	}
	if err := c.write(buf.Bytes()); err != nil {
		return fmt.Errorf("smtp: writing message body: %w", err)
	}
	reply, err := c.readReply()
	if err != nil {
		return err
	}
	if reply.Code >= 400 {
		return &Error{Reply: reply}
	}
	return nil
}

func (c *Client) bdat(body []byte) error {
	const chunkSize = 1 << 16
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		last := false
		if end >= len(body) {
			end = len(body)
			last = true
		}
		chunk := body[offset:end]
		verb := fmt.Sprintf("BDAT %d", len(chunk))
		if last {
			verb += " LAST"
		}
		if err := c.write([]byte(verb + "\r\n")); err != nil {
			return fmt.Errorf("smtp: sending BDAT: %w", err)
		}
		if err := c.write(chunk); err != nil {
			return fmt.Errorf("smtp: writing BDAT chunk: %w", err)
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.Code >= 400 {
			return &Error{Reply: reply}
		}
	}
	return nil
}

// SendMail dials, greets, authenticates (if mech != nil), and delivers one
// message in a single call, convenient for fire-and-forget sends.
func SendMail(ctx context.Context, addr, localName string, mech auth.ClientMechanism, from string, mailOpts MailOptions, to []string, body []byte) error {
	c, err := Dial(ctx, addr, nil)
	if err != nil {
		return err
	}
	defer c.conn.Close()

	if err := c.Hello(localName); err != nil {
		return err
	}
	if mech != nil {
		if err := c.Authenticate(mech); err != nil {
			return err
		}
	}
	results, err := c.Transaction(from, mailOpts, to, nil, body)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("smtp: recipient %s rejected: %w", r.To, r.Err)
		}
	}
	_, err = c.cmd("QUIT")
	return err
}

// Verify asks the server to confirm that addr names a valid recipient
// (VRFY). Many servers answer 252 without actually checking.
func (c *Client) Verify(addr string) (Reply, error) {
	return c.cmd("VRFY " + addr)
}

// Expand asks the server to expand a mailing-list address (EXPN); the
// reply's lines carry one member per line when the server permits it.
func (c *Client) Expand(list string) (Reply, error) {
	return c.cmd("EXPN " + list)
}

// Help returns the server's HELP text, optionally for a specific verb.
func (c *Client) Help(topic string) (Reply, error) {
	line := "HELP"
	if topic != "" {
		line += " " + topic
	}
	return c.cmd(line)
}

// Noop sends a no-op keepalive.
func (c *Client) Noop() error {
	_, err := c.cmd("NOOP")
	return err
}

// Reset sends RSET, aborting the current mail transaction.
func (c *Client) Reset() error {
	_, err := c.cmd("RSET")
	return err
}

// Quit sends QUIT and closes the connection.
func (c *Client) Quit() error {
	_, err := c.cmd("QUIT")
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}

