// Package client implements an IMAP client.
//
// The client supports pipelining (sending multiple commands before waiting
// for responses), automatic capability negotiation, and extensible
// response handling.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	imap "github.com/outpostmail/mailkit"
	"github.com/outpostmail/mailkit/state"
	"github.com/outpostmail/mailkit/wire"
)

// Client is an IMAP client.
type Client struct {
	conn    net.Conn
	encoder *wire.Encoder
	decoder *wire.Decoder
	options *Options
	tags    *tagGenerator
	pending *pendingCommands
	reader  *reader

	mu   sync.Mutex
	sm   *state.Machine
	caps        []string
	capsVersion int

	// selected holds the bookkeeping for the mailbox named by mailboxName,
	// or nil when nothing is selected. Replaced wholesale on every
	// SELECT/EXAMINE, cleared on CLOSE/UNSELECT/disconnect.
	mailboxName     string
	mailboxReadOnly bool
	selected        *imap.SelectedState

	// qresyncEvents receives QRESYNC deltas (VANISHED, flag/MODSEQ changes,
	// UIDVALIDITY changes) observed while a mailbox selected with QRESYNC
	// is open. Buffered so the reader goroutine never blocks on a slow
	// consumer; callers drain it with QresyncEvents().
	qresyncEvents chan imap.QresyncEvent

	// untaggedData collects untagged responses for the current command
	untaggedMu   sync.Mutex
	untaggedData []string

	// fetchRaw collects structured FETCH responses (line plus the literal
	// bytes referenced from it, in wire order) alongside untaggedData, so
	// FetchMessages/UIDFetchMessages can decode BODY[]/BINARY[] sections
	// without losing the association between a literal and the FETCH
	// response it belongs to.
	fetchRaw []fetchRawMessage

	// continuationCh is used to signal continuation requests to waiting commands
	continuationCh chan continuation

	// upgradeTag, when non-empty, names an in-flight command whose tagged
	// OK is followed by a connection-layer change (STARTTLS, COMPRESS
	// DEFLATE). The background reader exits after delivering that OK so
	// nothing reads from the old connection while the caller swaps it.
	upgradeTag string

	closed         bool
	disconnectOnce sync.Once
	disconnectCh   chan struct{}
	disconnectErr  error
}

type continuation struct {
	text string
	err  error
}

// New creates a new Client from an existing connection. It reads the
// server greeting (honoring PREAUTH and an inline CAPABILITY code) and
// starts the background response reader.
func New(conn net.Conn, opts ...Option) (*Client, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Client{
		conn:           conn,
		encoder:        wire.NewEncoder(conn),
		decoder:        wire.NewDecoder(conn),
		options:        options,
		tags:           newTagGenerator("A"),
		pending:        newPendingCommands(),
		continuationCh: make(chan continuation, 1),
		disconnectCh:   make(chan struct{}),
		qresyncEvents:  make(chan imap.QresyncEvent, 64),
		sm:             state.New(imap.ConnStateNotAuthenticated),
	}

	// Read the server greeting
	line, err := c.decoder.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("reading greeting: %w", err)
	}

	c.options.Logger.Debug("greeting", "line", line)

	// Parse greeting
	if strings.HasPrefix(line, "* OK") {
		// already NotAuthenticated
	} else if strings.HasPrefix(line, "* PREAUTH") {
		_ = c.sm.Transition(imap.ConnStateAuthenticated)
	} else if strings.HasPrefix(line, "* BYE") {
		return nil, fmt.Errorf("server rejected connection: %s", line)
	} else {
		return nil, fmt.Errorf("unexpected greeting: %s", line)
	}

	// Parse capabilities from greeting if present
	if bracketIdx := strings.Index(line, "[CAPABILITY "); bracketIdx >= 0 {
		end := strings.IndexByte(line[bracketIdx:], ']')
		if end > 0 {
			capStr := line[bracketIdx+12 : bracketIdx+end]
			c.caps = strings.Fields(capStr)
			c.capsVersion++
		}
	}

	// Start the background reader
	c.reader = newReader(c.decoder, c)
	go c.reader.run()

	return c, nil
}

// Dial connects to an IMAP server at the given address.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return New(conn, opts...)
}

// DialTLS connects to an IMAP server using TLS.
func DialTLS(addr string, config *tls.Config, opts ...Option) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial TLS: %w", err)
	}
	return New(conn, opts...)
}

// State returns the current connection state.
func (c *Client) State() imap.ConnState {
	return c.sm.State()
}

// setState transitions the client's connection-state machine. Every caller
// in this package only ever requests a transition the RFC 9051 state table
// (state.DefaultTransitions) already allows, so a rejected transition here
// indicates a logic error, not a protocol error; it is logged rather than
// panicking since the caller has already committed the underlying command.
func (c *Client) setState(target imap.ConnState) {
	if err := c.sm.Transition(target); err != nil {
		c.options.Logger.Debug("state transition rejected", "target", target, "error", err)
	}
}

// Selected returns the bookkeeping for the currently selected mailbox, or
// nil if no mailbox is selected.
func (c *Client) Selected() *imap.SelectedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// QresyncEvents returns the channel QRESYNC deltas (VANISHED, flag/MODSEQ
// changes, UIDVALIDITY changes) are delivered on while a mailbox opened
// with QRESYNC is selected. The channel is never closed by the client.
func (c *Client) QresyncEvents() <-chan imap.QresyncEvent {
	return c.qresyncEvents
}

func (c *Client) emitQresync(ev imap.QresyncEvent) {
	select {
	case c.qresyncEvents <- ev:
	default:
		c.options.Logger.Debug("qresync event dropped, consumer too slow")
	}
}

// Caps returns the server's capabilities.
func (c *Client) Caps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.caps))
	copy(result, c.caps)
	return result
}

// CapsVersion returns a counter bumped every time a CAPABILITY or
// untagged capability update replaces the server's advertised set, so
// callers that cache derived views (e.g. SASL mechanism lists) can
// detect a reissue without diffing the slice themselves.
func (c *Client) CapsVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capsVersion
}

// SaslMechanisms returns the AUTH= capability tokens with the "AUTH="
// prefix stripped, in the order the server advertised them.
func (c *Client) SaslMechanisms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mechs []string
	for _, s := range c.caps {
		if len(s) > 5 && strings.EqualFold(s[:5], "AUTH=") {
			mechs = append(mechs, s[5:])
		}
	}
	return mechs
}

// HasCap returns true if the server advertises the given capability.
func (c *Client) HasCap(cap string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	upper := strings.ToUpper(cap)
	for _, s := range c.caps {
		if strings.ToUpper(s) == upper {
			return true
		}
	}
	return false
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	c.handleDisconnect(errors.New("connection closed"))
	return err
}

// ErrTimeout is returned when a command's continuation or tagged
// response does not arrive within the configured deadline. The command
// is abandoned; a late response is absorbed by the pending-command
// bookkeeping without disturbing other commands.
var ErrTimeout = errors.New("imap: timeout waiting for server response")

// flush sends the encoder's buffered bytes, bounding the write with the
// configured WriteTimeout.
func (c *Client) flush() error {
	if d := c.options.WriteTimeout; d > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.encoder.Flush()
}

// writeConn writes raw bytes (literal payloads, IDLE's DONE) with the
// same WriteTimeout bound as flush.
func (c *Client) writeConn(p []byte) error {
	if d := c.options.WriteTimeout; d > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(p)
	return err
}

// awaitResult waits for a command's tagged response, bounded by timeout
// when positive.
func (c *Client) awaitResult(cmd *pendingCommand, timeout time.Duration) (*commandResult, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case result := <-cmd.done:
		if result.err != nil {
			return nil, result.err
		}
		return result, nil
	case <-timeoutCh:
		return nil, ErrTimeout
	}
}

// execute sends a command and waits for the tagged response.
func (c *Client) execute(name string, args ...string) (*commandResult, error) {
	tag := c.tags.Next()
	cmd := c.pending.Add(tag)

	// Build the command line
	var line strings.Builder
	line.WriteString(tag)
	line.WriteByte(' ')
	line.WriteString(name)
	for _, arg := range args {
		line.WriteByte(' ')
		line.WriteString(arg)
	}
	line.WriteString("\r\n")

	c.options.Logger.Debug("send", "line", strings.TrimRight(line.String(), "\r\n"))

	// Write the command
	c.encoder.RawString(line.String())
	if err := c.flush(); err != nil {
		c.pending.Complete(tag, &commandResult{err: err})
		return nil, err
	}

	return c.awaitResult(cmd, c.options.ReadTimeout)
}

// executeUpgrade sends a command whose tagged OK hands the connection to
// the caller for an in-place layer change (STARTTLS, COMPRESS DEFLATE).
// The background reader exits after delivering that OK; the caller must
// install the new connection and restart the reader. On NO/BAD the
// reader keeps running and the connection is unchanged.
func (c *Client) executeUpgrade(name string, args ...string) (*commandResult, error) {
	tag := c.tags.Next()
	cmd := c.pending.Add(tag)

	c.mu.Lock()
	c.upgradeTag = tag
	c.mu.Unlock()

	var line strings.Builder
	line.WriteString(tag)
	line.WriteByte(' ')
	line.WriteString(name)
	for _, arg := range args {
		line.WriteByte(' ')
		line.WriteString(arg)
	}
	line.WriteString("\r\n")

	c.options.Logger.Debug("send", "line", strings.TrimRight(line.String(), "\r\n"))

	c.encoder.RawString(line.String())
	if err := c.flush(); err != nil {
		c.mu.Lock()
		c.upgradeTag = ""
		c.mu.Unlock()
		c.pending.Complete(tag, &commandResult{err: err})
		return nil, err
	}

	return c.awaitResult(cmd, c.options.ReadTimeout)
}

// finishUpgrade is called by the reader for every tagged response it
// completes; it reports whether the reader should stop because this
// tag's OK hands the connection over to an executeUpgrade caller.
func (c *Client) finishUpgrade(tag string, ok bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upgradeTag != tag {
		return false
	}
	c.upgradeTag = ""
	return ok
}

// executeCheck executes a command and returns an error if the response is not OK.
func (c *Client) executeCheck(name string, args ...string) error {
	result, err := c.execute(name, args...)
	if err != nil {
		return err
	}
	return commandResultError(result)
}

// collectUntagged returns and clears collected untagged data.
func (c *Client) collectUntagged() []string {
	c.untaggedMu.Lock()
	defer c.untaggedMu.Unlock()
	data := c.untaggedData
	c.untaggedData = nil
	return data
}

// storeUntagged adds an untagged response to the collection.
func (c *Client) storeUntagged(line string) {
	c.untaggedMu.Lock()
	c.untaggedData = append(c.untaggedData, line)
	c.untaggedMu.Unlock()
}

// fetchRawMessage is one untagged FETCH response: the attribute text (with
// wire.litMarker placeholders where literals were collected) and the
// literals themselves, in the order they appear in text.
type fetchRawMessage struct {
	seqNum   uint32
	text     string
	literals [][]byte
}

// storeFetchRaw records a FETCH response for the structured decoder.
func (c *Client) storeFetchRaw(seqNum uint32, text string, literals [][]byte) {
	c.untaggedMu.Lock()
	c.fetchRaw = append(c.fetchRaw, fetchRawMessage{seqNum: seqNum, text: text, literals: literals})
	c.untaggedMu.Unlock()
}

// collectFetchRaw returns and clears the structured FETCH responses
// collected since the last call.
func (c *Client) collectFetchRaw() []fetchRawMessage {
	c.untaggedMu.Lock()
	defer c.untaggedMu.Unlock()
	data := c.fetchRaw
	c.fetchRaw = nil
	return data
}

// handleContinuation processes a continuation request.
func (c *Client) handleContinuation(line string) {
	text := ""
	if len(line) > 2 {
		text = line[2:]
	}
	select {
	case c.continuationCh <- continuation{text: text}:
	default:
	}
}

func (c *Client) handleDisconnect(err error) {
	if err == nil {
		err = errors.New("connection closed")
	}

	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		c.disconnectErr = err
		c.mu.Unlock()

		c.pending.CompleteAll(fmt.Errorf("connection closed: %w", err))
		select {
		case c.continuationCh <- continuation{err: fmt.Errorf("connection closed: %w", err)}:
		default:
		}
		close(c.disconnectCh)
	})
}

// Done returns a channel that is closed when the client disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.disconnectCh
}

// DisconnectErr returns the disconnect cause after Done is closed.
func (c *Client) DisconnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectErr
}

func commandResultError(result *commandResult) error {
	if result == nil {
		return errors.New("missing command result")
	}
	if result.err != nil {
		return result.err
	}
	if result.status == "OK" {
		return nil
	}
	return &imap.IMAPError{StatusResponse: &imap.StatusResponse{
		Type: imap.StatusResponseType(result.status),
		Code: imap.ResponseCode(result.code),
		Text: result.text,
	}}
}

func (c *Client) waitForContinuation(cmd *pendingCommand) (string, error) {
	var timeoutCh <-chan time.Time
	if d := c.options.ReadTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	for {
		select {
		case cont := <-c.continuationCh:
			if cont.err != nil {
				return "", cont.err
			}
			return cont.text, nil
		case result := <-cmd.done:
			if err := commandResultError(result); err != nil {
				return "", err
			}
			return "", errors.New("missing continuation request")
		case <-timeoutCh:
			return "", ErrTimeout
		}
	}
}

// Writer returns the underlying encoder for advanced use.
func (c *Client) Writer() io.Writer {
	return c.conn
}
