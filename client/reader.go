package client

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	imap "github.com/outpostmail/mailkit"
	"github.com/outpostmail/mailkit/wire"
)

// errReaderHandoff stops the reader loop cleanly after the tagged OK of
// a connection-upgrading command (STARTTLS, COMPRESS DEFLATE); the
// upgrading caller restarts a reader on the new connection.
var errReaderHandoff = errors.New("reader handoff")

var (
	fetchUIDRe    = regexp.MustCompile(`(?i)\bUID\s+(\d+)`)
	fetchModSeqRe = regexp.MustCompile(`(?i)\bMODSEQ\s+\((\d+)\)`)
	fetchFlagsRe  = regexp.MustCompile(`(?i)\bFLAGS\s+\(([^)]*)\)`)
)

// reader is the background goroutine that reads responses from the server.
type reader struct {
	decoder *wire.Decoder
	client  *Client
}

func newReader(decoder *wire.Decoder, c *Client) *reader {
	return &reader{
		decoder: decoder,
		client:  c,
	}
}

// run reads and dispatches server responses until the connection is closed.
func (r *reader) run() {
	for {
		msg, err := r.decoder.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			r.client.options.Logger.Debug("reader error", "error", err)
			r.client.handleDisconnect(err)
			return
		}

		r.client.options.Logger.Debug("recv", "line", msg.Line)

		if err := r.processLine(msg); err != nil {
			if errors.Is(err, errReaderHandoff) {
				return
			}
			r.client.options.Logger.Debug("process error", "error", err)
		}
	}
}

// processLine handles a single response message, which may carry literals
// referenced from msg.Line via the wire.litMarker placeholder.
func (r *reader) processLine(msg *wire.Message) error {
	line := msg.Line
	if len(line) == 0 {
		return nil
	}

	// Continuation request
	if line[0] == '+' {
		r.client.handleContinuation(line)
		return nil
	}

	// Untagged response
	if strings.HasPrefix(line, "* ") {
		return r.processUntagged(line[2:], msg)
	}

	// Tagged response
	return r.processTagged(line)
}

// processUntagged handles an untagged response.
func (r *reader) processUntagged(line string, msg *wire.Message) error {
	// Try to parse as numeric response: "123 EXISTS", "456 EXPUNGE", etc.
	spaceIdx := strings.IndexByte(line, ' ')
	if spaceIdx > 0 {
		numStr := line[:spaceIdx]
		if num, err := strconv.ParseUint(numStr, 10, 32); err == nil {
			rest := line[spaceIdx+1:]
			return r.processNumericResponse(uint32(num), rest, msg)
		}
	}

	if strings.HasPrefix(strings.ToUpper(line), "VANISHED ") {
		r.handleVanished(line[9:])
		return nil
	}

	// Named response
	upperLine := strings.ToUpper(line)

	if strings.HasPrefix(upperLine, "OK ") {
		r.handleStatusResponse("OK", line[3:])
		return nil
	}
	if strings.HasPrefix(upperLine, "NO ") {
		r.handleStatusResponse("NO", line[3:])
		return nil
	}
	if strings.HasPrefix(upperLine, "BAD ") {
		r.handleStatusResponse("BAD", line[4:])
		return nil
	}
	if strings.HasPrefix(upperLine, "BYE ") {
		r.handleStatusResponse("BYE", line[4:])
		return nil
	}
	if strings.HasPrefix(upperLine, "PREAUTH ") {
		r.handleStatusResponse("PREAUTH", line[8:])
		return nil
	}
	if strings.HasPrefix(upperLine, "CAPABILITY ") {
		r.handleCapability(line[11:])
		return nil
	}
	if strings.HasPrefix(upperLine, "FLAGS ") {
		r.handleFlags(line[6:])
		return nil
	}
	if strings.HasPrefix(upperLine, "LIST ") {
		r.handleList(line[5:])
		return nil
	}
	if strings.HasPrefix(upperLine, "LSUB ") {
		r.handleList(line[5:])
		return nil
	}
	if strings.HasPrefix(upperLine, "XLIST ") {
		r.client.storeUntagged("XLIST " + line[6:])
		return nil
	}
	if strings.HasPrefix(upperLine, "STATUS ") {
		r.handleStatus(line[7:])
		return nil
	}
	if strings.HasPrefix(upperLine, "SEARCH ") || upperLine == "SEARCH" {
		r.handleSearch(line)
		return nil
	}
	if strings.HasPrefix(upperLine, "ESEARCH ") {
		r.handleESearch(line[8:])
		return nil
	}
	if strings.HasPrefix(upperLine, "NAMESPACE ") {
		r.handleNamespace(line[10:])
		return nil
	}
	if strings.HasPrefix(upperLine, "ACL ") {
		r.client.storeUntagged("ACL " + line[4:])
		return nil
	}
	if strings.HasPrefix(upperLine, "LISTRIGHTS ") {
		r.client.storeUntagged("LISTRIGHTS " + line[11:])
		return nil
	}
	if strings.HasPrefix(upperLine, "MYRIGHTS ") {
		r.client.storeUntagged("MYRIGHTS " + line[9:])
		return nil
	}
	if strings.HasPrefix(upperLine, "QUOTA ") {
		r.client.storeUntagged("QUOTA " + line[6:])
		return nil
	}
	if strings.HasPrefix(upperLine, "QUOTAROOT ") {
		r.client.storeUntagged("QUOTAROOT " + line[10:])
		return nil
	}
	if strings.HasPrefix(upperLine, "METADATA ") {
		r.client.storeUntagged("METADATA " + line[9:])
		return nil
	}

	// Store for any waiting data collector
	r.client.storeUntagged(line)
	return nil
}

// processNumericResponse handles "* 123 SOMETHING" responses.
func (r *reader) processNumericResponse(num uint32, rest string, msg *wire.Message) error {
	upper := strings.ToUpper(rest)

	switch {
	case upper == "EXISTS":
		if sel := r.client.Selected(); sel != nil {
			sel.SetExists(num)
		}
		if h := r.client.options.UnilateralDataHandler; h != nil && h.Exists != nil {
			h.Exists(num)
		}
	case upper == "RECENT":
		if sel := r.client.Selected(); sel != nil {
			sel.SetRecent(num)
		}
		if h := r.client.options.UnilateralDataHandler; h != nil && h.Recent != nil {
			h.Recent(num)
		}
	case upper == "EXPUNGE":
		if sel := r.client.Selected(); sel != nil {
			sel.ObserveExpunge(num)
		}
		if h := r.client.options.UnilateralDataHandler; h != nil && h.Expunge != nil {
			h.Expunge(num)
		}
	case strings.HasPrefix(upper, "FETCH "):
		r.handleFetchResponse(num, rest[6:], msg)
	default:
		r.client.storeUntagged(fmt.Sprintf("%d %s", num, rest))
	}

	return nil
}

// handleVanished processes an untagged VANISHED response (RFC 7162 §3.2.10).
// With the EARLIER tag it reports UIDs removed before the client connected
// (resynchronization data); without it, UIDs removed just now, equivalent to
// EXPUNGE but addressed by UID instead of sequence number.
func (r *reader) handleVanished(arg string) {
	earlier := false
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(strings.ToUpper(arg), "(EARLIER)") {
		earlier = true
		arg = strings.TrimSpace(arg[len("(EARLIER)"):])
	}

	set, err := imap.ParseUIDSet(arg)
	if err != nil {
		r.client.options.Logger.Debug("malformed VANISHED", "arg", arg, "error", err)
		return
	}
	var uids []imap.UID
	for _, rng := range set.Ranges() {
		if rng.Start == 0 || rng.Stop == 0 {
			continue // "*" never appears in a VANISHED set
		}
		start, stop := rng.Start, rng.Stop
		if start > stop {
			start, stop = stop, start
		}
		for n := start; n <= stop; n++ {
			uids = append(uids, imap.UID(n))
		}
	}

	if sel := r.client.Selected(); sel != nil {
		sel.ObserveVanished(uids)
	}
	r.client.emitQresync(imap.QresyncEvent{Kind: imap.QresyncVanished, UIDs: uids})

	if h := r.client.options.UnilateralDataHandler; h != nil && h.Vanished != nil {
		h.Vanished(uids, earlier)
	}
}

// processTagged handles a tagged response (completes a pending command).
func (r *reader) processTagged(line string) error {
	// Format: TAG STATUS [CODE] text
	spaceIdx := strings.IndexByte(line, ' ')
	if spaceIdx < 0 {
		return fmt.Errorf("malformed tagged response: %q", line)
	}

	tag := line[:spaceIdx]
	rest := line[spaceIdx+1:]

	status, code, text := parseStatusResponse(rest)

	r.client.pending.Complete(tag, &commandResult{
		status: status,
		code:   code,
		text:   text,
	})

	if r.client.finishUpgrade(tag, strings.EqualFold(status, "OK")) {
		return errReaderHandoff
	}

	return nil
}

func parseStatusResponse(s string) (status, code, text string) {
	spaceIdx := strings.IndexByte(s, ' ')
	if spaceIdx < 0 {
		return s, "", ""
	}
	status = s[:spaceIdx]
	rest := s[spaceIdx+1:]

	if strings.HasPrefix(rest, "[") {
		endBracket := strings.IndexByte(rest, ']')
		if endBracket > 0 {
			code = rest[1:endBracket]
			if endBracket+2 < len(rest) {
				text = rest[endBracket+2:]
			}
			return
		}
	}

	text = rest
	return
}

// Stub handlers - these store data for the client to consume

func (r *reader) handleStatusResponse(status, text string) {
	// Parse response code if present
	if strings.HasPrefix(text, "[") {
		endBracket := strings.IndexByte(text, ']')
		if endBracket > 0 {
			code := text[1:endBracket]
			r.handleResponseCode(code)
		}
	}
}

func (r *reader) handleResponseCode(code string) {
	upper := strings.ToUpper(code)

	parts := strings.SplitN(code, " ", 2)
	name := strings.ToUpper(parts[0])
	var arg string
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch name {
	case "UIDVALIDITY":
		if n, err := strconv.ParseUint(arg, 10, 32); err == nil {
			if sel := r.client.Selected(); sel != nil {
				if sel.SetUIDValidity(uint32(n)) {
					r.client.emitQresync(imap.QresyncEvent{Kind: imap.QresyncUIDValidityChanged, UIDValidity: uint32(n)})
				}
			}
		}
	case "UIDNEXT":
		if n, err := strconv.ParseUint(arg, 10, 32); err == nil {
			if sel := r.client.Selected(); sel != nil {
				sel.SetUIDNext(uint32(n))
			}
		}
	case "UNSEEN":
		if n, err := strconv.ParseUint(arg, 10, 32); err == nil {
			if sel := r.client.Selected(); sel != nil {
				sel.SetUnseen(uint32(n))
			}
		}
	case "HIGHESTMODSEQ":
		if n, err := strconv.ParseUint(arg, 10, 64); err == nil {
			if sel := r.client.Selected(); sel != nil {
				sel.BumpHighestModSeq(n)
			}
		}
	case "PERMANENTFLAGS":
		r.client.storeUntagged("PERMANENTFLAGS " + arg)
	case "CAPABILITY":
		r.handleCapability(arg)
	case "READ-ONLY":
		if sel := r.client.Selected(); sel != nil {
			sel.SetReadOnly(true)
		}
		r.client.mu.Lock()
		r.client.mailboxReadOnly = true
		r.client.mu.Unlock()
	case "READ-WRITE":
		if sel := r.client.Selected(); sel != nil {
			sel.SetReadOnly(false)
		}
		r.client.mu.Lock()
		r.client.mailboxReadOnly = false
		r.client.mu.Unlock()
	default:
		_ = upper
	}
}

func (r *reader) handleCapability(line string) {
	caps := strings.Fields(line)
	r.client.mu.Lock()
	r.client.caps = caps
	r.client.capsVersion++
	r.client.mu.Unlock()
}

func (r *reader) handleFlags(line string) {
	r.client.storeUntagged("FLAGS " + line)
}

func (r *reader) handleList(line string) {
	r.client.storeUntagged("LIST " + line)
}

func (r *reader) handleStatus(line string) {
	r.client.storeUntagged("STATUS " + line)
}

func (r *reader) handleSearch(line string) {
	r.client.storeUntagged("SEARCH " + line)
}

func (r *reader) handleESearch(line string) {
	r.client.storeUntagged("ESEARCH " + line)
}

func (r *reader) handleNamespace(line string) {
	r.client.storeUntagged("NAMESPACE " + line)
}

// handleFetchResponse stores the raw FETCH data (literal placeholders and
// all) for the string-oriented Fetch/UIDFetch API, and opportunistically
// extracts UID/FLAGS/MODSEQ to keep selected-mailbox bookkeeping and
// QRESYNC unilateral-data delivery current, per RFC 7162 §3.2.4.
func (r *reader) handleFetchResponse(seqNum uint32, data string, msg *wire.Message) {
	r.client.storeUntagged(fmt.Sprintf("FETCH %d %s", seqNum, data))
	r.client.storeFetchRaw(seqNum, data, msg.Literals)

	var uid imap.UID
	if m := fetchUIDRe.FindStringSubmatch(data); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			uid = imap.UID(n)
		}
	}

	var modSeq uint64
	hasModSeq := false
	if m := fetchModSeqRe.FindStringSubmatch(data); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			modSeq = n
			hasModSeq = true
		}
	}

	sel := r.client.Selected()
	if sel != nil && (uid != 0 || hasModSeq) {
		sel.ObserveFetch(seqNum, uid, modSeq, hasModSeq)
	}

	if hasModSeq {
		if m := fetchFlagsRe.FindStringSubmatch(data); m != nil {
			flags := flagFields(m[1])
			r.client.emitQresync(imap.QresyncEvent{Kind: imap.QresyncFlagChanged, UID: uid, Flags: flags, ModSeq: modSeq})
		} else {
			r.client.emitQresync(imap.QresyncEvent{Kind: imap.QresyncModSeqChanged, UID: uid, ModSeq: modSeq})
		}
	}

	if h := r.client.options.UnilateralDataHandler; h != nil && h.Fetch != nil {
		h.Fetch(seqNum, data)
	}
}

func flagFields(s string) []imap.Flag {
	fields := strings.Fields(s)
	flags := make([]imap.Flag, 0, len(fields))
	for _, f := range fields {
		flags = append(flags, imap.Flag(f))
	}
	return flags
}
