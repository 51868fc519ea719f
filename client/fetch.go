package client

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	imap "github.com/outpostmail/mailkit"
)

// FetchMessages runs FETCH and decodes each untagged response into a
// FetchMessageBuffer, resolving literal markers against the literals the
// wire decoder collected alongside the line.
func (c *Client) FetchMessages(seqSet string, items string) ([]*imap.FetchMessageBuffer, error) {
	c.collectUntagged()
	c.collectFetchRaw()

	result, err := c.execute("FETCH", seqSet, items)
	if err != nil {
		return nil, err
	}
	if result.status != "OK" {
		return nil, &imap.IMAPError{StatusResponse: &imap.StatusResponse{
			Type: imap.StatusResponseType(result.status),
			Code: imap.ResponseCode(result.code),
			Text: result.text,
		}}
	}

	return decodeFetchRaw(c.collectFetchRaw())
}

// UIDFetchMessages is FetchMessages addressed by UID set.
func (c *Client) UIDFetchMessages(uidSet string, items string) ([]*imap.FetchMessageBuffer, error) {
	c.collectUntagged()
	c.collectFetchRaw()

	result, err := c.execute("UID FETCH", uidSet, items)
	if err != nil {
		return nil, err
	}
	if result.status != "OK" {
		return nil, &imap.IMAPError{StatusResponse: &imap.StatusResponse{
			Type: imap.StatusResponseType(result.status),
			Code: imap.ResponseCode(result.code),
			Text: result.text,
		}}
	}

	return decodeFetchRaw(c.collectFetchRaw())
}

func decodeFetchRaw(raw []fetchRawMessage) ([]*imap.FetchMessageBuffer, error) {
	bufs := make([]*imap.FetchMessageBuffer, 0, len(raw))
	var firstErr error
	for _, r := range raw {
		buf, err := parseFetchAttrs(r.seqNum, r.text, r.literals)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if buf != nil {
			bufs = append(bufs, buf)
		}
	}
	return bufs, firstErr
}

// attrScanner tokenizes one FETCH attribute list. It operates on the
// message text after wire.Decoder has substituted a NUL litMarker byte
// for each {n} literal, consuming the corresponding entry of lits in
// encounter order every time it reads that byte as a value.
type attrScanner struct {
	s    string
	pos  int
	lits [][]byte
}

func (sc *attrScanner) skipSP() {
	for sc.pos < len(sc.s) && sc.s[sc.pos] == ' ' {
		sc.pos++
	}
}

func (sc *attrScanner) done() bool { return sc.pos >= len(sc.s) }

// readName reads an attribute name, folding in a trailing [section]
// suffix and skipping a <partial> suffix: "BODY[HEADER.FIELDS (SUBJECT)]"
// is a single name here even though the bracketed section text can
// itself contain a nested parenthesized field list, and "BODY[]<0.100>"
// reads as "BODY[]".
func (sc *attrScanner) readName() (string, error) {
	start := sc.pos
	for sc.pos < len(sc.s) {
		c := sc.s[sc.pos]
		if c == ' ' || c == '(' || c == ')' || c == '[' || c == '<' {
			break
		}
		sc.pos++
	}
	name := sc.s[start:sc.pos]
	if name == "" {
		return "", fmt.Errorf("fetch: expected attribute name near %q", sc.s[sc.pos:])
	}
	if sc.pos < len(sc.s) && sc.s[sc.pos] == '[' {
		end := strings.IndexByte(sc.s[sc.pos:], ']')
		if end < 0 {
			return "", fmt.Errorf("fetch: unterminated section in %q", sc.s[start:])
		}
		name += sc.s[sc.pos : sc.pos+end+1]
		sc.pos += end + 1
	}
	if sc.pos < len(sc.s) && sc.s[sc.pos] == '<' {
		end := strings.IndexByte(sc.s[sc.pos:], '>')
		if end >= 0 {
			sc.pos += end + 1 // partial-range suffix, not part of the attribute's identity
		}
	}
	return name, nil
}

// readValue reads one value: a parenthesized list (returned as
// []interface{}), a quoted string or atom (string), NIL (nil), or a
// literal (the next entry of lits, as []byte).
func (sc *attrScanner) readValue() (interface{}, error) {
	if sc.done() {
		return nil, fmt.Errorf("fetch: expected a value, reached end of attribute list")
	}
	switch sc.s[sc.pos] {
	case '(':
		sc.pos++
		var list []interface{}
		for {
			sc.skipSP()
			if sc.done() {
				return nil, fmt.Errorf("fetch: unterminated list")
			}
			if sc.s[sc.pos] == ')' {
				sc.pos++
				break
			}
			v, err := sc.readValue()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case '"':
		return sc.readQuoted()
	case 0x00:
		sc.pos++
		if len(sc.lits) == 0 {
			return nil, fmt.Errorf("fetch: literal marker with no literal data left")
		}
		lit := sc.lits[0]
		sc.lits = sc.lits[1:]
		return lit, nil
	default:
		start := sc.pos
		for sc.pos < len(sc.s) && sc.s[sc.pos] != ' ' && sc.s[sc.pos] != ')' && sc.s[sc.pos] != '(' {
			sc.pos++
		}
		atom := sc.s[start:sc.pos]
		if strings.EqualFold(atom, "NIL") {
			return nil, nil
		}
		return atom, nil
	}
}

func (sc *attrScanner) readQuoted() (string, error) {
	sc.pos++ // opening quote
	var b strings.Builder
	for sc.pos < len(sc.s) {
		c := sc.s[sc.pos]
		if c == '\\' && sc.pos+1 < len(sc.s) {
			b.WriteByte(sc.s[sc.pos+1])
			sc.pos += 2
			continue
		}
		if c == '"' {
			sc.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		sc.pos++
	}
	return "", fmt.Errorf("fetch: unterminated quoted string")
}

// parseFetchAttrs decodes one untagged FETCH response's attribute list,
// as stored by handleFetchResponse, into a FetchMessageBuffer.
func parseFetchAttrs(seqNum uint32, text string, literals [][]byte) (*imap.FetchMessageBuffer, error) {
	s := strings.TrimSpace(text)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("fetch: expected a parenthesized attribute list, got %q", text)
	}

	sc := &attrScanner{s: s[1 : len(s)-1], lits: literals}
	buf := &imap.FetchMessageBuffer{SeqNum: seqNum}
	for {
		sc.skipSP()
		if sc.done() {
			break
		}
		name, err := sc.readName()
		if err != nil {
			return buf, err
		}
		sc.skipSP()
		val, err := sc.readValue()
		if err != nil {
			return buf, err
		}
		applyFetchAttr(buf, name, val)
	}
	return buf, nil
}

func applyFetchAttr(buf *imap.FetchMessageBuffer, name string, val interface{}) {
	upper := strings.ToUpper(name)
	switch {
	case upper == "UID":
		if n, ok := atomUint(val, 32); ok {
			buf.UID = imap.UID(n)
		}
	case upper == "FLAGS":
		if list, ok := val.([]interface{}); ok {
			buf.Flags = make([]imap.Flag, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					buf.Flags = append(buf.Flags, imap.Flag(s))
				}
			}
		}
	case upper == "INTERNALDATE":
		if s, ok := val.(string); ok {
			if t, err := time.Parse(imap.InternalDateLayout, s); err == nil {
				buf.InternalDate = t
			}
		}
	case upper == "RFC822.SIZE":
		if s, ok := val.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				buf.RFC822Size = n
			}
		}
	case upper == "MODSEQ":
		if list, ok := val.([]interface{}); ok && len(list) > 0 {
			if n, ok := atomUint(list[0], 64); ok {
				buf.ModSeq = n
			}
		}
	case upper == "ENVELOPE":
		if list, ok := val.([]interface{}); ok {
			buf.Envelope = parseEnvelope(list)
		}
	case upper == "BODYSTRUCTURE", upper == "BODY":
		buf.BodyStructure = parseBodyStructure(val)
	case upper == "PREVIEW":
		if val == nil {
			buf.PreviewNIL = true
		} else if s, ok := val.(string); ok {
			buf.Preview = s
		}
	case upper == "SAVEDATE":
		if s, ok := val.(string); ok {
			if t, err := time.Parse(imap.InternalDateLayout, s); err == nil {
				buf.SaveDate = &t
			}
		}
	case upper == "EMAILID":
		buf.EmailID = firstObjectID(val)
	case upper == "THREADID":
		buf.ThreadID = firstObjectID(val)
	case upper == "X-GM-LABELS":
		if list, ok := val.([]interface{}); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					buf.GmailLabels = append(buf.GmailLabels, s)
				}
			}
		}
	case upper == "X-GM-MSGID":
		if n, ok := atomUint(val, 64); ok {
			buf.GmailMsgID = n
		}
	case upper == "X-GM-THRID":
		if n, ok := atomUint(val, 64); ok {
			buf.GmailThreadID = n
		}
	case strings.HasPrefix(upper, "BINARY.SIZE["):
		if key, ok := sectionKey(name); ok {
			if n, ok := atomUint(val, 32); ok {
				if buf.BinarySizeSection == nil {
					buf.BinarySizeSection = make(map[string]uint32)
				}
				buf.BinarySizeSection[key] = uint32(n)
			}
		}
	case strings.HasPrefix(upper, "BINARY["), strings.HasPrefix(upper, "BINARY.PEEK["):
		if key, ok := sectionKey(name); ok {
			if buf.BinarySection == nil {
				buf.BinarySection = make(map[string][]byte)
			}
			buf.BinarySection[key] = valueBytes(val)
		}
	case strings.HasPrefix(upper, "BODY["), strings.HasPrefix(upper, "BODY.PEEK["):
		if key, ok := sectionKey(name); ok {
			if buf.BodySection == nil {
				buf.BodySection = make(map[string][]byte)
			}
			buf.BodySection[key] = valueBytes(val)
		}
	}
}

func atomUint(val interface{}, bits int) (uint64, bool) {
	s, ok := val.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstObjectID(val interface{}) string {
	list, ok := val.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	s, _ := list[0].(string)
	return s
}

func valueBytes(val interface{}) []byte {
	switch v := val.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

func sectionKey(name string) (string, bool) {
	start := strings.IndexByte(name, '[')
	end := strings.IndexByte(name, ']')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return name[start+1 : end], true
}

// parseEnvelope decodes the 10-element ENVELOPE list (RFC 3501 §7.4.2).
func parseEnvelope(list []interface{}) *imap.Envelope {
	e := &imap.Envelope{}
	get := func(i int) interface{} {
		if i < len(list) {
			return list[i]
		}
		return nil
	}
	if s, ok := get(0).(string); ok {
		if t, err := mail.ParseDate(s); err == nil {
			e.Date = t
		}
	}
	if s, ok := get(1).(string); ok {
		e.Subject = s
	}
	e.From = parseAddressList(get(2))
	e.Sender = parseAddressList(get(3))
	e.ReplyTo = parseAddressList(get(4))
	e.To = parseAddressList(get(5))
	e.Cc = parseAddressList(get(6))
	e.Bcc = parseAddressList(get(7))
	if s, ok := get(8).(string); ok {
		e.InReplyTo = s
	}
	if s, ok := get(9).(string); ok {
		e.MessageID = s
	}
	return e
}

// parseAddressList decodes an ENVELOPE address-list slot: NIL or a list
// of 4-element (name, adl, mailbox, host) address structures.
func parseAddressList(v interface{}) []*imap.Address {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var addrs []*imap.Address
	for _, item := range list {
		fields, ok := item.([]interface{})
		if !ok || len(fields) < 4 {
			continue
		}
		a := &imap.Address{}
		if s, ok := fields[0].(string); ok {
			a.Name = s
		}
		if s, ok := fields[2].(string); ok {
			a.Mailbox = s
		}
		if s, ok := fields[3].(string); ok {
			a.Host = s
		}
		addrs = append(addrs, a)
	}
	return addrs
}

// parseBodyStructure decodes a BODY/BODYSTRUCTURE value. Multipart
// bodies are recognized by their first element being a list; everything
// after the child parts and the subtype is treated as the optional
// extension data RFC 3501 §7.4.2 defines (params, disposition,
// language, location). Deeply nested message/rfc822 extension data
// beyond envelope/body/lines is not decoded.
func parseBodyStructure(v interface{}) *imap.BodyStructure {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}

	if _, isList := list[0].([]interface{}); isList {
		return parseMultipartBody(list)
	}
	return parseSinglePartBody(list)
}

func parseMultipartBody(list []interface{}) *imap.BodyStructure {
	bs := &imap.BodyStructure{Type: "multipart"}
	i := 0
	for i < len(list) {
		child, isList := list[i].([]interface{})
		if !isList {
			break
		}
		if part := parseBodyStructure(child); part != nil {
			bs.Children = append(bs.Children, *part)
		}
		i++
	}
	if i < len(list) {
		if s, ok := list[i].(string); ok {
			bs.Subtype = s
		}
		i++
	}
	if i < len(list) {
		bs.Params = parseParamList(list[i])
		i++
	}
	if i < len(list) {
		bs.Disposition, bs.DispositionParams = parseDisposition(list[i])
		i++
	}
	if i < len(list) {
		bs.Language = parseLanguage(list[i])
		i++
	}
	if i < len(list) {
		if s, ok := list[i].(string); ok {
			bs.Location = s
		}
	}
	return bs
}

func parseSinglePartBody(list []interface{}) *imap.BodyStructure {
	bs := &imap.BodyStructure{}
	get := func(i int) interface{} {
		if i < len(list) {
			return list[i]
		}
		return nil
	}
	if s, ok := get(0).(string); ok {
		bs.Type = s
	}
	if s, ok := get(1).(string); ok {
		bs.Subtype = s
	}
	bs.Params = parseParamList(get(2))
	if s, ok := get(3).(string); ok {
		bs.ID = s
	}
	if s, ok := get(4).(string); ok {
		bs.Description = s
	}
	if s, ok := get(5).(string); ok {
		bs.Encoding = s
	}
	if n, ok := atomUint(get(6), 32); ok {
		bs.Size = uint32(n)
	}

	idx := 7
	switch {
	case strings.EqualFold(bs.Type, "message") && strings.EqualFold(bs.Subtype, "rfc822"):
		if env, ok := get(idx).([]interface{}); ok {
			bs.Envelope = parseEnvelope(env)
		}
		idx++
		bs.BodyStructure = parseBodyStructure(get(idx))
		idx++
		if n, ok := atomUint(get(idx), 32); ok {
			bs.Lines = uint32(n)
		}
		idx++
	case strings.EqualFold(bs.Type, "text"):
		if n, ok := atomUint(get(idx), 32); ok {
			bs.Lines = uint32(n)
		}
		idx++
	}

	if s, ok := get(idx).(string); ok {
		bs.MD5 = s
	}
	idx++
	bs.Disposition, bs.DispositionParams = parseDisposition(get(idx))
	idx++
	bs.Language = parseLanguage(get(idx))
	idx++
	if s, ok := get(idx).(string); ok {
		bs.Location = s
	}

	return bs
}

func parseParamList(v interface{}) map[string]string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	m := make(map[string]string, len(list)/2)
	for i := 0; i+1 < len(list); i += 2 {
		k, _ := list[i].(string)
		val, _ := list[i+1].(string)
		if k != "" {
			m[strings.ToLower(k)] = val
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func parseDisposition(v interface{}) (string, map[string]string) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return "", nil
	}
	disp, _ := list[0].(string)
	var params map[string]string
	if len(list) > 1 {
		params = parseParamList(list[1])
	}
	return disp, params
}

func parseLanguage(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		var langs []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				langs = append(langs, s)
			}
		}
		return langs
	default:
		return nil
	}
}
