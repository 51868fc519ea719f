// Package summary assembles a FetchMessageBuffer's raw FETCH attributes
// and body sections into a MessageSummary: an immutable, display-ready
// view of one message.
package summary

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	imap "github.com/outpostmail/mailkit"
)

// MessageSummary is the combined view of one fetched message: the FETCH
// attributes that arrived as structured data, plus whatever body
// sections Options asked Assemble to fold in.
type MessageSummary struct {
	SeqNum       uint32
	UID          imap.UID
	ModSeq       uint64
	Flags        []imap.Flag
	InternalDate time.Time
	SaveDate     *time.Time
	Size         int64

	Envelope      *imap.Envelope
	BodyStructure *imap.BodyStructure

	EmailID       string
	ThreadID      string
	GmailLabels   []string
	GmailMsgID    uint64
	GmailThreadID uint64

	// PreviewText is RFC 8970 PREVIEW when the server returned it,
	// otherwise a decoded prefix of Options.PreviewFallbackSection.
	PreviewText string

	// Headers holds the fields decoded from Options.HeaderSection, keyed
	// canonically (textproto.CanonicalMIMEHeaderKey).
	Headers textproto.MIMEHeader

	// References is the parsed, whitespace-split value of the
	// References header, oldest first, as found in Headers.
	References []string
}

// Options tells Assemble which already-fetched body sections to fold
// into the summary's PreviewText and Headers fields, since
// FetchMessageBuffer keys its BodySection map by the section's wire-form
// text and Assemble has no way to guess which keys the caller used.
type Options struct {
	// PreviewFallbackSection is the BodySection key holding a
	// BODY.PEEK[TEXT]<0.N> (or similar) snippet to fall back to when the
	// server has no native PREVIEW. Typically "TEXT" or "1.TEXT".
	//
	// PREVIEW always wins when the server returned one: this package
	// cannot distinguish "PREVIEW not requested" from "server returned
	// PREVIEW \"\""; both read as buf.Preview == "" && !buf.PreviewNIL in
	// FetchMessageBuffer, so an empty non-NIL Preview is treated as
	// "use the fallback" rather than "show an empty preview."
	PreviewFallbackSection string
	// PreviewFallbackRunes truncates the fallback preview to this many
	// runes. 0 means no further truncation.
	PreviewFallbackRunes int
	// HeaderSection is the BodySection key holding a
	// BODY[HEADER.FIELDS (...)] block to decode into Headers.
	HeaderSection string
}

// Assemble builds a MessageSummary from one buffered FETCH response.
func Assemble(buf *imap.FetchMessageBuffer, opts Options) (*MessageSummary, error) {
	if buf == nil {
		return nil, fmt.Errorf("summary: nil fetch buffer")
	}

	s := &MessageSummary{
		SeqNum:        buf.SeqNum,
		UID:           buf.UID,
		ModSeq:        buf.ModSeq,
		Flags:         buf.Flags,
		InternalDate:  buf.InternalDate,
		SaveDate:      buf.SaveDate,
		Size:          buf.RFC822Size,
		Envelope:      buf.Envelope,
		BodyStructure: buf.BodyStructure,
		EmailID:       buf.EmailID,
		ThreadID:      buf.ThreadID,
		GmailLabels:   buf.GmailLabels,
		GmailMsgID:    buf.GmailMsgID,
		GmailThreadID: buf.GmailThreadID,
	}

	if buf.PreviewNIL || buf.Preview != "" {
		s.PreviewText = buf.Preview
	} else if opts.PreviewFallbackSection != "" {
		if raw, ok := buf.BodySection[opts.PreviewFallbackSection]; ok {
			s.PreviewText = decodePreview(raw, buf.BodyStructure, opts.PreviewFallbackRunes)
		}
	}

	if opts.HeaderSection != "" {
		if raw, ok := buf.BodySection[opts.HeaderSection]; ok {
			headers, err := parseHeaderBlock(raw)
			if err != nil {
				return s, fmt.Errorf("summary: parsing header section: %w", err)
			}
			s.Headers = headers
			s.References = splitReferences(headers.Get("References"))
		}
	}

	return s, nil
}

// parseHeaderBlock decodes a BODY[HEADER.FIELDS (...)] section's bytes
// as an RFC 822 header block. IMAP servers terminate the section with a
// blank line even when only a field subset was requested, so
// textproto's reader (which stops at the first blank line) applies
// unmodified.
func parseHeaderBlock(raw []byte) (textproto.MIMEHeader, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	return tp.ReadMIMEHeader()
}

// splitReferences splits a References header value into its
// whitespace-separated message-IDs, oldest first, per RFC 5322 §3.6.4.
func splitReferences(v string) []string {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// decodePreview best-effort decodes raw as the single-part or first-leaf
// text of bs, honoring its Content-Transfer-Encoding, then truncates to
// limit runes. Structure mismatches fall back to treating raw as
// unencoded UTF-8 text.
func decodePreview(raw []byte, bs *imap.BodyStructure, limit int) string {
	encoding := ""
	if bs != nil {
		leaf := bs
		if bs.IsMultipart() {
			if leaves := bs.Leaves(); len(leaves) > 0 {
				leaf = leaves[0]
			}
		}
		encoding = strings.ToLower(leaf.Encoding)
	}

	var decoded []byte
	switch encoding {
	case "quoted-printable":
		b, err := bufferAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err == nil {
			decoded = b
		}
	case "base64":
		b := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(b, bytes.TrimSpace(raw))
		if err == nil {
			decoded = b[:n]
		}
	}
	if decoded == nil {
		decoded = raw
	}

	text := string(decoded)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func bufferAll(r *quotedprintable.Reader) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	return buf.Bytes(), err
}
