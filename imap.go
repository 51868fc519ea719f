// Package imap holds the wire-level vocabulary shared by the client,
// server, and transport packages: connection states, flags, mailbox
// attributes, and the envelope/body-structure data model FETCH responses
// are decoded into. It targets IMAP4rev1 (RFC 3501) and IMAP4rev2
// (RFC 9051), plus the extension set listed in capability.go.
package imap

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ConnState is one state in the connection state machine of RFC 9051 §3:
// not authenticated, authenticated, selected, or logged out. Which
// commands are valid is a function of this state (see AllowedInState).
type ConnState int

const (
	ConnStateNotAuthenticated ConnState = iota
	ConnStateAuthenticated
	ConnStateSelected
	ConnStateLogout
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLogout:
		return "logout"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Flag is an IMAP message flag: one of the system flags below, or any
// other atom a server or client defines as a keyword.
type Flag string

const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	FlagRecent   Flag = "\\Recent" // IMAP4rev1 only, dropped in rev2
	FlagWildcard Flag = "\\*"      // PERMANENTFLAGS wildcard: other keywords allowed
)

// MailboxAttr is a mailbox-name attribute reported by LIST/LSUB, including
// the special-use attributes of RFC 6154.
type MailboxAttr string

const (
	MailboxAttrNoInferiors   MailboxAttr = "\\Noinferiors"
	MailboxAttrNoSelect      MailboxAttr = "\\Noselect"
	MailboxAttrMarked        MailboxAttr = "\\Marked"
	MailboxAttrUnmarked      MailboxAttr = "\\Unmarked"
	MailboxAttrHasChildren   MailboxAttr = "\\HasChildren"
	MailboxAttrHasNoChildren MailboxAttr = "\\HasNoChildren"
	MailboxAttrNonExistent   MailboxAttr = "\\NonExistent"
	MailboxAttrSubscribed    MailboxAttr = "\\Subscribed"
	MailboxAttrRemote        MailboxAttr = "\\Remote"

	// Special-use attributes, RFC 6154.
	MailboxAttrAll     MailboxAttr = "\\All"
	MailboxAttrArchive MailboxAttr = "\\Archive"
	MailboxAttrDrafts  MailboxAttr = "\\Drafts"
	MailboxAttrFlagged MailboxAttr = "\\Flagged"
	MailboxAttrJunk    MailboxAttr = "\\Junk"
	MailboxAttrSent    MailboxAttr = "\\Sent"
	MailboxAttrTrash   MailboxAttr = "\\Trash"
)

// LiteralReader streams one literal's bytes off the wire along with its
// declared size.
type LiteralReader struct {
	io.Reader
	Size int64
}

// NumKind says whether a NumSet holds sequence numbers or UIDs; the
// wire syntax is identical, so callers must
// track which one a given set means.
type NumKind int

const (
	NumKindSeq NumKind = iota
	NumKindUID
)

func (k NumKind) String() string {
	switch k {
	case NumKindSeq:
		return "seq"
	case NumKindUID:
		return "uid"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// BodySectionName is one BODY[section]<partial> or BODY.PEEK[section]
// request as the FETCH grammar describes it (RFC 3501 §6.4.5).
type BodySectionName struct {
	// Specifier is "HEADER", "HEADER.FIELDS", "TEXT", "MIME", or "" for
	// the whole part.
	Specifier string
	// Part is the MIME part path, e.g. []int{1, 2} for "1.2".
	Part []int
	// Fields names the header fields for HEADER.FIELDS[.NOT].
	Fields []string
	// NotFields marks HEADER.FIELDS.NOT rather than HEADER.FIELDS.
	NotFields bool
	// Peek requests BODY.PEEK[...], which never sets \Seen.
	Peek bool
	// Partial is the <offset.count> substring, if requested.
	Partial *SectionPartial
}

// SectionPartial is a <offset.count> byte range on a body section.
type SectionPartial struct {
	Offset int64
	Count  int64
}

// Address is one ENVELOPE address-list entry (RFC 3501 §7.4.2's
// "address structure"). A nil Mailbox/Host pair with non-empty Name
// represents an RFC 822 group start/end marker; this engine treats
// groups as flattened member lists rather than surfacing the markers.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// String renders the address as "Name <mailbox@host>", or bare
// "mailbox@host" when Name is empty.
func (a *Address) String() string {
	addr := a.Mailbox + "@" + a.Host
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, addr)
	}
	return addr
}

// Envelope is the decoded ENVELOPE FETCH attribute: the RFC 5322 header
// fields a server parses out for the client so it need not fetch and
// parse the whole header itself.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []*Address
	Sender    []*Address
	ReplyTo   []*Address
	To        []*Address
	Cc        []*Address
	Bcc       []*Address
	InReplyTo string
	MessageID string
}

// FromAddr returns the first From address, or nil if the envelope has
// none (a message submitted without a From header, or a parse failure
// the server reported as NIL).
func (e *Envelope) FromAddr() *Address {
	if len(e.From) == 0 {
		return nil
	}
	return e.From[0]
}

// BodyStructure is the decoded BODY/BODYSTRUCTURE FETCH attribute: the
// MIME tree of a message, without the body bytes themselves.
type BodyStructure struct {
	Type        string // MIME type, e.g. "text", "multipart"
	Subtype     string // MIME subtype, e.g. "plain", "mixed"
	Params      map[string]string
	ID          string // Content-ID
	Description string // Content-Description
	Encoding    string // Content-Transfer-Encoding
	Size        uint32 // body size in bytes

	// Envelope and BodyStructure apply only to an embedded message/rfc822 part.
	Envelope      *Envelope
	BodyStructure *BodyStructure
	Lines         uint32 // text line count, for text/* and message/rfc822

	// Extension data: present only in BODYSTRUCTURE, never in plain BODY.
	MD5               string
	Disposition       string
	DispositionParams map[string]string
	Language          []string
	Location          string

	// Children holds the part list of a multipart body.
	Children []BodyStructure
}

// IsMultipart reports whether this part's MIME type is "multipart".
func (bs *BodyStructure) IsMultipart() bool {
	return strings.EqualFold(bs.Type, "multipart")
}

// MIMEType renders "type/subtype" in lowercase, the form net/mime and
// most MIME tooling expects.
func (bs *BodyStructure) MIMEType() string {
	return strings.ToLower(bs.Type) + "/" + strings.ToLower(bs.Subtype)
}

// Leaves walks the body structure depth-first and returns every
// non-multipart part, in part-path order. Useful for locating an
// attachment or the first text/plain part without hand-rolling the
// recursion at every call site.
func (bs *BodyStructure) Leaves() []*BodyStructure {
	if bs == nil {
		return nil
	}
	if !bs.IsMultipart() {
		return []*BodyStructure{bs}
	}
	var leaves []*BodyStructure
	for i := range bs.Children {
		leaves = append(leaves, bs.Children[i].Leaves()...)
	}
	return leaves
}

// InternalDate is the server-assigned delivery timestamp (RFC 3501
// §2.3.3), distinct from the Date header inside the message.
type InternalDate time.Time

// InternalDateLayout is the wire format of an internal date.
const InternalDateLayout = "02-Jan-2006 15:04:05 -0700"

func (d InternalDate) String() string {
	return time.Time(d).Format(InternalDateLayout)
}

// CreateOptions configures a CREATE command.
type CreateOptions struct {
	// SpecialUse requests a special-use attribute for the new mailbox
	// (RFC 6154's CREATE-SPECIAL-USE).
	SpecialUse MailboxAttr
}
