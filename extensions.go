package imap

import "time"

// This file groups the response/request types for the curated IMAP
// extension set this engine negotiates that don't warrant a state machine of
// their own: ACL (RFC 4314), QUOTA (RFC 9208), METADATA (RFC 5464),
// NAMESPACE (RFC 2342), ID (RFC 2971), and APPEND/COPY results.

// ACLRight is a single ACL right character (RFC 4314 §2).
type ACLRight rune

const (
	ACLRightLookup    ACLRight = 'l'
	ACLRightRead      ACLRight = 'r'
	ACLRightSeen      ACLRight = 's'
	ACLRightWrite     ACLRight = 'w'
	ACLRightInsert    ACLRight = 'i'
	ACLRightPost      ACLRight = 'p'
	ACLRightCreate    ACLRight = 'k'
	ACLRightCreateOld ACLRight = 'c' // obsolete alias for 'k'
	ACLRightDelete    ACLRight = 'x'
	ACLRightDeleteOld ACLRight = 'd' // obsolete alias for 'x'+'t'
	ACLRightExpunge   ACLRight = 't'
	ACLRightAdmin     ACLRight = 'a'
)

// ACLRights is an unordered string of ACL right characters, as they
// appear on the wire (e.g. "lrswipkxtea").
type ACLRights string

// Contains reports whether r grants right.
func (r ACLRights) Contains(right ACLRight) bool {
	for _, c := range string(r) {
		if ACLRight(c) == right {
			return true
		}
	}
	return false
}

// Union returns the set union of r and other, without duplicate runes.
func (r ACLRights) Union(other ACLRights) ACLRights {
	seen := make(map[rune]bool, len(r)+len(other))
	var out []rune
	for _, c := range string(r) + string(other) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return ACLRights(string(out))
}

// ACLData is the result of a GETACL command: per-identifier rights for
// one mailbox.
type ACLData struct {
	Mailbox string
	Rights  map[string]ACLRights
}

// ACLListRightsData is the result of a LISTRIGHTS command.
type ACLListRightsData struct {
	Mailbox    string
	Identifier string
	// Required are rights always granted to Identifier.
	Required ACLRights
	// Optional lists groups of rights that may be granted together.
	Optional []ACLRights
}

// ACLMyRightsData is the result of a MYRIGHTS command: the caller's own
// rights on a mailbox.
type ACLMyRightsData struct {
	Mailbox string
	Rights  ACLRights
}

// QuotaResource names a quota resource type (RFC 9208 §4).
type QuotaResource string

const (
	QuotaResourceStorage           QuotaResource = "STORAGE"
	QuotaResourceMessage           QuotaResource = "MESSAGE"
	QuotaResourceMailbox           QuotaResource = "MAILBOX"
	QuotaResourceAnnotationStorage QuotaResource = "ANNOTATION-STORAGE"
)

// QuotaResourceData is the usage/limit pair for one resource within a
// quota root.
type QuotaResourceData struct {
	Name  QuotaResource
	Usage int64
	Limit int64
}

// Exceeded reports whether usage has reached or passed the limit.
func (d QuotaResourceData) Exceeded() bool {
	return d.Limit > 0 && d.Usage >= d.Limit
}

// QuotaData is the result of a GETQUOTA command.
type QuotaData struct {
	Root      string
	Resources []QuotaResourceData
}

// QuotaRootData is the result of a GETQUOTAROOT command: the quota
// roots that apply to a given mailbox.
type QuotaRootData struct {
	Mailbox string
	Roots   []string
}

// MetadataEntry is a single name/value pair as used by SETMETADATA. A
// nil Value requests removal of the entry.
type MetadataEntry struct {
	Name  string
	Value *string
}

// MetadataOptions bounds the result of a GETMETADATA command.
type MetadataOptions struct {
	MaxSize *int64
	Depth   string // "0", "1", or "infinity"
}

// MetadataData is the result of a GETMETADATA command. Mailbox is empty
// for server-level (as opposed to per-mailbox) annotations.
type MetadataData struct {
	Mailbox string
	Entries map[string]*string
}

// NamespaceDescriptor describes one namespace root advertised by the
// server.
type NamespaceDescriptor struct {
	Prefix string
	Delim  rune // 0 when the server reports no delimiter
}

// NamespaceData is the result of a NAMESPACE command, partitioned per
// RFC 2342 §5 into the caller's personal namespaces, other users'
// namespaces the caller can see, and shared namespaces.
type NamespaceData struct {
	Personal []NamespaceDescriptor
	Other    []NamespaceDescriptor
	Shared   []NamespaceDescriptor
}

// ID field names defined by RFC 2971 §3.3.
const (
	IDFieldName        = "name"
	IDFieldVersion     = "version"
	IDFieldOS          = "os"
	IDFieldOSVersion   = "os-version"
	IDFieldVendor      = "vendor"
	IDFieldSupportURL  = "support-url"
	IDFieldAddress     = "address"
	IDFieldDate        = "date"
	IDFieldCommand     = "command"
	IDFieldArguments   = "arguments"
	IDFieldEnvironment = "environment"
)

// IDData holds the key/value pairs exchanged by an ID command in either
// direction. Keys are case-insensitive on the wire; a nil value means
// NIL was sent.
type IDData map[string]*string

// AppendOptions controls an APPEND command.
type AppendOptions struct {
	Flags        []Flag
	InternalDate time.Time
	// Binary marks the literal as a binary literal, ~{N} (RFC 3516).
	Binary bool
	// UTF8 marks the literal as UTF8 literal syntax (RFC 6855).
	UTF8 bool
}

// AppendData is the result of an APPEND command.
type AppendData struct {
	UIDValidity uint32
	// UID is populated only when the server advertises UIDPLUS.
	UID UID
}

// CopyData is the result of a COPY or MOVE command (UIDPLUS, RFC 4315).
type CopyData struct {
	UIDValidity uint32
	SourceUIDs  UIDSet
	DestUIDs    UIDSet
}

// NotifyFilter is one NOTIFY event filter (RFC 5465 §5): a mailbox
// specifier plus the events the server should push for it. An empty
// Events list asks for NONE on that specifier.
type NotifyFilter struct {
	// Specifier is SELECTED, SELECTED-DELAYED, PERSONAL, INBOXES,
	// SUBSCRIBED, SUBTREE, or MAILBOXES.
	Specifier string
	// Mailboxes names the mailboxes covered by the SUBTREE and
	// MAILBOXES specifiers; unused otherwise.
	Mailboxes []string
	// Events are RFC 5465 event atoms: MessageNew, MessageExpunge,
	// FlagChange, MailboxName, SubscriptionChange, and so on.
	Events []string
}
