package imap

import (
	"io"
	"time"
)

// FetchOptions is a FETCH attribute list: which data items a FETCH or
// UID FETCH command should return for each matched message.
type FetchOptions struct {
	BodySection       []*FetchItemBodySection
	BodyStructure     bool
	Envelope          bool
	Flags             bool
	InternalDate      bool
	RFC822Size        bool
	UID               bool
	ModSeq            bool // CONDSTORE
	Preview           bool // RFC 8970
	PreviewLazy       bool // PREVIEW (LAZY), RFC 8970
	SaveDate          bool // RFC 8514
	EmailID           bool // RFC 8474
	ThreadID          bool // RFC 8474
	GmailExtensions   bool // X-GM-LABELS / X-GM-MSGID / X-GM-THRID

	BinarySection     []*FetchItemBinarySection // BINARY[]/BINARY.PEEK[], RFC 3516
	BinarySizeSection [][]int                   // BINARY.SIZE[], RFC 3516; each entry is a part path, e.g. [1,2] for "1.2"

	// ChangedSince restricts the result to messages whose MODSEQ exceeds
	// this value (CONDSTORE).
	ChangedSince uint64
	// Vanished asks the server for VANISHED instead of EXPUNGE when used
	// together with ChangedSince under QRESYNC.
	Vanished bool
}

// FetchItemBodySection is one BODY[section]<partial> request, e.g.
// BODY.PEEK[HEADER.FIELDS (SUBJECT)]<0.100>.
type FetchItemBodySection struct {
	// Specifier is "HEADER", "TEXT", "HEADER.FIELDS", "MIME", or "" for
	// the whole part.
	Specifier string
	Part      []int // MIME part path, e.g. [1,2] for "1.2"; nil for the top-level message
	Fields    []string
	NotFields bool // HEADER.FIELDS.NOT rather than HEADER.FIELDS
	Peek      bool // BODY.PEEK[...]: do not set \Seen as a side effect
	Partial   *SectionPartial
}

// FetchItemBinarySection is one BINARY[part] or BINARY.PEEK[part]
// request (RFC 3516).
type FetchItemBinarySection struct {
	Part    []int
	Peek    bool
	Partial *SectionPartial
}

// BinarySizeData is the decoded size of one BINARY.SIZE[part] response
// item.
type BinarySizeData struct {
	Part []int
	Size uint32
}

// FetchMessageData is the streaming form of a single message's FETCH
// response: body sections arrive as readers the caller consumes before
// the next message's data starts, so a client iterating a large FETCH
// need not buffer every literal in memory at once.
type FetchMessageData struct {
	SeqNum uint32

	Envelope      *Envelope
	BodyStructure *BodyStructure
	Flags         []Flag
	InternalDate  time.Time
	RFC822Size    int64
	UID           UID
	ModSeq        uint64
	Preview       string
	PreviewNIL    bool
	SaveDate      *time.Time
	EmailID       string
	ThreadID      string

	// GmailLabels, GmailMsgID, and GmailThreadID surface the X-GM-LABELS,
	// X-GM-MSGID, and X-GM-THRID extension attributes when
	// GmailExtensions was requested and the server is Gmail's IMAP front
	// end.
	GmailLabels   []string
	GmailMsgID    uint64
	GmailThreadID uint64

	BodySection       map[*FetchItemBodySection]SectionReader
	BinarySection     map[*FetchItemBinarySection]SectionReader
	BinarySizeSection []BinarySizeData
}

// SectionReader pairs a FETCH body-section reader with its declared
// literal length.
type SectionReader struct {
	io.Reader
	Size int64
}

// FetchMessageBuffer is the fully-buffered counterpart to
// FetchMessageData: every section's bytes are already in memory, keyed
// by the section's wire-form name rather than by item pointer, which
// is what summary.Assemble consumes.
type FetchMessageBuffer struct {
	SeqNum        uint32
	Envelope      *Envelope
	BodyStructure *BodyStructure
	Flags         []Flag
	InternalDate  time.Time
	RFC822Size    int64
	UID           UID
	ModSeq        uint64
	Preview       string
	PreviewNIL    bool
	SaveDate      *time.Time
	EmailID       string
	ThreadID      string
	GmailLabels   []string
	GmailMsgID    uint64
	GmailThreadID uint64

	BodySection       map[string][]byte
	BinarySection     map[string][]byte
	BinarySizeSection map[string]uint32
}

// Section returns the buffered bytes for the named BODY[] section and
// whether it was present at all.
func (b *FetchMessageBuffer) Section(name string) ([]byte, bool) {
	data, ok := b.BodySection[name]
	return data, ok
}
