package imap

// SelectOptions configures a SELECT/EXAMINE request. A successful
// SELECT or EXAMINE moves the session to the selected state; CLOSE
// and UNSELECT move it back.
type SelectOptions struct {
	ReadOnly  bool // issue EXAMINE instead of SELECT
	CondStore bool // request CONDSTORE (RFC 7162)
	// QResync requests quick resync (RFC 7162 §3.1) and must be preceded
	// by ENABLE QRESYNC; the resulting deltas are delivered on the
	// client's QresyncEvents channel.
	QResync *SelectQResync
}

// SelectQResync carries the client's prior knowledge for a QRESYNC
// SELECT: the UID validity and modseq it last saw, and optionally the
// UID set it already has cached.
type SelectQResync struct {
	UIDValidity uint32
	ModSeq      uint64
	KnownUIDs   *UIDSet
	SeqMatch    *QResyncSeqMatch
}

// QResyncSeqMatch pairs a known sequence-number set with the UIDs the
// client last observed at those positions, per RFC 7162 §3.1's optional
// fourth QRESYNC parameter.
type QResyncSeqMatch struct {
	SeqNums *SeqSet
	UIDs    *UIDSet
}

// SelectData is the mailbox state a SELECT/EXAMINE response reports;
// the client seeds its tracked SelectedState from the same untagged
// data.
type SelectData struct {
	Flags          []Flag
	PermanentFlags []Flag
	NumMessages    uint32
	NumRecent      uint32 // IMAP4rev1 only; absent under IMAP4rev2
	UIDNext        UID
	UIDValidity    uint32
	FirstUnseen    uint32
	HighestModSeq  uint64 // CONDSTORE
	ReadOnly       bool
	MailboxID      string // RFC 8474
}
