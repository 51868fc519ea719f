package imap

import "sync"

// SelectedState tracks the data associated with the currently selected
// mailbox: message counts, UID/MODSEQ bookkeeping, and the set of UIDs the
// server has reported gone via VANISHED. It is created on SELECT/EXAMINE,
// mutated by every untagged response observed while selected, and reset on
// CLOSE/UNSELECT or disconnect.
type SelectedState struct {
	mu sync.RWMutex

	mailbox       string
	exists        uint32
	recent        uint32
	unseen        uint32
	uidNext       uint32
	uidValidity   uint32
	highestModSeq uint64
	readOnly      bool

	// seqToUID maps a message's current sequence number to its UID and,
	// if observed, its MODSEQ. Entries are populated by FETCH responses
	// carrying UID (and, under CONDSTORE/QRESYNC, MODSEQ).
	seqToUID map[uint32]uidModSeq

	// vanished is the set of UIDs the server has reported removed via an
	// untagged VANISHED response since the mailbox was selected.
	vanished map[UID]struct{}

	enabled map[string]bool
}

type uidModSeq struct {
	uid    UID
	modSeq uint64
}

// NewSelectedState creates selected-mailbox state for the given mailbox name.
func NewSelectedState(mailbox string) *SelectedState {
	return &SelectedState{
		mailbox:  mailbox,
		seqToUID: make(map[uint32]uidModSeq),
		vanished: make(map[UID]struct{}),
		enabled:  make(map[string]bool),
	}
}

// Mailbox returns the selected mailbox's name.
func (s *SelectedState) Mailbox() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mailbox
}

// Exists returns the current EXISTS count.
func (s *SelectedState) Exists() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists
}

// SetExists updates the EXISTS count.
func (s *SelectedState) SetExists(n uint32) {
	s.mu.Lock()
	s.exists = n
	s.mu.Unlock()
}

// Recent returns the current RECENT count.
func (s *SelectedState) Recent() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent
}

// SetRecent updates the RECENT count.
func (s *SelectedState) SetRecent(n uint32) {
	s.mu.Lock()
	s.recent = n
	s.mu.Unlock()
}

// Unseen returns the sequence number of the first unseen message, if known.
func (s *SelectedState) Unseen() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unseen
}

// SetUnseen records the first-unseen sequence number.
func (s *SelectedState) SetUnseen(n uint32) {
	s.mu.Lock()
	s.unseen = n
	s.mu.Unlock()
}

// UIDNext returns the predicted next UID.
func (s *SelectedState) UIDNext() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uidNext
}

// SetUIDNext records UIDNEXT.
func (s *SelectedState) SetUIDNext(n uint32) {
	s.mu.Lock()
	s.uidNext = n
	s.mu.Unlock()
}

// UIDValidity returns the current UIDVALIDITY.
func (s *SelectedState) UIDValidity() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uidValidity
}

// SetUIDValidity records UIDVALIDITY and reports whether it changed from a
// previously observed non-zero value.
func (s *SelectedState) SetUIDValidity(n uint32) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.uidValidity != 0 && s.uidValidity != n
	s.uidValidity = n
	return changed
}

// HighestModSeq returns the highest observed MODSEQ (CONDSTORE/QRESYNC).
func (s *SelectedState) HighestModSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestModSeq
}

// BumpHighestModSeq raises HighestModSeq to n if n is larger.
func (s *SelectedState) BumpHighestModSeq(n uint64) {
	s.mu.Lock()
	if n > s.highestModSeq {
		s.highestModSeq = n
	}
	s.mu.Unlock()
}

// ReadOnly reports whether the mailbox was opened read-only.
func (s *SelectedState) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// SetReadOnly records whether the mailbox is read-only.
func (s *SelectedState) SetReadOnly(ro bool) {
	s.mu.Lock()
	s.readOnly = ro
	s.mu.Unlock()
}

// ObserveFetch records a FETCH-reported UID (and, if present, MODSEQ) for a
// sequence number, per §4.8.
func (s *SelectedState) ObserveFetch(seq uint32, uid UID, modSeq uint64, hasModSeq bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.seqToUID[seq]
	if uid != 0 {
		entry.uid = uid
	}
	if hasModSeq {
		entry.modSeq = modSeq
		if modSeq > s.highestModSeq {
			s.highestModSeq = modSeq
		}
	}
	s.seqToUID[seq] = entry
}

// UIDForSeq returns the UID last observed for a sequence number.
func (s *SelectedState) UIDForSeq(seq uint32) (UID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.seqToUID[seq]
	return e.uid, ok && e.uid != 0
}

// ModSeqForSeq returns the MODSEQ last observed for a sequence number.
func (s *SelectedState) ModSeqForSeq(seq uint32) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.seqToUID[seq]
	return e.modSeq, ok && e.modSeq != 0
}

// ObserveExpunge removes a sequence number's bookkeeping entry and shifts
// every higher sequence number down by one, matching EXPUNGE semantics.
func (s *SelectedState) ObserveExpunge(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seqToUID, seq)
	shifted := make(map[uint32]uidModSeq, len(s.seqToUID))
	for n, e := range s.seqToUID {
		if n > seq {
			shifted[n-1] = e
		} else {
			shifted[n] = e
		}
	}
	s.seqToUID = shifted
	if s.exists > 0 {
		s.exists--
	}
}

// ObserveVanished unions uids into the vanished set and drops any sequence
// bookkeeping pointing at them.
func (s *SelectedState) ObserveVanished(uids []UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range uids {
		s.vanished[u] = struct{}{}
	}
	for seq, e := range s.seqToUID {
		if _, gone := s.vanished[e.uid]; gone {
			delete(s.seqToUID, seq)
		}
	}
}

// Vanished returns a snapshot of the UIDs reported vanished since selection.
func (s *SelectedState) Vanished() []UID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UID, 0, len(s.vanished))
	for u := range s.vanished {
		out = append(out, u)
	}
	return out
}

// SetEnabled records a capability as ENABLEd for this session.
func (s *SelectedState) SetEnabled(cap string) {
	s.mu.Lock()
	s.enabled[cap] = true
	s.mu.Unlock()
}

// Enabled reports whether a capability has been ENABLEd.
func (s *SelectedState) Enabled(cap string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[cap]
}

// QresyncEventKind identifies the variant of a QresyncEvent.
type QresyncEventKind int

const (
	// QresyncVanished reports UIDs the server says no longer exist.
	QresyncVanished QresyncEventKind = iota
	// QresyncFlagChanged reports a FETCH carrying updated flags and MODSEQ.
	QresyncFlagChanged
	// QresyncModSeqChanged reports a FETCH carrying only an updated MODSEQ.
	QresyncModSeqChanged
	// QresyncUIDValidityChanged reports that UIDVALIDITY changed, which
	// invalidates every UID the caller had cached for this mailbox.
	QresyncUIDValidityChanged
)

// QresyncEvent is one delta surfaced while resynchronizing a mailbox after
// ENABLE QRESYNC (RFC 7162 §3.2).
type QresyncEvent struct {
	Kind   QresyncEventKind
	UIDs   []UID    // Vanished
	UID    UID      // FlagChanged
	Flags  []Flag   // FlagChanged
	ModSeq uint64   // FlagChanged, ModSeqChanged
	UIDValidity uint32 // UIDValidityChanged
}
