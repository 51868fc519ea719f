package imap

import (
	"strings"
	"sync"
)

// Cap is a single IMAP capability token as it appears in a CAPABILITY
// response (RFC 3501 §6.1.1, RFC 9051 §6.1.1).
type Cap string

// The capability set this engine negotiates and uses.
const (
	CapIMAP4rev1 Cap = "IMAP4rev1"
	CapIMAP4rev2 Cap = "IMAP4rev2"

	// SASL mechanism advertisements, RFC 3501 §6.2.2.
	CapAuthPlain           Cap = "AUTH=PLAIN"
	CapAuthLogin           Cap = "AUTH=LOGIN"
	CapAuthCRAMMD5         Cap = "AUTH=CRAM-MD5"
	CapAuthSCRAMSHA1       Cap = "AUTH=SCRAM-SHA-1"
	CapAuthSCRAMSHA256     Cap = "AUTH=SCRAM-SHA-256"
	CapAuthSCRAMSHA1Plus   Cap = "AUTH=SCRAM-SHA-1-PLUS"
	CapAuthSCRAMSHA256Plus Cap = "AUTH=SCRAM-SHA-256-PLUS"
	CapAuthXOAuth2         Cap = "AUTH=XOAUTH2"
	CapAuthOAuthBearer     Cap = "AUTH=OAUTHBEARER"
	CapAuthExternal        Cap = "AUTH=EXTERNAL"
	CapAuthAnonymous       Cap = "AUTH=ANONYMOUS"

	CapSASLIR Cap = "SASL-IR" // RFC 4959

	CapIdle      Cap = "IDLE"      // RFC 2177
	CapNamespace Cap = "NAMESPACE" // RFC 2342
	CapID        Cap = "ID"        // RFC 2971
	CapChildren  Cap = "CHILDREN"  // RFC 3348

	CapStartTLS      Cap = "STARTTLS"
	CapLogindisabled Cap = "LOGINDISABLED"

	CapMultiAppend Cap = "MULTIAPPEND" // RFC 3502
	CapBinary      Cap = "BINARY"      // RFC 3516
	CapUnselect    Cap = "UNSELECT"    // RFC 3691
	CapACL         Cap = "ACL"         // RFC 4314
	CapUIDPlus     Cap = "UIDPLUS"     // RFC 4315
	CapURLAuth     Cap = "URLAUTH"     // RFC 4467
	CapCatenate    Cap = "CATENATE"    // RFC 4469
	CapESearch     Cap = "ESEARCH"     // RFC 4731

	CapCompressDeflate Cap = "COMPRESS=DEFLATE" // RFC 4978
	CapWithin          Cap = "WITHIN"           // RFC 5032
	CapEnable          Cap = "ENABLE"           // RFC 5161
	CapSearchRes       Cap = "SEARCHRES"        // RFC 5182
	CapLanguage        Cap = "LANGUAGE"         // RFC 5255

	CapSort                 Cap = "SORT"                  // RFC 5256
	CapThreadOrderedSubject Cap = "THREAD=ORDEREDSUBJECT" // RFC 5256
	CapThreadReferences     Cap = "THREAD=REFERENCES"     // RFC 5256

	CapListExtended Cap = "LIST-EXTENDED" // RFC 5258
	CapConvert      Cap = "CONVERT"       // RFC 5259

	CapContextSearch Cap = "CONTEXT=SEARCH" // RFC 5267
	CapContextSort   Cap = "CONTEXT=SORT"   // RFC 5267
	CapESort         Cap = "ESORT"          // RFC 5267

	CapMetadata       Cap = "METADATA"        // RFC 5464
	CapMetadataServer Cap = "METADATA-SERVER" // RFC 5464
	CapNotify         Cap = "NOTIFY"          // RFC 5465
	CapFilters        Cap = "FILTERS"         // RFC 5466
	CapListStatus     Cap = "LIST-STATUS"     // RFC 5819
	CapSortDisplay    Cap = "SORT=DISPLAY"    // RFC 5957

	CapSpecialUse       Cap = "SPECIAL-USE"        // RFC 6154
	CapCreateSpecialUse Cap = "CREATE-SPECIAL-USE" // RFC 6154
	CapSearchFuzzy      Cap = "SEARCH=FUZZY"       // RFC 6203
	CapMove             Cap = "MOVE"               // RFC 6851
	CapUTF8Accept       Cap = "UTF8=ACCEPT"        // RFC 6855
	CapUTF8Only         Cap = "UTF8=ONLY"          // RFC 6855

	CapCondStore Cap = "CONDSTORE" // RFC 7162
	CapQResync   Cap = "QRESYNC"   // RFC 7162

	CapMultiSearch Cap = "MULTISEARCH" // RFC 7377
	CapOAuthBearer Cap = "OAUTHBEARER" // RFC 7628 (non-AUTH= form)

	CapLiteralPlus  Cap = "LITERAL+" // RFC 7888
	CapLiteralMinus Cap = "LITERAL-" // RFC 7888

	CapAppendLimit    Cap = "APPENDLIMIT"    // RFC 7889
	CapUnauthenticate Cap = "UNAUTHENTICATE" // RFC 8437
	CapStatusSize     Cap = "STATUS=SIZE"    // RFC 8438
	CapListMyRights   Cap = "LIST-MYRIGHTS"  // RFC 8440
	CapObjectID       Cap = "OBJECTID"       // RFC 8474
	CapReplace        Cap = "REPLACE"        // RFC 8508
	CapSaveDate       Cap = "SAVEDATE"       // RFC 8514
	CapPreview        Cap = "PREVIEW"        // RFC 8970

	CapQuota              Cap = "QUOTA"                         // RFC 9208
	CapQuotaResStorage    Cap = "QUOTA=RES-STORAGE"             // RFC 9208
	CapQuotaResMessage    Cap = "QUOTA=RES-MESSAGE"             // RFC 9208
	CapQuotaResMailbox    Cap = "QUOTA=RES-MAILBOX"             // RFC 9208
	CapQuotaResAnnotation Cap = "QUOTA=RES-ANNOTATION-STORAGE"  // RFC 9208

	CapPartial      Cap = "PARTIAL"       // RFC 9394
	CapInProgress   Cap = "INPROGRESS"    // RFC 9585
	CapUIDOnly      Cap = "UIDONLY"       // RFC 9586
	CapListMetadata Cap = "LIST-METADATA" // RFC 9590
	CapJMAPAccess   Cap = "JMAPACCESS"    // RFC 9698
	CapMessageLimit Cap = "MESSAGELIMIT"  // RFC 9738
)

// CapSet is a thread-safe capability set with a derived
// SASL-mechanism view and a monotonic
// version counter so callers can detect a CAPABILITY reissue (e.g.
// after STARTTLS) without diffing the set themselves.
type CapSet struct {
	mu      sync.RWMutex
	caps    map[Cap]bool
	version int
}

// NewCapSet builds a CapSet seeded with caps.
func NewCapSet(caps ...Cap) *CapSet {
	cs := &CapSet{caps: make(map[Cap]bool, len(caps))}
	for _, c := range caps {
		cs.caps[c] = true
	}
	return cs
}

// Has reports whether the set contains cap.
func (cs *CapSet) Has(cap Cap) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.caps[cap]
}

// Add merges caps into the set and bumps Version.
func (cs *CapSet) Add(caps ...Cap) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range caps {
		cs.caps[c] = true
	}
	cs.version++
}

// Remove drops caps from the set and bumps Version.
func (cs *CapSet) Remove(caps ...Cap) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range caps {
		delete(cs.caps, c)
	}
	cs.version++
}

// Reset replaces the entire set with caps in one step (as happens on a
// fresh CAPABILITY response) and bumps Version exactly once.
func (cs *CapSet) Reset(caps ...Cap) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.caps = make(map[Cap]bool, len(caps))
	for _, c := range caps {
		cs.caps[c] = true
	}
	cs.version++
}

// Version returns the number of times the set has been mutated.
func (cs *CapSet) Version() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.version
}

// All returns every capability currently in the set, in no particular
// order.
func (cs *CapSet) All() []Cap {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	result := make([]Cap, 0, len(cs.caps))
	for c := range cs.caps {
		result = append(result, c)
	}
	return result
}

// Len returns the number of capabilities in the set.
func (cs *CapSet) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.caps)
}

// String renders the set as a space-separated token list, the form a
// CAPABILITY response body uses.
func (cs *CapSet) String() string {
	caps := cs.All()
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	return strings.Join(strs, " ")
}

// Clone returns an independent copy of the set at its current version.
func (cs *CapSet) Clone() *CapSet {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	newCS := &CapSet{caps: make(map[Cap]bool, len(cs.caps)), version: cs.version}
	for c := range cs.caps {
		newCS.caps[c] = true
	}
	return newCS
}

// HasAuth reports whether the set advertises AUTH=<mechanism>.
func (cs *CapSet) HasAuth(mechanism string) bool {
	return cs.Has(Cap("AUTH=" + strings.ToUpper(mechanism)))
}

// SaslMechanisms returns the derived view of AUTH= tokens with the
// prefix stripped.
func (cs *CapSet) SaslMechanisms() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var mechs []string
	for c := range cs.caps {
		if s := string(c); len(s) > 5 && strings.EqualFold(s[:5], "AUTH=") {
			mechs = append(mechs, s[5:])
		}
	}
	return mechs
}
