package imap

// StoreAction is how a STORE command changes a message's flag list.
type StoreAction int

const (
	StoreFlagsSet StoreAction = iota // replace the flag list
	StoreFlagsAdd                    // union in the given flags
	StoreFlagsDel                    // remove the given flags
)

// String renders the STORE item name this action maps to.
func (a StoreAction) String() string {
	switch a {
	case StoreFlagsAdd:
		return "+FLAGS"
	case StoreFlagsDel:
		return "-FLAGS"
	default:
		return "FLAGS"
	}
}

// StoreFlags is the flag-change half of a STORE command.
type StoreFlags struct {
	Action StoreAction
	Silent bool // append ".SILENT" so the server omits the resulting FETCH
	Flags  []Flag
}

// StoreOptions carries the CONDSTORE-conditional STORE modifier.
type StoreOptions struct {
	// UnchangedSince, if nonzero, makes the STORE a no-op on any message
	// whose MODSEQ exceeds this value (RFC 7162 §3.1.3).
	UnchangedSince uint64
}
