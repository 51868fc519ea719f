package imap

// Command verbs this engine issues, grouped by the connection state in
// which RFC 3501 §6 permits them.
const (
	// Valid in any state.
	CommandCapability = "CAPABILITY"
	CommandNoop       = "NOOP"
	CommandLogout     = "LOGOUT"

	// Not-authenticated state.
	CommandStartTLS     = "STARTTLS"
	CommandAuthenticate = "AUTHENTICATE"
	CommandLogin        = "LOGIN"

	// Authenticated state.
	CommandEnable      = "ENABLE"
	CommandSelect      = "SELECT"
	CommandExamine     = "EXAMINE"
	CommandCreate      = "CREATE"
	CommandDelete      = "DELETE"
	CommandRename      = "RENAME"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandList        = "LIST"
	CommandLsub        = "LSUB"
	CommandNamespace   = "NAMESPACE"
	CommandStatus      = "STATUS"
	CommandAppend      = "APPEND"
	CommandIdle        = "IDLE"

	// Selected state.
	CommandClose    = "CLOSE"
	CommandUnselect = "UNSELECT"
	CommandExpunge  = "EXPUNGE"
	CommandSearch   = "SEARCH"
	CommandFetch    = "FETCH"
	CommandStore    = "STORE"
	CommandCopy     = "COPY"
	CommandMove     = "MOVE"
	CommandSort     = "SORT"
	CommandThread   = "THREAD"
	CommandUID      = "UID"

	// Extension verbs.
	CommandCompress       = "COMPRESS"
	CommandGetQuota       = "GETQUOTA"
	CommandGetQuotaRoot   = "GETQUOTAROOT"
	CommandSetQuota       = "SETQUOTA"
	CommandSetACL         = "SETACL"
	CommandDeleteACL      = "DELETEACL"
	CommandGetACL         = "GETACL"
	CommandListRights     = "LISTRIGHTS"
	CommandMyRights       = "MYRIGHTS"
	CommandSetMetadata    = "SETMETADATA"
	CommandGetMetadata    = "GETMETADATA"
	CommandReplace        = "REPLACE"
	CommandUnauthenticate = "UNAUTHENTICATE"
	CommandNotify         = "NOTIFY"
)

// stateCommands maps each connection state to the verbs legal in it;
// AllowedInState consults it.
var stateCommands = map[ConnState][]string{
	ConnStateNotAuthenticated: {CommandStartTLS, CommandAuthenticate, CommandLogin},
	ConnStateAuthenticated: {
		CommandEnable, CommandSelect, CommandExamine, CommandCreate, CommandDelete,
		CommandRename, CommandSubscribe, CommandUnsubscribe, CommandList, CommandLsub,
		CommandNamespace, CommandStatus, CommandAppend, CommandIdle,
	},
	ConnStateSelected: {
		CommandClose, CommandUnselect, CommandExpunge, CommandSearch, CommandFetch,
		CommandStore, CommandCopy, CommandMove, CommandSort, CommandThread, CommandUID,
	},
}

// AllowedInState reports whether verb may be issued while in state s,
// ignoring the any-state verbs (CAPABILITY/NOOP/LOGOUT) which are
// always allowed.
func AllowedInState(verb string, s ConnState) bool {
	switch verb {
	case CommandCapability, CommandNoop, CommandLogout:
		return true
	}
	for _, v := range stateCommands[s] {
		if v == verb {
			return true
		}
	}
	return false
}
