package client

import (
	"errors"
	"strings"

	imap "github.com/outpostmail/mailkit"
)

// ErrNotifyNotSupported is returned when the server does not advertise
// NOTIFY (RFC 5465).
var ErrNotifyNotSupported = errors.New("imap: server does not support NOTIFY")

// NotifySet issues NOTIFY SET with the given filters. Matching events
// arrive as unsolicited untagged responses and flow through the same
// paths as IDLE data: the UnilateralDataHandler, the selected-mailbox
// state, and the QRESYNC event stream.
func (c *Client) NotifySet(filters ...imap.NotifyFilter) error {
	if !c.SupportsNotify() {
		return ErrNotifyNotSupported
	}
	if len(filters) == 0 {
		return c.NotifyNone()
	}

	var arg strings.Builder
	arg.WriteString("SET")
	for _, f := range filters {
		arg.WriteString(" (")
		spec := strings.ToUpper(f.Specifier)
		arg.WriteString(spec)
		if spec == "SUBTREE" || spec == "MAILBOXES" {
			arg.WriteByte(' ')
			if len(f.Mailboxes) == 1 {
				arg.WriteString(quoteArg(f.Mailboxes[0]))
			} else {
				arg.WriteByte('(')
				for i, mb := range f.Mailboxes {
					if i > 0 {
						arg.WriteByte(' ')
					}
					arg.WriteString(quoteArg(mb))
				}
				arg.WriteByte(')')
			}
		}
		if len(f.Events) > 0 {
			arg.WriteString(" (")
			arg.WriteString(strings.Join(f.Events, " "))
			arg.WriteByte(')')
		} else {
			arg.WriteString(" NONE")
		}
		arg.WriteByte(')')
	}

	return c.executeCheck("NOTIFY", arg.String())
}

// NotifyNone cancels every event filter previously armed with NotifySet.
func (c *Client) NotifyNone() error {
	if !c.SupportsNotify() {
		return ErrNotifyNotSupported
	}
	return c.executeCheck("NOTIFY", "NONE")
}
