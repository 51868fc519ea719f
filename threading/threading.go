// Package threading implements the RFC 5256 THREAD algorithms
// (ORDEREDSUBJECT and REFERENCES) over a client-supplied set of message
// envelopes, independent of wire format.
package threading

import (
	"sort"
	"strings"
	"time"

	imap "github.com/outpostmail/mailkit"
)

// Message is the subset of envelope data the threading algorithms need.
// Callers assemble these from FETCH ENVELOPE/BODY[HEADER.FIELDS] responses.
type Message struct {
	Num        uint32
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	Date       time.Time
}

// node is an internal threading container; a nil Message marks a container
// with no corresponding real message (RFC 5256 §2.1's "dummy" envelope).
type node struct {
	msg      *Message
	parent   *node
	children []*node
}

func (n *node) addChild(c *node) {
	if c.parent != nil {
		c.parent.removeChild(c)
	}
	c.parent = n
	n.children = append(n.children, c)
}

func (n *node) removeChild(c *node) {
	for i, ch := range n.children {
		if ch == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

func (n *node) isAncestorOf(other *node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// References threads messages using the References algorithm (RFC 5256
// §2.1): every message is linked to its parent via the References/
// In-Reply-To headers, synthetic root containers hold orphaned message-IDs,
// and siblings are ordered by date.
func References(messages []Message) []imap.Thread {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*node, len(messages))
	order := make([]*node, 0, len(messages))

	getOrCreate := func(id string) *node {
		if id == "" {
			n := &node{}
			order = append(order, n)
			return n
		}
		if n, ok := byID[id]; ok {
			return n
		}
		n := &node{}
		byID[id] = n
		order = append(order, n)
		return n
	}

	for i := range messages {
		m := &messages[i]
		var n *node
		if m.MessageID != "" {
			if existing, ok := byID[m.MessageID]; ok && existing.msg == nil {
				n = existing
			} else if ok {
				// Duplicate Message-ID: treat as a distinct message so no
				// data is dropped, but keep it out of byID so later
				// references resolve to the first occurrence.
				n = &node{}
				order = append(order, n)
			} else {
				n = getOrCreate(m.MessageID)
			}
		} else {
			n = &node{}
			order = append(order, n)
		}
		n.msg = m

		refs := m.References
		if len(refs) == 0 && m.InReplyTo != "" {
			refs = []string{m.InReplyTo}
		}
		var parent *node
		for _, ref := range refs {
			p := getOrCreate(ref)
			if parent != nil && p != parent {
				parent.addChild(p)
			}
			parent = p
		}
		if parent != nil && parent != n && !n.isAncestorOf(parent) {
			parent.addChild(n)
		}
	}

	root := &node{}
	for _, n := range order {
		if n.parent == nil && n != root {
			root.addChild(n)
		}
	}

	pruneDummies(root)
	sortSiblingsByDate(root)

	return nodesToThreads(root.children)
}

// pruneDummies promotes the children of message-less containers that have
// no message of their own, per RFC 5256 §2.1's dummy-removal step: a root
// dummy with one child is replaced by that child, and a dummy with no
// message elsewhere in the tree has its children promoted to its parent.
func pruneDummies(root *node) {
	for i := 0; i < len(root.children); i++ {
		c := root.children[i]
		if c.msg == nil {
			root.removeChild(c)
			for _, gc := range append([]*node(nil), c.children...) {
				root.addChild(gc)
			}
			i--
		}
	}
}

func sortSiblingsByDate(n *node) {
	sort.SliceStable(n.children, func(i, j int) bool {
		return dateOf(n.children[i]).Before(dateOf(n.children[j]))
	})
	for _, c := range n.children {
		sortSiblingsByDate(c)
	}
}

func dateOf(n *node) time.Time {
	if n.msg != nil {
		return n.msg.Date
	}
	if len(n.children) > 0 {
		return dateOf(n.children[0])
	}
	return time.Time{}
}

func nodesToThreads(nodes []*node) []imap.Thread {
	threads := make([]imap.Thread, 0, len(nodes))
	for _, n := range nodes {
		threads = append(threads, nodeToThread(n))
	}
	return threads
}

// nodeToThread flattens a dummy container with no message into its
// children at the same tree level, since imap.Thread has no room for a
// num-less placeholder node.
func nodeToThread(n *node) imap.Thread {
	var num uint32
	if n.msg != nil {
		num = n.msg.Num
	}
	t := imap.Thread{Num: num}
	for _, c := range n.children {
		ct := nodeToThread(c)
		if c.msg == nil {
			t.Children = append(t.Children, ct.Children...)
		} else {
			t.Children = append(t.Children, ct)
		}
	}
	return t
}

// OrderedSubject threads messages using the ORDEREDSUBJECT algorithm (RFC
// 5256 §2.2): group by normalized base subject, then chain each group's
// messages in date order as a single-descent list.
func OrderedSubject(messages []Message) []imap.Thread {
	if len(messages) == 0 {
		return nil
	}

	type group struct {
		subject string
		msgs    []Message
	}
	groups := make(map[string]*group)
	var order []*group

	for _, m := range messages {
		key := NormalizeSubject(m.Subject)
		g, ok := groups[key]
		if !ok {
			g = &group{subject: key}
			groups[key] = g
			order = append(order, g)
		}
		g.msgs = append(g.msgs, m)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return firstDate(order[i].msgs).Before(firstDate(order[j].msgs))
	})

	threads := make([]imap.Thread, 0, len(order))
	for _, g := range order {
		sort.SliceStable(g.msgs, func(i, j int) bool {
			return g.msgs[i].Date.Before(g.msgs[j].Date)
		})
		threads = append(threads, chain(g.msgs))
	}
	return threads
}

func firstDate(msgs []Message) time.Time {
	best := msgs[0].Date
	for _, m := range msgs[1:] {
		if m.Date.Before(best) {
			best = m.Date
		}
	}
	return best
}

// chain builds a single-descent thread (each message is the sole child of
// the previous one), which is how ORDEREDSUBJECT represents a subject group.
func chain(msgs []Message) imap.Thread {
	root := imap.Thread{Num: msgs[0].Num}
	cur := &root
	for _, m := range msgs[1:] {
		cur.Children = []imap.Thread{{Num: m.Num}}
		cur = &cur.Children[0]
	}
	return root
}

// NormalizeSubject strips reply/forward markers, trailing "(fwd)", and
// bracketed mailing-list tags per RFC 5256 §2.1, returning a lowercase
// base subject suitable for grouping.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		changed := false
		s = strings.TrimSpace(s)

		if trimmed, ok := trimTrailingFwd(s); ok {
			s = trimmed
			changed = true
		}
		if trimmed, ok := trimLeadingBlob(s); ok {
			s = trimmed
			changed = true
		}
		if !changed {
			break
		}
	}
	return strings.ToLower(s)
}

func trimTrailingFwd(s string) (string, bool) {
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "(fwd)") {
		return strings.TrimSpace(s[:len(s)-len("(fwd)")]), true
	}
	return s, false
}

// trimLeadingBlob strips a single leading reply/forward marker ("Re:",
// "Fwd:", "Re[2]:", optionally bracketed "[list-name]") from the front of
// the subject.
func trimLeadingBlob(s string) (string, bool) {
	if strings.HasPrefix(s, "[") {
		if i := strings.IndexByte(s, ']'); i >= 0 {
			return strings.TrimSpace(s[i+1:]), true
		}
	}

	lower := strings.ToLower(s)
	for _, prefix := range []string{"re:", "fwd:", "fw:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):]), true
		}
	}

	if strings.HasPrefix(lower, "re[") || strings.HasPrefix(lower, "fwd[") {
		if i := strings.IndexByte(s, ']'); i >= 0 && i+1 < len(s) && s[i+1] == ':' {
			return strings.TrimSpace(s[i+2:]), true
		}
	}

	return s, false
}
