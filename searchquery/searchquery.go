// Package searchquery provides an immutable boolean search-query tree with
// an optimizing pass, compiling down to imap.SearchCriteria — the flat,
// wire-level argument type the client and server SEARCH/SORT/THREAD command
// plumbing already consumes. Building the tree first lets callers combine
// and simplify predicates programmatically before a single compile step.
package searchquery

import (
	"fmt"
	"time"

	imap "github.com/outpostmail/mailkit"
)

// Query is an immutable node in a search-query tree.
type Query interface {
	isQuery()
}

type allQuery struct{}

// All matches every message.
func All() Query { return allQuery{} }

func (allQuery) isQuery() {}

type andQuery struct{ children []Query }

// And matches messages satisfying every child query.
func And(children ...Query) Query { return andQuery{children: children} }

func (andQuery) isQuery() {}

type orQuery struct{ children []Query }

// Or matches messages satisfying at least one child query.
func Or(children ...Query) Query { return orQuery{children: children} }

func (orQuery) isQuery() {}

type notQuery struct{ child Query }

// Not negates a child query.
func Not(child Query) Query { return notQuery{child: child} }

func (notQuery) isQuery() {}

type leaf struct {
	apply func(*imap.SearchCriteria)
	key   string // stable identity for deduping; includes encoded args
}

func (leaf) isQuery() {}

// SeqNumIn matches messages whose sequence number is in the set.
func SeqNumIn(set *imap.SeqSet) Query {
	return leaf{key: "seq:" + set.String(), apply: func(c *imap.SearchCriteria) { c.SeqNum = set }}
}

// UIDIn matches messages whose UID is in the set.
func UIDIn(set *imap.UIDSet) Query {
	return leaf{key: "uid:" + set.String(), apply: func(c *imap.SearchCriteria) { c.UID = set }}
}

// Since matches messages with an internal date on or after t.
func Since(t time.Time) Query {
	return leaf{key: "since:" + t.String(), apply: func(c *imap.SearchCriteria) { c.Since = t }}
}

// Before matches messages with an internal date before t.
func Before(t time.Time) Query {
	return leaf{key: "before:" + t.String(), apply: func(c *imap.SearchCriteria) { c.Before = t }}
}

// SentSince matches messages whose Date header is on or after t.
func SentSince(t time.Time) Query {
	return leaf{key: "sentsince:" + t.String(), apply: func(c *imap.SearchCriteria) { c.SentSince = t }}
}

// SentBefore matches messages whose Date header is before t.
func SentBefore(t time.Time) Query {
	return leaf{key: "sentbefore:" + t.String(), apply: func(c *imap.SearchCriteria) { c.SentBefore = t }}
}

// SentOn matches messages whose Date header falls on the same day as t.
func SentOn(t time.Time) Query {
	return leaf{key: "senton:" + t.String(), apply: func(c *imap.SearchCriteria) { c.SentOn = t }}
}

// On matches messages with an internal date on the same day as t.
func On(t time.Time) Query {
	return leaf{key: "on:" + t.String(), apply: func(c *imap.SearchCriteria) { c.On = t }}
}

// Header matches messages with a header field containing value.
func Header(key, value string) Query {
	return leaf{
		key: "header:" + key + "=" + value,
		apply: func(c *imap.SearchCriteria) {
			c.Header = append(c.Header, imap.SearchCriteriaHeaderField{Key: key, Value: value})
		},
	}
}

// BodyContains matches messages whose body contains s.
func BodyContains(s string) Query {
	return leaf{key: "body:" + s, apply: func(c *imap.SearchCriteria) { c.Body = append(c.Body, s) }}
}

// TextContains matches messages whose header or body contains s.
func TextContains(s string) Query {
	return leaf{key: "text:" + s, apply: func(c *imap.SearchCriteria) { c.Text = append(c.Text, s) }}
}

// Larger matches messages larger than n bytes.
func Larger(n int64) Query {
	return leaf{key: fmt.Sprintf("larger:%d", n), apply: func(c *imap.SearchCriteria) { c.Larger = n }}
}

// Smaller matches messages smaller than n bytes.
func Smaller(n int64) Query {
	return leaf{key: fmt.Sprintf("smaller:%d", n), apply: func(c *imap.SearchCriteria) { c.Smaller = n }}
}

// HasFlag matches messages carrying flag.
func HasFlag(flag imap.Flag) Query {
	return leaf{key: "flag:" + string(flag), apply: func(c *imap.SearchCriteria) { c.Flag = append(c.Flag, flag) }}
}

// LacksFlag matches messages not carrying flag.
func LacksFlag(flag imap.Flag) Query {
	return leaf{key: "notflag:" + string(flag), apply: func(c *imap.SearchCriteria) { c.NotFlag = append(c.NotFlag, flag) }}
}

// ModSeqAtLeast matches messages with a mod-sequence >= modSeq (CONDSTORE).
func ModSeqAtLeast(modSeq uint64) Query {
	return leaf{key: fmt.Sprintf("modseq:%d", modSeq), apply: func(c *imap.SearchCriteria) { c.ModSeq = &imap.SearchCriteriaModSeq{ModSeq: modSeq} }}
}

// YoungerThan matches messages received within the last d (RFC 5032 WITHIN).
func YoungerThan(d time.Duration) Query {
	secs := int64(d / time.Second)
	return leaf{key: fmt.Sprintf("younger:%d", secs), apply: func(c *imap.SearchCriteria) { c.Younger = secs }}
}

// OlderThan matches messages received more than d ago (RFC 5032 WITHIN).
func OlderThan(d time.Duration) Query {
	secs := int64(d / time.Second)
	return leaf{key: fmt.Sprintf("older:%d", secs), apply: func(c *imap.SearchCriteria) { c.Older = secs }}
}

// Fuzzy wraps a query to request fuzzy matching (RFC 6203), when the leaf
// it wraps supports it (Header/Body/Text).
func Fuzzy(q Query) Query {
	return leaf{
		key: fmt.Sprintf("fuzzy:%v", q),
		apply: func(c *imap.SearchCriteria) {
			mergeInto(c, *Compile(q))
			c.Fuzzy = true
		},
	}
}

// Optimize simplifies a query tree: flattening nested And/Or of the same
// kind, eliminating double negation, absorbing All (And drops it, Or
// collapses to it), and deduping identical leaves within the same And/Or
// level. It does not change the set of matched messages.
func Optimize(q Query) Query {
	switch n := q.(type) {
	case andQuery:
		return optimizeAssoc(n.children, true)
	case orQuery:
		return optimizeAssoc(n.children, false)
	case notQuery:
		inner := Optimize(n.child)
		if dn, ok := inner.(notQuery); ok {
			return dn.child
		}
		return notQuery{child: inner}
	default:
		return q
	}
}

func optimizeAssoc(children []Query, isAnd bool) Query {
	var flat []Query
	for _, c := range children {
		oc := Optimize(c)
		switch n := oc.(type) {
		case andQuery:
			if isAnd {
				flat = append(flat, n.children...)
				continue
			}
		case orQuery:
			if !isAnd {
				flat = append(flat, n.children...)
				continue
			}
		case allQuery:
			if isAnd {
				// And absorbs ALL: drop it.
				continue
			}
			// Or absorbs ALL: the whole expression is ALL.
			return allQuery{}
		}
		flat = append(flat, oc)
	}

	flat = dedupe(flat)

	if len(flat) == 0 {
		if isAnd {
			return allQuery{}
		}
		return allQuery{}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	if isAnd {
		return andQuery{children: flat}
	}
	return orQuery{children: flat}
}

func dedupe(children []Query) []Query {
	seen := make(map[string]bool, len(children))
	out := make([]Query, 0, len(children))
	for _, c := range children {
		key, ok := structuralKey(c)
		if ok {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, c)
	}
	return out
}

func structuralKey(q Query) (string, bool) {
	if l, ok := q.(leaf); ok {
		return l.key, true
	}
	if _, ok := q.(allQuery); ok {
		return "all", true
	}
	return "", false
}

// Compile translates a query tree into the flat imap.SearchCriteria the
// SEARCH command plumbing expects.
func Compile(q Query) *imap.SearchCriteria {
	c := &imap.SearchCriteria{}
	compileInto(q, c)
	return c
}

func compileInto(q Query, c *imap.SearchCriteria) {
	switch n := q.(type) {
	case allQuery:
		// no-op: ALL adds no constraint
	case leaf:
		n.apply(c)
	case andQuery:
		for _, child := range n.children {
			compileInto(child, c)
		}
	case orQuery:
		compiled := make([]imap.SearchCriteria, len(n.children))
		for i, child := range n.children {
			compiled[i] = *Compile(child)
		}
		acc := compiled[len(compiled)-1]
		for i := len(compiled) - 2; i >= 0; i-- {
			acc = imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{compiled[i], acc}}}
		}
		mergeInto(c, acc)
	case notQuery:
		c.Not = append(c.Not, *Compile(n.child))
	}
}

// mergeInto folds src's fields into dst, appending slice-valued criteria
// and overwriting scalar ones (last writer wins for conflicting scalars
// such as two different Since values in the same And).
func mergeInto(dst *imap.SearchCriteria, src imap.SearchCriteria) {
	if src.SeqNum != nil {
		dst.SeqNum = src.SeqNum
	}
	if src.UID != nil {
		dst.UID = src.UID
	}
	if !src.Since.IsZero() {
		dst.Since = src.Since
	}
	if !src.Before.IsZero() {
		dst.Before = src.Before
	}
	if !src.SentSince.IsZero() {
		dst.SentSince = src.SentSince
	}
	if !src.SentBefore.IsZero() {
		dst.SentBefore = src.SentBefore
	}
	if !src.SentOn.IsZero() {
		dst.SentOn = src.SentOn
	}
	if !src.On.IsZero() {
		dst.On = src.On
	}
	dst.Header = append(dst.Header, src.Header...)
	dst.Body = append(dst.Body, src.Body...)
	dst.Text = append(dst.Text, src.Text...)
	if src.Larger != 0 {
		dst.Larger = src.Larger
	}
	if src.Smaller != 0 {
		dst.Smaller = src.Smaller
	}
	dst.Flag = append(dst.Flag, src.Flag...)
	dst.NotFlag = append(dst.NotFlag, src.NotFlag...)
	if src.ModSeq != nil {
		dst.ModSeq = src.ModSeq
	}
	dst.Or = append(dst.Or, src.Or...)
	dst.Not = append(dst.Not, src.Not...)
	if src.Younger != 0 {
		dst.Younger = src.Younger
	}
	if src.Older != 0 {
		dst.Older = src.Older
	}
	if src.Fuzzy {
		dst.Fuzzy = true
	}
}
