package client

import (
	"fmt"
	"strconv"
	"strings"

	imap "github.com/outpostmail/mailkit"
)

// SpecialUseMailboxes seeds the client's view of special-use folders
// (Sent/Drafts/Trash/Archive/Junk/All/Flagged) with a single `LIST "" *`
// issued with the SPECIAL-USE return option when the server advertises
// SPECIAL-USE, or XLIST when only the legacy Gmail extension is present.
// Intended to run once after authentication, not on every LIST.
func (c *Client) SpecialUseMailboxes() (map[imap.MailboxAttr]*imap.ListData, error) {
	result := map[imap.MailboxAttr]*imap.ListData{}

	var entries []*imap.ListData
	var err error
	if c.HasCap("SPECIAL-USE") {
		entries, err = c.ListMailboxesExtended("", []string{"*"}, &imap.ListOptions{ReturnSpecialUse: true})
	} else if c.HasCap("XLIST") {
		c.collectUntagged()
		if cerr := c.executeCheck("XLIST", quoteArg(""), quoteArg("*")); cerr != nil {
			return nil, cerr
		}
		for _, line := range c.collectUntagged() {
			if rest, ok := cutPrefixFold(line, "XLIST "); ok {
				if d := parseListResponse(rest); d != nil {
					entries = append(entries, d)
				}
			}
		}
	} else {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	specialAttrs := map[imap.MailboxAttr]bool{
		imap.MailboxAttrAll: true, imap.MailboxAttrArchive: true, imap.MailboxAttrDrafts: true,
		imap.MailboxAttrFlagged: true, imap.MailboxAttrJunk: true, imap.MailboxAttrSent: true,
		imap.MailboxAttrTrash: true,
	}
	for _, e := range entries {
		for _, attr := range e.Attrs {
			if specialAttrs[attr] {
				result[attr] = e
			}
		}
	}
	return result, nil
}

// Namespace requests the server's personal, other-users', and shared
// namespace roots (RFC 2342).
func (c *Client) Namespace() (*imap.NamespaceData, error) {
	c.collectUntagged()
	if err := c.executeCheck("NAMESPACE"); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "NAMESPACE "); ok {
			return parseNamespaceResponse(rest)
		}
	}
	return &imap.NamespaceData{}, nil
}

// parseNamespaceResponse decodes the three parenthesized namespace lists
// (personal, other users', shared), any of which may be NIL.
func parseNamespaceResponse(text string) (*imap.NamespaceData, error) {
	sc := &attrScanner{s: strings.TrimSpace(text)}
	data := &imap.NamespaceData{}
	groups := []*[]imap.NamespaceDescriptor{&data.Personal, &data.Other, &data.Shared}
	for _, g := range groups {
		sc.skipSP()
		if sc.done() {
			break
		}
		val, err := sc.readValue()
		if err != nil {
			return nil, fmt.Errorf("imap: parsing NAMESPACE: %w", err)
		}
		list, ok := val.([]interface{})
		if !ok {
			continue // NIL: no namespaces in this group
		}
		for _, item := range list {
			entry, ok := item.([]interface{})
			if !ok || len(entry) < 2 {
				continue
			}
			prefix, _ := entry[0].(string)
			var delim rune
			if d, ok := entry[1].(string); ok && d != "" {
				delim = rune(d[0])
			}
			*g = append(*g, imap.NamespaceDescriptor{Prefix: prefix, Delim: delim})
		}
	}
	return data, nil
}

// SetACL sets the rights granted to identifier on mailbox (RFC 4314 §3.1).
// A modifier prefix of "+" or "-" on rights adds or removes the listed
// rights instead of replacing the full set.
func (c *Client) SetACL(mailbox, identifier string, rights imap.ACLRights) error {
	return c.executeCheck("SETACL", quoteArg(mailbox), quoteArg(identifier), string(rights))
}

// DeleteACL removes all rights for identifier on mailbox.
func (c *Client) DeleteACL(mailbox, identifier string) error {
	return c.executeCheck("DELETEACL", quoteArg(mailbox), quoteArg(identifier))
}

// GetACL requests the full ACL for mailbox.
func (c *Client) GetACL(mailbox string) (*imap.ACLData, error) {
	c.collectUntagged()
	if err := c.executeCheck("GETACL", quoteArg(mailbox)); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "ACL "); ok {
			return parseACLResponse(rest)
		}
	}
	return &imap.ACLData{Mailbox: mailbox}, nil
}

func parseACLResponse(text string) (*imap.ACLData, error) {
	mailbox, rest := parseMailboxName(text)
	data := &imap.ACLData{Mailbox: mailbox, Rights: map[string]imap.ACLRights{}}
	fields := splitQuotedFields(strings.TrimSpace(rest))
	for i := 0; i+1 < len(fields); i += 2 {
		data.Rights[fields[i]] = imap.ACLRights(fields[i+1])
	}
	return data, nil
}

// MyRights requests the caller's own rights on mailbox.
func (c *Client) MyRights(mailbox string) (*imap.ACLMyRightsData, error) {
	c.collectUntagged()
	if err := c.executeCheck("MYRIGHTS", quoteArg(mailbox)); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "MYRIGHTS "); ok {
			mailbox, rights := parseMailboxName(rest)
			return &imap.ACLMyRightsData{Mailbox: mailbox, Rights: imap.ACLRights(strings.TrimSpace(rights))}, nil
		}
	}
	return &imap.ACLMyRightsData{Mailbox: mailbox}, nil
}

// ListRights requests the rights available to be granted or denied to
// identifier on mailbox (RFC 4314 §3.5).
func (c *Client) ListRights(mailbox, identifier string) (*imap.ACLListRightsData, error) {
	c.collectUntagged()
	if err := c.executeCheck("LISTRIGHTS", quoteArg(mailbox), quoteArg(identifier)); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "LISTRIGHTS "); ok {
			return parseListRightsResponse(rest)
		}
	}
	return &imap.ACLListRightsData{Mailbox: mailbox, Identifier: identifier}, nil
}

func parseListRightsResponse(text string) (*imap.ACLListRightsData, error) {
	mailbox, rest := parseMailboxName(text)
	rest = strings.TrimSpace(rest)
	identifier, rest := parseMailboxName(rest)
	fields := strings.Fields(rest)
	data := &imap.ACLListRightsData{Mailbox: mailbox, Identifier: identifier}
	if len(fields) > 0 {
		data.Required = imap.ACLRights(trimQuotes(fields[0]))
	}
	for _, f := range fields[1:] {
		data.Optional = append(data.Optional, imap.ACLRights(trimQuotes(f)))
	}
	return data, nil
}

// GetQuota requests the usage and limits for a quota root (RFC 9208 §6.2).
func (c *Client) GetQuota(root string) (*imap.QuotaData, error) {
	c.collectUntagged()
	if err := c.executeCheck("GETQUOTA", quoteArg(root)); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "QUOTA "); ok {
			return parseQuotaResponse(rest)
		}
	}
	return &imap.QuotaData{Root: root}, nil
}

func parseQuotaResponse(text string) (*imap.QuotaData, error) {
	root, rest := parseMailboxName(text)
	data := &imap.QuotaData{Root: root}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return data, nil
	}
	end := strings.LastIndexByte(rest, ')')
	if end < 0 {
		return data, nil
	}
	fields := strings.Fields(rest[1:end])
	for i := 0; i+3 <= len(fields); i += 3 {
		usage, _ := strconv.ParseInt(fields[i+1], 10, 64)
		limit, _ := strconv.ParseInt(fields[i+2], 10, 64)
		data.Resources = append(data.Resources, imap.QuotaResourceData{
			Name:  imap.QuotaResource(strings.ToUpper(fields[i])),
			Usage: usage,
			Limit: limit,
		})
	}
	return data, nil
}

// GetQuotaRoot requests the quota roots that apply to mailbox, along with
// each root's usage (RFC 9208 §6.1).
func (c *Client) GetQuotaRoot(mailbox string) (*imap.QuotaRootData, []imap.QuotaData, error) {
	c.collectUntagged()
	if err := c.executeCheck("GETQUOTAROOT", quoteArg(mailbox)); err != nil {
		return nil, nil, err
	}
	var rootData *imap.QuotaRootData
	var quotas []imap.QuotaData
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "QUOTAROOT "); ok {
			box, roots := parseMailboxName(rest)
			rootData = &imap.QuotaRootData{Mailbox: box, Roots: strings.Fields(roots)}
			continue
		}
		if rest, ok := cutPrefixFold(line, "QUOTA "); ok {
			if q, err := parseQuotaResponse(rest); err == nil {
				quotas = append(quotas, *q)
			}
		}
	}
	if rootData == nil {
		rootData = &imap.QuotaRootData{Mailbox: mailbox}
	}
	return rootData, quotas, nil
}

// SetQuota sets resource limits on a quota root (RFC 9208 §6.3).
func (c *Client) SetQuota(root string, resources []imap.QuotaResourceData) error {
	parts := make([]string, 0, len(resources)*2)
	for _, r := range resources {
		parts = append(parts, string(r.Name), strconv.FormatInt(r.Limit, 10))
	}
	return c.executeCheck("SETQUOTA", quoteArg(root), "("+strings.Join(parts, " ")+")")
}

// GetMetadata requests server or mailbox annotations (RFC 5464 §4.2). An
// empty mailbox requests server-level entries.
func (c *Client) GetMetadata(mailbox string, entries []string, opts *imap.MetadataOptions) (*imap.MetadataData, error) {
	c.collectUntagged()

	var optArgs []string
	if opts != nil {
		if opts.MaxSize != nil {
			optArgs = append(optArgs, "MAXSIZE "+strconv.FormatInt(*opts.MaxSize, 10))
		}
		if opts.Depth != "" {
			optArgs = append(optArgs, "DEPTH "+string(opts.Depth))
		}
	}
	entryArgs := make([]string, len(entries))
	for i, e := range entries {
		entryArgs[i] = quoteArg(e)
	}
	args := []string{quoteArg(mailbox)}
	if len(optArgs) > 0 {
		args = append(args, "("+strings.Join(optArgs, " ")+")")
	}
	args = append(args, "("+strings.Join(entryArgs, " ")+")")

	if err := c.executeCheck("GETMETADATA", args...); err != nil {
		return nil, err
	}
	for _, line := range c.collectUntagged() {
		if rest, ok := cutPrefixFold(line, "METADATA "); ok {
			return parseMetadataResponse(rest)
		}
	}
	return &imap.MetadataData{Mailbox: mailbox, Entries: map[string]*string{}}, nil
}

func parseMetadataResponse(text string) (*imap.MetadataData, error) {
	mailbox, rest := parseMailboxName(text)
	data := &imap.MetadataData{Mailbox: mailbox, Entries: map[string]*string{}}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return data, nil
	}
	sc := &attrScanner{s: rest}
	val, err := sc.readValue()
	if err != nil {
		return nil, fmt.Errorf("imap: parsing METADATA: %w", err)
	}
	list, ok := val.([]interface{})
	if !ok {
		return data, nil
	}
	for i := 0; i+1 < len(list); i += 2 {
		name, _ := list[i].(string)
		if s, ok := list[i+1].(string); ok {
			v := s
			data.Entries[name] = &v
		} else {
			data.Entries[name] = nil
		}
	}
	return data, nil
}

// SetMetadata sets or removes server or mailbox annotations (RFC 5464
// §4.3). A nil Value in an entry removes it.
func (c *Client) SetMetadata(mailbox string, entries []imap.MetadataEntry) error {
	parts := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		parts = append(parts, quoteArg(e.Name))
		if e.Value == nil {
			parts = append(parts, "NIL")
		} else {
			parts = append(parts, quoteArg(*e.Value))
		}
	}
	return c.executeCheck("SETMETADATA", quoteArg(mailbox), "("+strings.Join(parts, " ")+")")
}

// splitQuotedFields splits s on whitespace, honoring double-quoted spans.
func splitQuotedFields(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, trimQuotes(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
