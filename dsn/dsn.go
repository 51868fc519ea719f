// Package dsn parses RFC 3464 delivery-status-report bodies: a
// multipart/report; report-type=delivery-status entity carrying a
// message/delivery-status subpart, itself a sequence of blank-line
// delimited header blocks (RFC 3464 §2).
package dsn

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/outpostmail/mailkit/mime"
)

// Action is the delivery outcome for one recipient (RFC 3464 §2.3.3).
type Action string

const (
	ActionFailed    Action = "failed"
	ActionDelayed   Action = "delayed"
	ActionDelivered Action = "delivered"
	ActionRelayed   Action = "relayed"
	ActionExpanded  Action = "expanded"
)

// Report is a parsed delivery-status-report: the per-message fields plus
// one Recipient record per further block.
type Report struct {
	ReportingMTA      string
	ReceivedFromMTA   string
	OriginalEnvelopeID string
	ArrivalDate       time.Time
	MTAName           string
	// Extra holds any message-level header not otherwise named above,
	// keyed by lower-cased field name.
	Extra map[string]string

	Recipients []Recipient
}

// Recipient is one per-recipient block of a delivery-status report.
type Recipient struct {
	OriginalRecipient string
	FinalRecipient    string
	Action            Action
	// Status is the RFC 3463 enhanced status code, "d.d.d".
	Status          string
	RemoteMTA       string
	DiagnosticCode  string
	LastAttemptDate time.Time
	FinalLogID      string
	WillRetryUntil  time.Time
	Extra           map[string]string
}

// FromEntity locates the message/delivery-status subpart of a
// multipart/report entity and parses it. It returns an error if no such
// subpart is found.
func FromEntity(e mime.Entity) (*Report, error) {
	part, err := findDeliveryStatusPart(e)
	if err != nil {
		return nil, err
	}
	if part == nil {
		return nil, fmt.Errorf("dsn: no message/delivery-status part found")
	}
	return Parse(part.Body())
}

func findDeliveryStatusPart(e mime.Entity) (mime.Entity, error) {
	ct, _, err := e.ContentType()
	if err == nil && strings.EqualFold(ct, "message/delivery-status") {
		return e, nil
	}
	parts, err := e.Parts()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if found, err := findDeliveryStatusPart(p); err == nil && found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// Parse reads blank-line delimited header blocks from r: the first block
// is the per-message fields, each subsequent block a Recipient.
func Parse(r io.Reader) (*Report, error) {
	blocks, err := splitBlocks(r)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("dsn: empty delivery-status body")
	}

	report := &Report{Extra: map[string]string{}}
	msgFields := blocks[0]
	for k, v := range msgFields {
		switch k {
		case "reporting-mta":
			report.ReportingMTA = stripTypePrefix(v)
		case "received-from-mta":
			report.ReceivedFromMTA = stripTypePrefix(v)
		case "original-envelope-id":
			report.OriginalEnvelopeID = v
		case "arrival-date":
			report.ArrivalDate = parseDate(v)
		case "mta-name":
			report.MTAName = stripTypePrefix(v)
		default:
			report.Extra[k] = v
		}
	}

	for _, block := range blocks[1:] {
		rcpt := Recipient{Extra: map[string]string{}}
		for k, v := range block {
			switch k {
			case "original-recipient":
				rcpt.OriginalRecipient = stripTypePrefix(v)
			case "final-recipient":
				rcpt.FinalRecipient = stripTypePrefix(v)
			case "action":
				rcpt.Action = Action(strings.ToLower(strings.TrimSpace(v)))
			case "status":
				rcpt.Status = strings.TrimSpace(v)
			case "remote-mta":
				rcpt.RemoteMTA = stripTypePrefix(v)
			case "diagnostic-code":
				rcpt.DiagnosticCode = v
			case "last-attempt-date":
				rcpt.LastAttemptDate = parseDate(v)
			case "final-log-id":
				rcpt.FinalLogID = v
			case "will-retry-until":
				rcpt.WillRetryUntil = parseDate(v)
			default:
				rcpt.Extra[k] = v
			}
		}
		report.Recipients = append(report.Recipients, rcpt)
	}

	return report, nil
}

// splitBlocks reads r and groups its RFC 822-style header lines (with
// folded continuations) into blocks separated by blank lines. Keys are
// lower-cased; later lines with the same key overwrite earlier ones,
// matching DSN fields which are not repeated within a block.
func splitBlocks(r io.Reader) ([]map[string]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var blocks []map[string]string
	current := map[string]string{}
	lastKey := ""
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = map[string]string{}
		}
		lastKey = ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			flush()
			continue
		}
		if (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && lastKey != "" {
			current[lastKey] = current[lastKey] + " " + strings.TrimSpace(trimmed)
			continue
		}
		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(trimmed[:colon]))
		val := strings.TrimSpace(trimmed[colon+1:])
		current[key] = val
		lastKey = key
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dsn: reading delivery-status body: %w", err)
	}
	return blocks, nil
}

// stripTypePrefix removes a leading "type;" address-type qualifier, e.g.
// "rfc822;user@example.com" -> "user@example.com", "dns;mx.example.com"
// -> "mx.example.com".
func stripTypePrefix(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		return strings.TrimSpace(v[i+1:])
	}
	return v
}

func parseDate(v string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
