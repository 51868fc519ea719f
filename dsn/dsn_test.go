package dsn

import (
	"strings"
	"testing"
)

const sampleReport = `Reporting-MTA: dns;mail.example.com
Received-From-MTA: dns;relay.example.org
Arrival-Date: Mon, 29 Jul 2026 10:00:00 +0000

Original-Recipient: rfc822;alice@example.net
Final-Recipient: rfc822;alice@example.net
Action: failed
Status: 5.1.1
Remote-MTA: dns;mx.example.net
Diagnostic-Code: smtp;550 5.1.1 User unknown
Last-Attempt-Date: Mon, 29 Jul 2026 10:00:05 +0000

Final-Recipient: rfc822;bob@example.net
Action: delayed
Status: 4.4.1
Remote-MTA: dns;mx2.example.net
`

func TestParse(t *testing.T) {
	report, err := Parse(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if report.ReportingMTA != "mail.example.com" {
		t.Errorf("ReportingMTA = %q", report.ReportingMTA)
	}
	if report.ReceivedFromMTA != "relay.example.org" {
		t.Errorf("ReceivedFromMTA = %q", report.ReceivedFromMTA)
	}
	if report.ArrivalDate.IsZero() {
		t.Error("ArrivalDate not parsed")
	}

	if len(report.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(report.Recipients))
	}

	r0 := report.Recipients[0]
	if r0.OriginalRecipient != "alice@example.net" {
		t.Errorf("OriginalRecipient = %q", r0.OriginalRecipient)
	}
	if r0.Action != ActionFailed {
		t.Errorf("Action = %q", r0.Action)
	}
	if r0.Status != "5.1.1" {
		t.Errorf("Status = %q", r0.Status)
	}
	if r0.RemoteMTA != "mx.example.net" {
		t.Errorf("RemoteMTA = %q", r0.RemoteMTA)
	}
	if r0.DiagnosticCode != "smtp;550 5.1.1 User unknown" {
		t.Errorf("DiagnosticCode = %q", r0.DiagnosticCode)
	}
	if r0.LastAttemptDate.IsZero() {
		t.Error("LastAttemptDate not parsed")
	}

	r1 := report.Recipients[1]
	if r1.FinalRecipient != "bob@example.net" {
		t.Errorf("FinalRecipient = %q", r1.FinalRecipient)
	}
	if r1.Action != ActionDelayed {
		t.Errorf("Action = %q", r1.Action)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(strings.NewReader("")); err == nil {
		t.Error("expected an error for empty body")
	}
}

func TestParseFoldedHeader(t *testing.T) {
	body := "Reporting-MTA: dns;mail.example.com\n" +
		"X-Extra: first part\n" +
		" continued part\n\n" +
		"Final-Recipient: rfc822;carol@example.net\n" +
		"Action: delivered\n" +
		"Status: 2.0.0\n"

	report, err := Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := report.Extra["x-extra"]; got != "first part continued part" {
		t.Errorf("folded header = %q", got)
	}
	if report.Recipients[0].Action != ActionDelivered {
		t.Errorf("Action = %q", report.Recipients[0].Action)
	}
}
