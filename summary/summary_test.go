package summary

import (
	"testing"
	"time"

	imap "github.com/outpostmail/mailkit"
)

func TestAssemblePreviewFromServer(t *testing.T) {
	buf := &imap.FetchMessageBuffer{
		SeqNum:  1,
		UID:     42,
		Preview: "Hi there",
	}
	s, err := Assemble(buf, Options{PreviewFallbackSection: "TEXT"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if s.PreviewText != "Hi there" {
		t.Errorf("PreviewText = %q, want server-provided preview", s.PreviewText)
	}
}

func TestAssemblePreviewFallback(t *testing.T) {
	buf := &imap.FetchMessageBuffer{
		SeqNum: 2,
		BodySection: map[string][]byte{
			"TEXT": []byte("Hello, this is the body text."),
		},
	}
	s, err := Assemble(buf, Options{PreviewFallbackSection: "TEXT", PreviewFallbackRunes: 5})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if s.PreviewText != "Hello" {
		t.Errorf("PreviewText = %q, want truncated fallback", s.PreviewText)
	}
}

func TestAssemblePreviewNIL(t *testing.T) {
	buf := &imap.FetchMessageBuffer{
		SeqNum:     3,
		PreviewNIL: true,
		BodySection: map[string][]byte{
			"TEXT": []byte("should not be used"),
		},
	}
	s, err := Assemble(buf, Options{PreviewFallbackSection: "TEXT"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if s.PreviewText != "" {
		t.Errorf("PreviewText = %q, want empty for server-returned NIL preview", s.PreviewText)
	}
}

func TestAssembleHeadersAndReferences(t *testing.T) {
	header := "Subject: Re: hello\r\n" +
		"References: <a@example.com> <b@example.com>\r\n" +
		"\r\n"
	buf := &imap.FetchMessageBuffer{
		SeqNum: 4,
		BodySection: map[string][]byte{
			"HEADER.FIELDS (SUBJECT REFERENCES)": []byte(header),
		},
	}
	s, err := Assemble(buf, Options{HeaderSection: "HEADER.FIELDS (SUBJECT REFERENCES)"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := s.Headers.Get("Subject"); got != "Re: hello" {
		t.Errorf("Subject header = %q", got)
	}
	if len(s.References) != 2 || s.References[0] != "<a@example.com>" || s.References[1] != "<b@example.com>" {
		t.Errorf("References = %v", s.References)
	}
}

func TestAssembleCopiesFetchAttrs(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	buf := &imap.FetchMessageBuffer{
		SeqNum:       5,
		UID:          7,
		ModSeq:       100,
		InternalDate: now,
		RFC822Size:   1234,
		EmailID:      "M1",
		ThreadID:     "T1",
	}
	s, err := Assemble(buf, Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if s.UID != 7 || s.ModSeq != 100 || s.Size != 1234 {
		t.Errorf("unexpected copied fields: %+v", s)
	}
	if !s.InternalDate.Equal(now) {
		t.Errorf("InternalDate = %v, want %v", s.InternalDate, now)
	}
	if s.EmailID != "M1" || s.ThreadID != "T1" {
		t.Errorf("EmailID/ThreadID = %q/%q", s.EmailID, s.ThreadID)
	}
}

func TestAssembleNilBuffer(t *testing.T) {
	if _, err := Assemble(nil, Options{}); err == nil {
		t.Error("expected an error for a nil buffer")
	}
}
