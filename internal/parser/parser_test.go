package parser

import (
	"strings"
	"testing"
)

func TestSummarizePlainText(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", s.From, "sender@example.com")
	}
	if len(s.To) != 1 || s.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", s.To)
	}
	if s.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", s.Subject, "Test Subject")
	}
	if s.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", s.MessageID, "<test123@example.com>")
	}
	if s.MediaType != "text/plain" {
		t.Errorf("MediaType: got %q, want %q", s.MediaType, "text/plain")
	}
	if s.Parts != 1 {
		t.Errorf("Parts: got %d, want 1", s.Parts)
	}
	if len(s.Attachments) != 0 {
		t.Errorf("Attachments: got %v, want none", s.Attachments)
	}
}

func TestSummarizeEncodedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: =?UTF-8?B?SGVsbG8gV29ybGQ=?=\r\n\r\nbody\r\n")

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Subject != "Hello World" {
		t.Errorf("Subject: got %q, want %q", s.Subject, "Hello World")
	}
}

func TestSummarizeMultipleRecipients(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: Alice <alice@example.com>, bob@example.com",
		"",
		"body",
	}, "\r\n"))

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alice@example.com", "bob@example.com"}
	if strings.Join(s.To, ",") != strings.Join(want, ",") {
		t.Errorf("To: got %v, want %v", s.To, want)
	}
}

func TestSummarizeUnparsableAddressList(t *testing.T) {
	t.Parallel()

	raw := []byte("To: not an address, other\r\n\r\nbody\r\n")

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"not an address", "other"}
	if strings.Join(s.To, "|") != strings.Join(want, "|") {
		t.Errorf("To: got %q, want %q", s.To, want)
	}
}

func TestSummarizeNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"",
		"pdf",
		"--outer--",
	}, "\r\n"))

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.MediaType != "multipart/mixed" {
		t.Errorf("MediaType: got %q, want %q", s.MediaType, "multipart/mixed")
	}
	if s.Parts != 4 {
		t.Errorf("Parts: got %d, want 4", s.Parts)
	}
	want := []string{"data.bin", "attachment.pdf"}
	if strings.Join(s.Attachments, ",") != strings.Join(want, ",") {
		t.Errorf("Attachments: got %v, want %v", s.Attachments, want)
	}
}

func TestSummarizeNamedPartWithoutDisposition(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain; name=\"notes.txt\"",
		"",
		"inline text",
		"--b",
		"Content-Type: image/png; name=\"logo.png\"",
		"",
		"png",
		"--b--",
	}, "\r\n"))

	s, err := Summarize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Attachments) != 1 || s.Attachments[0] != "logo.png" {
		t.Errorf("Attachments: got %v, want [logo.png]", s.Attachments)
	}
}

func TestSummarizeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "no header terminator", raw: "not a header line", wantErr: true},
		{name: "multipart without boundary", raw: "Content-Type: multipart/mixed\r\n\r\nbody", wantErr: true},
		{name: "bad content type", raw: "Content-Type: ;;;\r\n\r\nbody", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Summarize([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
