package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/inbound-mta/internal/address"
	"github.com/shineum/inbound-mta/internal/message"
)

func newMessage(t *testing.T, from, to, body string) *message.Message {
	t.Helper()
	sender, err := address.Parse(from)
	if err != nil {
		t.Fatalf("parse sender: %v", err)
	}
	rcpt, err := address.Parse(to)
	if err != nil {
		t.Fatalf("parse recipient: %v", err)
	}
	return message.New(sender, rcpt, nil, []byte(body))
}

func TestDeliver_BasicMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	msg := newMessage(t, "sender@example.com", "alice@example.com", "Subject: Monthly Report\r\n\r\nSee attached.\r\n")

	if err := p.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"Id: " + msg.ID(),
		"Mail-From: sender@example.com",
		"Rcpt-To: alice@example.com",
		"Size: 42 B",
		"See attached.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if !strings.HasPrefix(output, "========================================\n") {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, "\r\n========================================\n") {
		t.Error("output should end with the body followed by a separator line")
	}
}

func TestDeliver_MessageSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	body := strings.Join([]string{
		"From: Alice <alice@example.com>",
		"To: bob@example.com, carol@example.com",
		"Subject: Quarterly numbers",
		"Message-Id: <q1@example.com>",
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--b",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=\"q1.pdf\"",
		"",
		"pdf",
		"--b--",
		"",
	}, "\r\n")
	msg := newMessage(t, "alice@example.com", "bob@example.com", body)

	if err := p.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"From: Alice <alice@example.com>\n",
		"To: bob@example.com, carol@example.com\n",
		"Subject: Quarterly numbers\n",
		"Message-Id: <q1@example.com>\n",
		"Content-Type: multipart/mixed (2 parts)\n",
		"Attachments: q1.pdf\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDeliver_NullSender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	msg := newMessage(t, "", "postmaster@example.com", "bounce")

	if err := p.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Mail-From: <>\n") {
		t.Errorf("null sender should print as <>, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Content-Type:") {
		t.Error("unparsable body should not produce a summary")
	}
	if !strings.Contains(buf.String(), "bounce\n====") {
		t.Error("body without trailing newline should be terminated before the separator")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestDeliver_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	msg := newMessage(t, "a@b.example", "c@d.example", "x")
	if err := p.Deliver(context.Background(), msg); err == nil {
		t.Error("expected write error")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
