// Package stdout implements a Provider that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shineum/inbound-mta/internal/message"
	"github.com/shineum/inbound-mta/internal/parser"
)

// Provider prints messages to stdout in a human-readable format.
type Provider struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Deliver prints the envelope and body of msg.
func (p *Provider) Deliver(_ context.Context, msg *message.Message) error {
	var b strings.Builder

	sender := msg.Sender().String()
	if sender == "" {
		sender = "<>"
	}

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Id: %s\n", msg.ID())
	fmt.Fprintf(&b, "Mail-From: %s\n", sender)
	fmt.Fprintf(&b, "Rcpt-To: %s\n", msg.Recipient())
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg.Body())))
	writeSummary(&b, msg)
	b.WriteString("Body:\n")
	b.Write(msg.Body())
	if body := msg.Body(); len(body) > 0 && body[len(body)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message %s: %w", msg.ID(), err)
	}
	return nil
}

// writeSummary adds the header fields and MIME structure when the body parses
// as a message.
func writeSummary(b *strings.Builder, msg *message.Message) {
	sum, err := parser.Summarize(msg.Body())
	if err != nil {
		slog.Debug("body is not a parsable message", "id", msg.ID(), "error", err)
		return
	}
	if sum.From != "" {
		fmt.Fprintf(b, "From: %s\n", sum.From)
	}
	if len(sum.To) > 0 {
		fmt.Fprintf(b, "To: %s\n", strings.Join(sum.To, ", "))
	}
	if sum.Subject != "" {
		fmt.Fprintf(b, "Subject: %s\n", sum.Subject)
	}
	if sum.MessageID != "" {
		fmt.Fprintf(b, "Message-Id: %s\n", sum.MessageID)
	}
	fmt.Fprintf(b, "Content-Type: %s (%d parts)\n", sum.MediaType, sum.Parts)
	if len(sum.Attachments) > 0 {
		fmt.Fprintf(b, "Attachments: %s\n", strings.Join(sum.Attachments, ", "))
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
