// Package parser summarizes RFC 5322 messages: the headers worth showing an
// operator plus the MIME structure. The body is never rewritten.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
)

// maxDepth bounds multipart nesting.
const maxDepth = 8

// Summary describes a message without decoding its content.
type Summary struct {
	From      string
	To        []string
	Subject   string
	MessageID string

	// MediaType is the top-level media type, "text/plain" if absent.
	MediaType string

	// Parts counts the leaf MIME parts; 1 for a single-part message.
	Parts int

	// Attachments holds attachment filenames in message order.
	Attachments []string
}

// Summarize parses the header section of raw and walks its MIME tree.
// Malformed nested parts are logged and skipped rather than failing the
// whole summary.
func Summarize(raw []byte) (*Summary, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	s := &Summary{
		From:      msg.Header.Get("From"),
		To:        parseAddressList(msg.Header.Get("To")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: msg.Header.Get("Message-Id"),
		MediaType: "text/plain",
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		s.Parts = 1
		return s, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Debug("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		s.Parts = 1
		return s, nil
	}
	s.MediaType = mediaType

	if !strings.HasPrefix(mediaType, "multipart/") {
		s.Parts = 1
		return s, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart message missing boundary")
	}
	if err := walkMultipart(msg.Body, boundary, s, 0); err != nil {
		return nil, fmt.Errorf("failed to parse multipart message: %w", err)
	}
	return s, nil
}

// walkMultipart counts the leaf parts under a multipart body and records
// attachment filenames.
func walkMultipart(body io.Reader, boundary string, s *Summary, depth int) error {
	if depth >= maxDepth {
		return fmt.Errorf("multipart nesting deeper than %d", maxDepth)
	}
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Debug("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Debug("nested multipart missing boundary, skipping")
				continue
			}
			if err := walkMultipart(part, nestedBoundary, s, depth+1); err != nil {
				slog.Debug("failed to parse nested multipart", "error", err)
			}
			continue
		}

		s.Parts++
		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(strings.ToLower(disposition), "attachment") || isNamedPart(part, params, mediaType) {
			s.Attachments = append(s.Attachments, filename(part, params, mediaType))
		}
	}
}

// isNamedPart reports whether a non-text part carries a filename even
// without an attachment disposition.
func isNamedPart(part *multipart.Part, params map[string]string, mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return false
	}
	return part.FileName() != "" || params["name"] != ""
}

// filename returns the part's filename from Content-Disposition or the
// Content-Type "name" parameter, falling back to one derived from the media type.
func filename(part *multipart.Part, params map[string]string, mediaType string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		return name
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return "attachment." + sub
	}
	return "attachment"
}

// decodeHeader decodes RFC 2047 encoded words, returning the input unchanged
// if it cannot be decoded.
func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
