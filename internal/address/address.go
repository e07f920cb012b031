// Package address implements the envelope address used in MAIL FROM and RCPT TO.
package address

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Parse errors.
var (
	ErrMissingAt     = errors.New("address must contain @")
	ErrEmptyLocal    = errors.New("empty local part")
	ErrEmptyDomain   = errors.New("empty domain")
	ErrInvalidLetter = errors.New("address contains whitespace or angle brackets")
)

// Address is an envelope address. The zero value is the null sender.
type Address struct {
	local  string
	domain string
}

// NullSender returns the distinguished empty sender used for bounces.
func NullSender() Address {
	return Address{}
}

// Parse parses the text found between the angle brackets of a MAIL FROM or
// RCPT TO command. Empty text yields the null sender; the caller decides
// whether that is allowed. The domain is normalized to lowercase ASCII.
func Parse(text string) (Address, error) {
	if text == "" {
		return NullSender(), nil
	}
	if strings.ContainsAny(text, " \t<>") {
		return Address{}, fmt.Errorf("parse %q: %w", text, ErrInvalidLetter)
	}

	at := strings.LastIndexByte(text, '@')
	if at < 0 {
		return Address{}, fmt.Errorf("parse %q: %w", text, ErrMissingAt)
	}
	local, domain := text[:at], text[at+1:]
	if local == "" {
		return Address{}, fmt.Errorf("parse %q: %w", text, ErrEmptyLocal)
	}
	if domain == "" {
		return Address{}, fmt.Errorf("parse %q: %w", text, ErrEmptyDomain)
	}

	// Address literals such as [192.0.2.1] are kept verbatim.
	if !strings.HasPrefix(domain, "[") {
		ascii, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return Address{}, fmt.Errorf("parse %q: invalid domain: %w", text, err)
		}
		domain = ascii
	}

	return Address{local: local, domain: domain}, nil
}

// IsNull reports whether a is the null sender.
func (a Address) IsNull() bool {
	return a.local == "" && a.domain == ""
}

// LocalPart returns the part before the @.
func (a Address) LocalPart() string {
	return a.local
}

// Domain returns the normalized domain part.
func (a Address) Domain() string {
	return a.domain
}

// String returns the address without angle brackets, or "" for the null sender.
func (a Address) String() string {
	if a.IsNull() {
		return ""
	}
	return a.local + "@" + a.domain
}
