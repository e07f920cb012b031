package smtp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNullRecipient is returned for RCPT TO:<>.
var ErrNullRecipient = errors.New("Null sender not permitted as a recipient")

// Command is one parsed SMTP command line.
type Command interface {
	command()
}

// Ehlo is EHLO <domain>.
type Ehlo struct{ Domain string }

// Helo is HELO <domain>.
type Helo struct{ Domain string }

// MailFrom is MAIL FROM:<address> [params]. An empty Address is the null sender.
type MailFrom struct {
	Address string
	Params  string
}

// RcptTo is RCPT TO:<address> [params]. Address is never empty.
type RcptTo struct {
	Address string
	Params  string
}

// Data is DATA.
type Data struct{}

// Rset is RSET.
type Rset struct{}

// Noop is NOOP.
type Noop struct{}

// Quit is QUIT.
type Quit struct{}

// Unknown is any line that is not one of the commands above.
type Unknown struct{ Line string }

func (Ehlo) command()     {}
func (Helo) command()     {}
func (MailFrom) command() {}
func (RcptTo) command()   {}
func (Data) command()     {}
func (Rset) command()     {}
func (Noop) command()     {}
func (Quit) command()     {}
func (Unknown) command()  {}

// ParseCommand parses a command line with its line terminator already removed.
// Verbs are matched case-insensitively. Unrecognized lines yield Unknown, not
// an error; errors are reserved for malformed MAIL FROM and RCPT TO arguments.
func ParseCommand(line string) (Command, error) {
	switch {
	case strings.EqualFold(line, "QUIT"):
		return Quit{}, nil
	case strings.EqualFold(line, "DATA"):
		return Data{}, nil
	case strings.EqualFold(line, "RSET"):
		return Rset{}, nil
	case strings.EqualFold(line, "NOOP"):
		return Noop{}, nil
	case hasPrefixFold(line, "EHLO "):
		return Ehlo{Domain: line[len("EHLO "):]}, nil
	case hasPrefixFold(line, "HELO "):
		return Helo{Domain: line[len("HELO "):]}, nil
	case hasPrefixFold(line, "MAIL FROM:"):
		addr, params, err := extractPath(line[len("MAIL FROM:"):])
		if err != nil {
			return nil, err
		}
		return MailFrom{Address: addr, Params: params}, nil
	case hasPrefixFold(line, "RCPT TO:"):
		addr, params, err := extractPath(line[len("RCPT TO:"):])
		if err != nil {
			return nil, err
		}
		if addr == "" {
			return nil, ErrNullRecipient
		}
		return RcptTo{Address: addr, Params: params}, nil
	}
	return Unknown{Line: line}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// extractPath splits "<address> params" into the text between the brackets
// and whatever follows the closing bracket.
func extractPath(arg string) (addr, params string, err error) {
	if !strings.HasPrefix(arg, "<") {
		return "", "", fmt.Errorf("expected <: %q", arg)
	}
	end := strings.IndexByte(arg, '>')
	if end < 0 {
		return "", "", fmt.Errorf("expected >: %q", arg)
	}
	return arg[1:end], strings.TrimSpace(arg[end+1:]), nil
}

// commandName labels cmd for metrics and logs.
func commandName(cmd Command) string {
	switch cmd.(type) {
	case Ehlo:
		return "ehlo"
	case Helo:
		return "helo"
	case MailFrom:
		return "mail"
	case RcptTo:
		return "rcpt"
	case Data:
		return "data"
	case Rset:
		return "rset"
	case Noop:
		return "noop"
	case Quit:
		return "quit"
	case Unknown:
		return "unknown"
	}
	return "invalid"
}
