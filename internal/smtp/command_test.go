package smtp

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want Command
	}{
		{"QUIT", Quit{}},
		{"quit", Quit{}},
		{"Quit", Quit{}},
		{"DATA", Data{}},
		{"rset", Rset{}},
		{"NoOp", Noop{}},
		{"EHLO client.example", Ehlo{Domain: "client.example"}},
		{"ehlo client.example", Ehlo{Domain: "client.example"}},
		{"HELO [192.0.2.1]", Helo{Domain: "[192.0.2.1]"}},
		{"MAIL FROM:<user@example.com>", MailFrom{Address: "user@example.com"}},
		{"MAIL From:<>", MailFrom{}},
		{"mail from:<a@b> SIZE=100 BODY=8BITMIME", MailFrom{Address: "a@b", Params: "SIZE=100 BODY=8BITMIME"}},
		{"RCPT TO:<user@example.com>", RcptTo{Address: "user@example.com"}},
		{"rcpt to:<user@example.com> NOTIFY=NEVER", RcptTo{Address: "user@example.com", Params: "NOTIFY=NEVER"}},
		{"VRFY postmaster", Unknown{Line: "VRFY postmaster"}},
		{"EHLO", Unknown{Line: "EHLO"}},
		{"QUIT now", Unknown{Line: "QUIT now"}},
		{"", Unknown{Line: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCommand(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"MAIL FROM:user@example.com", `expected <: "user@example.com"`},
		{"MAIL FROM:<user@example.com", `expected >: "<user@example.com"`},
		{"RCPT TO: <user@example.com>", `expected <: " <user@example.com>"`},
		{"rcpt to:<>", "Null sender not permitted as a recipient"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			cmd, err := ParseCommand(tt.line)
			if err == nil {
				t.Fatalf("got %#v, want error", cmd)
			}
			if err.Error() != tt.want {
				t.Errorf("error: got %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseCommand_NullRecipientSentinel(t *testing.T) {
	t.Parallel()

	if _, err := ParseCommand("RCPT TO:<> NOTIFY=NEVER"); !errors.Is(err, ErrNullRecipient) {
		t.Errorf("got %v, want ErrNullRecipient", err)
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  Command
		want string
	}{
		{Ehlo{}, "ehlo"},
		{MailFrom{}, "mail"},
		{RcptTo{}, "rcpt"},
		{Unknown{}, "unknown"},
		{nil, "invalid"},
	}
	for _, tt := range tests {
		if got := commandName(tt.cmd); got != tt.want {
			t.Errorf("commandName(%#v): got %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
