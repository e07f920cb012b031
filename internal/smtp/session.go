package smtp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shineum/inbound-mta/internal/address"
	"github.com/shineum/inbound-mta/internal/message"
	"github.com/shineum/inbound-mta/internal/policy"
)

// Session states for the SMTP state machine.
const (
	stateAwaitingGreeting = iota
	stateReady
	stateInTransaction
	stateInData
)

var stateNames = [...]string{"awaiting-greeting", "ready", "in-transaction", "in-data"}

// Spool is the durable store accepted messages are written to before queueing.
type Spool interface {
	// Started reports whether startup recovery has finished.
	Started() bool

	// Store returns the named store ("meta" or "data").
	Store(name string) (message.Store, error)

	// Remove deletes a message's metadata and body.
	Remove(ctx context.Context, id string) error
}

// Queue schedules persisted messages for delivery.
type Queue interface {
	Insert(ctx context.Context, name string, msg *message.Message) error
}

// SessionConfig holds the collaborators shared by every session.
type SessionConfig struct {
	// Hostname is announced in the greeting and EHLO responses.
	Hostname string

	// Banner is the text following the hostname in the greeting.
	Banner string

	Spool  Spool
	Queue  Queue
	Policy *policy.Gateway
}

// transaction is the state of one open mail transaction.
type transaction struct {
	sender     address.Address
	recipients []address.Address
	meta       map[string]any
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine. It is driven by a single goroutine.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	log    *slog.Logger
	config SessionConfig

	state    int
	hello    string
	txn      *transaction
	lastCode int
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg SessionConfig, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		log:    log,
		config: cfg,
		state:  stateAwaitingGreeting,
	}
}

// Handle runs the SMTP session until QUIT, client disconnect, shutdown or a
// fatal error. On shutdown or a fatal error the client gets a best-effort 421.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	// Cancellation interrupts a pending read.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	err := s.process(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded):
		s.log.Info("session interrupted by shutdown", "state", stateNames[s.state])
		if werr := s.writeResponse(421, "Service shutting down"); werr != nil {
			s.log.Debug("failed to send 421", "error", werr)
		}
	case errors.Is(err, io.EOF):
		s.log.Debug("client disconnected", "state", stateNames[s.state])
	default:
		s.log.Error("session failed", "state", stateNames[s.state], "error", err)
		if werr := s.writeResponse(421, "technical difficulties"); werr != nil {
			s.log.Debug("failed to send 421", "error", werr)
		}
	}
}

func (s *Session) process(ctx context.Context) error {
	if !s.config.Spool.Started() {
		s.log.Info("refusing session, spool is still starting")
		return s.writeResponse(421, s.config.Hostname+" service not available, try again later")
	}

	greeting := fmt.Sprintf("%s ESMTP %s\nready for mail", s.config.Hostname, s.config.Banner)
	if err := s.writeResponse(220, greeting); err != nil {
		return err
	}
	s.state = stateReady

	for {
		select {
		case <-ctx.Done():
			return s.writeResponse(421, "Service shutting down")
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRightFunc(line, unicode.IsSpace)

		start := time.Now()
		cmd, err := ParseCommand(line)
		var done bool
		if err != nil {
			err = s.writeResponse(501, "Syntax error in command or arguments: "+err.Error())
		} else {
			done, err = s.handleCommand(ctx, cmd)
		}
		metricCommands.WithLabelValues(commandName(cmd), strconv.Itoa(s.lastCode)).Observe(time.Since(start).Seconds())
		if err != nil || done {
			return err
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd Command) (bool, error) {
	switch c := cmd.(type) {
	case Quit:
		return true, s.writeResponse(221, "Bye")
	case Ehlo:
		return false, s.handleHello(ctx, c.Domain, true)
	case Helo:
		return false, s.handleHello(ctx, c.Domain, false)
	case MailFrom:
		return false, s.handleMail(ctx, c)
	case RcptTo:
		return false, s.handleRcpt(ctx, c)
	case Data:
		return false, s.handleData(ctx)
	case Rset:
		s.resetTransaction()
		return false, s.writeResponse(250, "Reset state")
	case Noop:
		return false, s.writeResponse(250, "OK")
	case Unknown:
		return false, s.writeResponse(502, "Command unrecognized/unimplemented: "+c.Line)
	}
	return false, fmt.Errorf("unhandled command %T", cmd)
}

// handleHello processes EHLO/HELO. The hello domain is only recorded once the
// policy accepts it.
func (s *Session) handleHello(ctx context.Context, domain string, extended bool) error {
	rej, err := s.config.Policy.Invoke(ctx, policy.HookEhlo, domain)
	if err != nil {
		return err
	}
	if rej != nil {
		return s.reject(policy.HookEhlo, rej)
	}

	resp := fmt.Sprintf("%s Hello %s", s.config.Hostname, domain)
	if extended {
		resp += "\nPIPELINING\n8BITMIME"
	}
	if err := s.writeResponse(250, resp); err != nil {
		return err
	}
	s.hello = domain
	return nil
}

// handleMail processes the MAIL FROM command.
func (s *Session) handleMail(ctx context.Context, c MailFrom) error {
	if s.txn != nil {
		return s.writeResponse(503, "MAIL FROM already issued; you must RSET first")
	}

	sender, err := address.Parse(c.Address)
	if err != nil {
		return s.writeResponse(501, "Syntax error in sender address: "+err.Error())
	}
	if c.Params != "" {
		s.log.Debug("ignoring MAIL FROM parameters", "params", c.Params)
	}

	rej, err := s.config.Policy.Invoke(ctx, policy.HookMailFrom, sender)
	if err != nil {
		return err
	}
	if rej != nil {
		return s.reject(policy.HookMailFrom, rej)
	}

	s.txn = &transaction{sender: sender, meta: map[string]any{}}
	s.state = stateInTransaction
	return s.writeResponse(250, fmt.Sprintf("OK <%s>", sender))
}

// handleRcpt processes the RCPT TO command.
func (s *Session) handleRcpt(ctx context.Context, c RcptTo) error {
	if s.txn == nil {
		return s.writeResponse(503, "MAIL FROM must be issued first")
	}

	rcpt, err := address.Parse(c.Address)
	if err != nil {
		return s.writeResponse(501, "Syntax error in recipient address: "+err.Error())
	}
	if c.Params != "" {
		s.log.Debug("ignoring RCPT TO parameters", "params", c.Params)
	}

	rej, err := s.config.Policy.Invoke(ctx, policy.HookRcptTo, rcpt)
	if err != nil {
		return err
	}
	if rej != nil {
		return s.reject(policy.HookRcptTo, rej)
	}

	s.txn.recipients = append(s.txn.recipients, rcpt)
	return s.writeResponse(250, fmt.Sprintf("OK <%s>", rcpt))
}

// handleData reads the message body, closes the transaction and fans the
// message out to each recipient.
func (s *Session) handleData(ctx context.Context) error {
	if s.txn == nil {
		return s.writeResponse(503, "MAIL FROM must be issued first")
	}
	if len(s.txn.recipients) == 0 {
		return s.writeResponse(503, "RCPT TO must be issued first")
	}

	if err := s.writeResponse(354, "Send body; end with CRLF.CRLF"); err != nil {
		return err
	}
	s.state = stateInData

	body, err := s.readBody()
	if err != nil {
		return err
	}

	// The transaction is closed whatever the outcome of the fan-out.
	txn := s.txn
	s.resetTransaction()

	ids, err := s.fanOut(ctx, txn, body)
	if err != nil {
		return err
	}
	s.log.Info("transaction accepted",
		"hello", s.hello,
		"sender", txn.sender.String(),
		"recipients", len(txn.recipients),
		"accepted", len(ids),
		"size", len(body),
	)
	return s.writeResponse(250, "OK ids="+strings.Join(ids, " "))
}

// readBody reads lines up to the terminating "." line, undoing dot-stuffing.
// Line endings are kept as sent.
func (s *Session) readBody() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == ".\r\n" || line == ".\n" {
			return buf.Bytes(), nil
		}
		buf.WriteString(strings.TrimPrefix(line, "."))
	}
}

// resetTransaction discards the open transaction, if any.
func (s *Session) resetTransaction() {
	s.txn = nil
	s.state = stateReady
}

// reject sends a policy rejection to the client.
func (s *Session) reject(hook string, rej *policy.Rejection) error {
	metricRejections.WithLabelValues(hook).Inc()
	s.log.Info("policy rejected command", "hook", hook, "code", rej.Code, "reason", rej.Message)
	return s.writeResponse(rej.Code, rej.Message)
}

func (s *Session) writeResponse(code int, message string) error {
	s.lastCode = code
	return writeResponse(s.writer, code, message)
}
