package policy

import (
	"context"
	"log/slog"
)

// Hook names invoked by the SMTP server.
const (
	HookEhlo            = "smtp_server_ehlo"
	HookMailFrom        = "smtp_server_mail_from"
	HookRcptTo          = "smtp_server_mail_rcpt_to"
	HookMessageReceived = "smtp_server_message_received"
)

// Hooks lists every hook name the server invokes.
var Hooks = []string{HookEhlo, HookMailFrom, HookRcptTo, HookMessageReceived}

// Engine runs named policy hooks.
type Engine interface {
	// HasHook reports whether the administrator defined the named hook.
	HasHook(name string) bool

	// Invoke runs the named hook with arg. A non-nil error may wrap a Rejection.
	Invoke(ctx context.Context, name string, arg any) error
}

// Gateway turns hook results into either a Rejection or a fatal error.
type Gateway struct {
	engine Engine
}

// NewGateway returns a Gateway over engine. A nil engine defines no hooks.
func NewGateway(engine Engine) *Gateway {
	return &Gateway{engine: engine}
}

// Invoke runs hook with arg. It returns (nil, nil) to proceed, a Rejection to
// refuse, or an error for any failure that is not a Rejection. Undefined hooks
// proceed.
func (g *Gateway) Invoke(ctx context.Context, hook string, arg any) (*Rejection, error) {
	if g == nil || g.engine == nil || !g.engine.HasHook(hook) {
		return nil, nil
	}

	err := g.engine.Invoke(ctx, hook, arg)
	if err == nil {
		return nil, nil
	}
	if r, ok := ExtractRejection(err); ok {
		slog.Debug("policy hook rejected", "hook", hook, "code", r.Code)
		return r, nil
	}
	return nil, err
}
