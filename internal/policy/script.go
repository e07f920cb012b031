package policy

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/shineum/inbound-mta/internal/address"
	"github.com/shineum/inbound-mta/internal/message"
)

// scriptPackage is the package name policy scripts must declare.
const scriptPackage = "policy"

// Symbols is the host package scripts import as "inbound/hooks".
var Symbols = interp.Exports{
	"inbound/hooks/hooks": {
		"Reject":    reflect.ValueOf(Reject),
		"Rejection": reflect.ValueOf((*Rejection)(nil)),
		"Address":   reflect.ValueOf((*address.Address)(nil)),
		"Message":   reflect.ValueOf((*message.Message)(nil)),
		"QueueKey":  reflect.ValueOf(message.QueueKey),
		"NullQueue": reflect.ValueOf(message.NullQueue),
	},
}

// HookError wraps an error returned or raised by a script hook.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("policy hook %s: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// ScriptEngine runs hooks defined in a Go source file interpreted with yaegi.
// A hook named smtp_server_mail_from is the exported function
// SmtpServerMailFrom. Expected signatures:
//
//	func SmtpServerEhlo(domain string) error
//	func SmtpServerMailFrom(sender hooks.Address) error
//	func SmtpServerMailRcptTo(recipient hooks.Address) error
//	func SmtpServerMessageReceived(msg *hooks.Message) error
type ScriptEngine struct {
	// The interpreter is shared by every connection.
	mu    sync.Mutex
	hooks map[string]any
}

// LoadScript reads and evaluates the policy script at path.
func LoadScript(path string) (*ScriptEngine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy script: %w", err)
	}
	return NewScriptEngine(string(src))
}

// NewScriptEngine evaluates src and resolves the hooks it defines.
func NewScriptEngine(src string) (*ScriptEngine, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load standard library symbols: %w", err)
	}
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("failed to load hook symbols: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("failed to evaluate policy script: %w", err)
	}

	e := &ScriptEngine{hooks: make(map[string]any)}
	for _, name := range Hooks {
		v, err := i.Eval(scriptPackage + "." + hookSymbol(name))
		if err != nil {
			// Not defined.
			continue
		}
		fn := v.Interface()
		if !supportedHook(fn) {
			return nil, fmt.Errorf("policy hook %s has unsupported signature %T", name, fn)
		}
		e.hooks[name] = fn
	}
	return e, nil
}

// HasHook reports whether the script defines the named hook.
func (e *ScriptEngine) HasHook(name string) bool {
	_, ok := e.hooks[name]
	return ok
}

// Defined returns the names of the hooks the script defines.
func (e *ScriptEngine) Defined() []string {
	var names []string
	for _, name := range Hooks {
		if e.HasHook(name) {
			names = append(names, name)
		}
	}
	return names
}

// Invoke calls the named hook. Panics in the script are recovered and returned
// as an interp.Panic wrapped in a HookError.
func (e *ScriptEngine) Invoke(ctx context.Context, name string, arg any) (err error) {
	fn, ok := e.hooks[name]
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: name, Err: interp.Panic{Value: r, Stack: debug.Stack()}}
		}
	}()

	if err := call(fn, arg); err != nil {
		return &HookError{Hook: name, Err: err}
	}
	return nil
}

func call(fn, arg any) error {
	switch f := fn.(type) {
	case func(string) error:
		domain, ok := arg.(string)
		if !ok {
			return fmt.Errorf("expected domain string, got %T", arg)
		}
		return f(domain)
	case func(address.Address) error:
		addr, ok := arg.(address.Address)
		if !ok {
			return fmt.Errorf("expected address, got %T", arg)
		}
		return f(addr)
	case func(*message.Message) error:
		msg, ok := arg.(*message.Message)
		if !ok {
			return fmt.Errorf("expected message, got %T", arg)
		}
		return f(msg)
	}
	return fmt.Errorf("unsupported hook signature %T", fn)
}

func supportedHook(fn any) bool {
	switch fn.(type) {
	case func(string) error, func(address.Address) error, func(*message.Message) error:
		return true
	}
	return false
}

// hookSymbol converts smtp_server_ehlo into SmtpServerEhlo.
func hookSymbol(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
