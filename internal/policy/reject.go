// Package policy connects the SMTP state machine to administrator-supplied
// policy hooks. Hooks refuse a command by returning (or panicking with) a
// Rejection; the Gateway recovers it no matter how deeply it was wrapped.
package policy

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// Rejection is an intentional refusal carrying the SMTP reply to send.
type Rejection struct {
	Code    int
	Message string
}

// Reject returns a Rejection as an error. Policy scripts call it as hooks.Reject.
func Reject(code int, message string) error {
	return &Rejection{Code: code, Message: message}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// ExtractRejection walks err's causes looking for a Rejection. Besides the
// standard Unwrap forms it looks inside panics recovered from the script
// interpreter, whose cause is the panic value rather than an error chain.
func ExtractRejection(err error) (*Rejection, bool) {
	switch e := err.(type) {
	case nil:
		return nil, false
	case *Rejection:
		return e, true
	case interp.Panic:
		return extractPanicValue(e.Value)
	case *interp.Panic:
		if e == nil {
			return nil, false
		}
		return extractPanicValue(e.Value)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if r, ok := ExtractRejection(inner); ok {
				return r, true
			}
		}
		return nil, false
	case interface{ Unwrap() error }:
		return ExtractRejection(e.Unwrap())
	}
	return nil, false
}

// extractPanicValue unwraps a recovered panic value. The interpreter hands
// script panics to the host as a reflect.Value.
func extractPanicValue(v any) (*Rejection, bool) {
	if rv, ok := v.(reflect.Value); ok {
		if !rv.IsValid() || !rv.CanInterface() {
			return nil, false
		}
		v = rv.Interface()
	}
	err, ok := v.(error)
	if !ok {
		return nil, false
	}
	return ExtractRejection(err)
}
