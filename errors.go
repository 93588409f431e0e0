package mediator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ErrDuplicateHandler is returned when a second handler is registered for a
// request, command or stream message that already has one.
var ErrDuplicateHandler = errors.New("mediator: handler already registered")

// Kind names the dispatch shape a message was sent with.
type Kind string

const (
	KindRequest Kind = "request"
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
	KindStream  Kind = "stream"
)

// NoHandlerFoundError is returned when a request, command or stream request
// has no registered handler.
type NoHandlerFoundError struct {
	Kind        Kind
	MessageType reflect.Type
}

func (e *NoHandlerFoundError) Error() string {
	return fmt.Sprintf("mediator: no handler found for %s %s", e.Kind, TypeName(e.MessageType))
}

// HandlerError wraps any error or panic raised while a handler or middleware
// chain was executing.
type HandlerError struct {
	MessageType reflect.Type
	Err         error
	Panic       any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("mediator: handler for %s panicked: %v", TypeName(e.MessageType), e.Panic)
	}
	return fmt.Sprintf("mediator: handler for %s failed: %v", TypeName(e.MessageType), e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// DuplicateHeaderKeyError is returned by Context.AddHeader when the key is
// already present.
type DuplicateHeaderKeyError struct {
	Key string
}

func (e *DuplicateHeaderKeyError) Error() string {
	return fmt.Sprintf("mediator: header %q already exists", e.Key)
}

// ValidationError carries field level validation failures.
type ValidationError struct {
	Errors map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.Errors[f], ", ")))
	}
	return "mediator: validation failed: " + strings.Join(parts, "; ")
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Errors == nil {
		e.Errors = make(map[string][]string)
	}
	e.Errors[field] = append(e.Errors[field], msg)
}

// TypeName returns the fully qualified name of t, for example
// "github.com/acme/app.Echo" or "*github.com/acme/app.Echo".
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// wrapHandlerError makes sure chain failures surface as *HandlerError
// without double wrapping.
func wrapHandlerError(t reflect.Type, err error) error {
	if err == nil {
		return nil
	}
	var herr *HandlerError
	if errors.As(err, &herr) {
		return err
	}
	var nerr *NoHandlerFoundError
	if errors.As(err, &nerr) {
		return err
	}
	return &HandlerError{MessageType: t, Err: err}
}

// recovered converts a recovered panic value into a *HandlerError.
func recovered(t reflect.Type, p any) error {
	if err, ok := p.(error); ok {
		return &HandlerError{MessageType: t, Err: err, Panic: p}
	}
	return &HandlerError{MessageType: t, Err: fmt.Errorf("panic: %v", p), Panic: p}
}

func typeNameOf(v any) string {
	return TypeName(reflect.TypeOf(v))
}
