package middleware

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/bjaus/mediator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Validatable is implemented by messages with rules beyond struct tags.
// Returning a *mediator.ValidationError keeps its field breakdown; any
// other error is recorded against the message type name.
type Validatable interface {
	Validate() error
}

// ValidationResult is implemented by result types that carry validation
// failures as data. When a request's result type implements it (directly
// or through its pointer), a failing request returns a result populated
// with SetValidationErrors instead of an error.
type ValidationResult interface {
	SetValidationErrors(err *mediator.ValidationError)
}

// ValidationMiddleware checks requests and commands before their handler
// runs, using `validate` struct tags and Validatable. Failures surface as
// *mediator.ValidationError.
type ValidationMiddleware struct {
	validate *validator.Validate
	opts     options
}

var _ mediator.Middleware = (*ValidationMiddleware)(nil)

// NewValidation creates a ValidationMiddleware. A nil v uses a validator
// with required struct checks enabled.
func NewValidation(v *validator.Validate, opts ...Option) *ValidationMiddleware {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &ValidationMiddleware{validate: v, opts: newOptions(opts)}
}

// Process implements mediator.Middleware.
func (m *ValidationMiddleware) Process(ctx context.Context, c *mediator.Context, next mediator.Next) (any, error) {
	verr := m.check(c.Message())
	if verr == nil {
		return next(ctx)
	}

	m.opts.logger.Debug("validation failed",
		zap.String("message", mediator.TypeName(c.MessageType())),
		zap.Error(verr),
	)

	if v, ok := asValidationResult(c.ResultType(), verr); ok {
		return v, nil
	}
	return nil, verr
}

func (m *ValidationMiddleware) check(msg any) *mediator.ValidationError {
	out := &mediator.ValidationError{}

	if isStruct(msg) {
		var fields validator.ValidationErrors
		if err := m.validate.Struct(msg); errors.As(err, &fields) {
			for _, fe := range fields {
				out.Add(fe.Namespace(), fmt.Sprintf("failed on the '%s' rule", fe.Tag()))
			}
		} else if err != nil {
			out.Add(typeLabel(msg), err.Error())
		}
	}

	if v, ok := msg.(Validatable); ok {
		if err := v.Validate(); err != nil {
			var ve *mediator.ValidationError
			if errors.As(err, &ve) {
				for field, msgs := range ve.Errors {
					for _, s := range msgs {
						out.Add(field, s)
					}
				}
			} else {
				out.Add(typeLabel(msg), err.Error())
			}
		}
	}

	if len(out.Errors) == 0 {
		return nil
	}
	return out
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		if reflect.ValueOf(v).IsNil() {
			return false
		}
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func typeLabel(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func asValidationResult(t reflect.Type, verr *mediator.ValidationError) (any, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		vr, ok := ptr.Interface().(ValidationResult)
		if !ok {
			return nil, false
		}
		vr.SetValidationErrors(verr)
		return ptr.Interface(), true
	}

	ptr := reflect.New(t)
	vr, ok := ptr.Interface().(ValidationResult)
	if !ok {
		return nil, false
	}
	vr.SetValidationErrors(verr)
	return ptr.Elem().Interface(), true
}
