package mediator

import "reflect"

// Matcher decides whether an executor should service a message. Matchers
// are cheap, side-effect free predicates evaluated on every dispatch.
type Matcher interface {
	Match(msg any) bool
}

// MatchFunc is a function adapter for Matcher.
type MatchFunc func(msg any) bool

// Match implements the Matcher interface.
func (f MatchFunc) Match(msg any) bool { return f(msg) }

// MessageOf returns a Matcher that matches messages whose dynamic type is T.
func MessageOf[T any]() Matcher {
	return messageOf{t: reflect.TypeFor[T]()}
}

type messageOf struct {
	t reflect.Type
}

func (m messageOf) Match(msg any) bool {
	return reflect.TypeOf(msg) == m.t
}

// Implements returns a Matcher that matches messages implementing the
// interface I.
func Implements[I any]() Matcher {
	return implements{t: reflect.TypeFor[I]()}
}

type implements struct {
	t reflect.Type
}

func (m implements) Match(msg any) bool {
	t := reflect.TypeOf(msg)
	return t != nil && m.t.Kind() == reflect.Interface && t.Implements(m.t)
}

// And returns a Matcher that matches when all matchers match.
func And(ms ...Matcher) Matcher {
	return and{ms: ms}
}

type and struct {
	ms []Matcher
}

func (a and) Match(msg any) bool {
	for _, m := range a.ms {
		if !m.Match(msg) {
			return false
		}
	}
	return true
}

// Or returns a Matcher that matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return or{ms: ms}
}

type or struct {
	ms []Matcher
}

func (o or) Match(msg any) bool {
	for _, m := range o.ms {
		if m.Match(msg) {
			return true
		}
	}
	return false
}

// Not returns a Matcher that inverts m.
func Not(m Matcher) Matcher {
	return MatchFunc(func(msg any) bool { return !m.Match(msg) })
}

// Content returns a Matcher that inspects the message's JSON form with fn.
// Messages that do not marshal never match.
func Content(fn func(View) bool) Matcher {
	return MatchFunc(func(msg any) bool {
		v, err := Inspect(msg)
		return err == nil && fn(v)
	})
}

// HasFields returns a Matcher that matches messages in which every path is
// present.
func HasFields(paths ...string) Matcher {
	return Content(func(v View) bool {
		for _, p := range paths {
			if !v.Has(p) {
				return false
			}
		}
		return true
	})
}

// FieldEquals returns a Matcher that matches messages whose string field at
// path equals value.
func FieldEquals(path, value string) Matcher {
	return Content(func(v View) bool {
		got, ok := v.String(path)
		return ok && got == value
	})
}
