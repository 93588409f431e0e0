package middleware

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/bjaus/mediator"
)

// CacheKeyer lets a message supply its own store key.
type CacheKeyer interface {
	CacheKey() string
}

// KeyFunc derives the store key for a message.
type KeyFunc func(msg any) (string, error)

// DefaultKey keys a message by its type name and its compact JSON form,
// unless it implements CacheKeyer.
func DefaultKey(msg any) (string, error) {
	return KeyFor(msg)
}

// KeyFor builds a store key from the message type and the given JSON
// paths. With no paths the whole message is used. Missing paths contribute
// an empty segment.
//
// Example:
//
//	key, err := middleware.KeyFor(GetOrder{Tenant: "acme", ID: 7}, "Tenant", "ID")
//	// "github.com/acme/app.GetOrder:\"acme\":7"
func KeyFor(msg any, paths ...string) (string, error) {
	prefix := mediator.TypeName(reflect.TypeOf(msg))
	if k, ok := msg.(CacheKeyer); ok {
		return prefix + ":" + k.CacheKey(), nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("middleware: serializing %T: %w", msg, err)
	}
	if len(paths) == 0 {
		return prefix + ":" + string(raw), nil
	}

	view, err := mediator.ViewOf(raw)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(paths)+1)
	parts = append(parts, prefix)
	for _, p := range paths {
		b, _ := view.Raw(p)
		parts = append(parts, string(b))
	}
	return strings.Join(parts, ":"), nil
}

// KeyPaths returns a KeyFunc that keys messages by the given JSON paths.
func KeyPaths(paths ...string) KeyFunc {
	return func(msg any) (string, error) {
		return KeyFor(msg, paths...)
	}
}
