package mediator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by ViewOf when the input is not valid JSON.
var ErrInvalidJSON = errors.New("mediator: invalid JSON")

// View reads fields of a message through its JSON form. Paths use gjson
// syntax, so "customer.tier" and "items.#" both work.
type View interface {
	// Has reports whether path is present.
	Has(path string) bool

	// String returns the string at path. It reports false when the path is
	// missing or holds another JSON type.
	String(path string) (string, bool)

	// Raw returns the JSON text at path, quotes included.
	Raw(path string) ([]byte, bool)
}

// Inspect marshals msg with encoding/json and returns a View over it.
func Inspect(msg any) (View, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mediator: marshalling %T: %w", msg, err)
	}
	return ViewOf(raw)
}

// ViewOf returns a View over raw.
func ViewOf(raw []byte) (View, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return view(raw), nil
}

type view []byte

func (v view) get(path string) (gjson.Result, bool) {
	r := gjson.GetBytes(v, path)
	return r, r.Exists()
}

func (v view) Has(path string) bool {
	_, ok := v.get(path)
	return ok
}

func (v view) String(path string) (string, bool) {
	r, ok := v.get(path)
	if !ok || r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

func (v view) Raw(path string) ([]byte, bool) {
	r, ok := v.get(path)
	if !ok {
		return nil, false
	}
	return []byte(r.Raw), true
}
