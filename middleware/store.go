package middleware

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"
)

// ErrCorruptEntry is returned by DecodeEntry for data too short to hold an
// entry header.
var ErrCorruptEntry = errors.New("middleware: corrupt store entry")

// Entry is a serialized value and the time it was stored.
type Entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Store persists cache and offline entries. Implementations live under
// store/.
type Store interface {
	// Get returns the entry for key. A missing key reports false and a nil
	// error.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// Serializer encodes handler results for a Store.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// EncodeEntry packs e as an 8 byte little endian UnixNano timestamp followed
// by the value. Byte oriented stores use it as their on-disk format.
func EncodeEntry(e Entry) []byte {
	out := make([]byte, 8+len(e.Value))
	binary.LittleEndian.PutUint64(out, uint64(e.StoredAt.UnixNano()))
	copy(out[8:], e.Value)
	return out
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < 8 {
		return Entry{}, ErrCorruptEntry
	}
	ns := int64(binary.LittleEndian.Uint64(data[:8]))
	value := make([]byte, len(data)-8)
	copy(value, data[8:])
	return Entry{Value: value, StoredAt: time.Unix(0, ns).UTC()}, nil
}
