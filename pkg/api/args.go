package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

type (
	// Args carries named inputs and outputs across workflow and step
	// boundaries. Values round-trip through JSON, so numbers decode as
	// float64 and nested maps as map[string]any
	Args map[Name]any

	// Name identifies a workflow, step, queue member, or argument
	Name string

	hashEntry struct {
		K string `json:"k"`
		V any    `json:"v"`
	}
)

var ErrMarshalArgs = errors.New("failed to marshal args")

// Set returns a copy of the Args with name bound to value. The receiver
// is never mutated and may be nil
func (a Args) Set(name Name, value any) Args {
	if a == nil {
		return Args{name: value}
	}
	res := maps.Clone(a)
	res[name] = value
	return res
}

// GetString returns the string bound to name, or defaultValue when the
// entry is missing or holds a different type
func (a Args) GetString(name Name, defaultValue string) string {
	return argAs(a, name, defaultValue)
}

// GetBool returns the bool bound to name, or defaultValue when the entry
// is missing or holds a different type
func (a Args) GetBool(name Name, defaultValue bool) bool {
	return argAs(a, name, defaultValue)
}

// GetInt returns the integer bound to name, accepting both int and the
// float64 form produced by JSON decoding. Returns defaultValue otherwise
func (a Args) GetInt(name Name, defaultValue int) int {
	switch val := a[name].(type) {
	case int:
		return val
	case float64:
		return int(val)
	default:
		return defaultValue
	}
}

// HashKey derives a stable SHA256 digest of the Args, independent of map
// iteration order. The hex result is suitable as a deduplication key
func (a Args) HashKey() (string, error) {
	if len(a) == 0 {
		return sha256Hex(nil), nil
	}

	entries := make([]hashEntry, 0, len(a))
	for _, k := range slices.Sorted(maps.Keys(a)) {
		entries = append(entries, hashEntry{K: string(k), V: a[k]})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarshalArgs, err)
	}
	return sha256Hex(data), nil
}

func argAs[T any](a Args, name Name, defaultValue T) T {
	if val, ok := a[name].(T); ok {
		return val
	}
	return defaultValue
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
