package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Entry is one cached value together with its expiry and access bookkeeping.
type Entry struct {
	// Value is the payload. When Compressed is set it is the base64 encoding
	// of the JSON form of the original value.
	Value          any
	CreatedAt      time.Time
	TTL            time.Duration
	AccessCount    int
	LastAccessedAt time.Time
	// SizeBytes estimates the footprint as two bytes per UTF-16 code unit of
	// the JSON form of Value.
	SizeBytes  int64
	Compressed bool

	// original is the value handed to Set before it was compressed, so
	// in-process reads return it unchanged. Entries promoted from durable
	// storage do not have one.
	original any
}

// NewEntry wraps value. It fails only when value cannot be encoded as JSON.
func NewEntry(value any, ttl time.Duration, now time.Time) (*Entry, error) {
	size, err := sizeOf(value)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		AccessCount:    1,
		LastAccessedAt: now,
		SizeBytes:      size,
	}, nil
}

// IsExpired reports whether more than TTL has elapsed since creation.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// IsValid is the negation of IsExpired.
func (e *Entry) IsValid(now time.Time) bool {
	return !e.IsExpired(now)
}

// Access records a read and returns the stored value.
func (e *Entry) Access(now time.Time) any {
	e.AccessCount++
	e.LastAccessedAt = now
	return e.Value
}

// read records an access and returns the value as it was set. Compressed
// payloads without an original are decoded from JSON.
func (e *Entry) read(now time.Time) (any, error) {
	val := e.Access(now)
	if !e.Compressed {
		return val, nil
	}
	if e.original != nil {
		return e.original, nil
	}
	raw, err := decompress(val)
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw)
}

// RemainingTTL is the time left before expiry, never negative.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	return max(0, e.TTL-now.Sub(e.CreatedAt))
}

// Replace swaps the payload and recomputes SizeBytes.
func (e *Entry) Replace(value any, compressed bool) error {
	size, err := sizeOf(value)
	if err != nil {
		return err
	}
	e.Value = value
	e.Compressed = compressed
	e.SizeBytes = size
	e.original = nil
	return nil
}

func sizeOf(value any) (int64, error) {
	buf, err := encodeJSON(value)
	if err != nil {
		return 0, err
	}
	return estimateSize(string(buf)), nil
}

// estimateSize counts UTF-16 code units and doubles them.
func estimateSize(s string) int64 {
	var units int64
	for _, r := range s {
		if r == utf8.RuneError || r < 0x10000 {
			units++
		} else {
			units += 2
		}
	}
	return units * 2
}

// encodeJSON marshals without HTML escaping so sizes track the plain JSON text.
func encodeJSON(value any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, errors.Wrap(err, "cache: failed to encode value")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeJSON turns stored JSON back into a plain Go value: objects become
// map[string]any, arrays []any, numbers float64 and null nil.
func decodeJSON(raw json.RawMessage) (any, error) {
	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, errors.Wrap(err, "cache: failed to decode value")
	}
	return val, nil
}

// compress returns base64(JSON(value)).
func compress(value any) (string, error) {
	buf, err := encodeJSON(value)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// decompress reverses compress, yielding the JSON form of the original value.
func decompress(value any) (json.RawMessage, error) {
	encoded, ok := value.(string)
	if !ok {
		return nil, errors.Newf("cache: compressed value has type %T, expected string", value)
	}
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "cache: failed to decode compressed value")
	}
	if !json.Valid(buf) {
		return nil, errors.New("cache: compressed value is not valid JSON")
	}
	return json.RawMessage(buf), nil
}
