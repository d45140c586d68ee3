package cache

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// envelope is the JSON document written to durable storage for each entry.
// Timestamp and TTL are in milliseconds. When Compressed is set, Data is a
// JSON string holding base64(JSON(value)).
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	TTL        int64           `json:"ttl"`
	Compressed bool            `json:"compressed"`
}

// tagIndex is the document stored under prefix+"tag_"+tag.
type tagIndex struct {
	Keys []string `json:"keys"`
}

func newEnvelope(e *Entry) (envelope, error) {
	data, err := encodeJSON(e.Value)
	if err != nil {
		return envelope{}, err
	}
	return envelope{
		Data:       data,
		Timestamp:  e.CreatedAt.UnixMilli(),
		TTL:        e.TTL.Milliseconds(),
		Compressed: e.Compressed,
	}, nil
}

func parseEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, errors.Wrap(err, "cache: corrupt entry")
	}
	if len(env.Data) == 0 {
		return env, errors.New("cache: corrupt entry, missing data")
	}
	return env, nil
}

func (e envelope) createdAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func (e envelope) ttl() time.Duration {
	return time.Duration(e.TTL) * time.Millisecond
}

func (e envelope) expired(now time.Time) bool {
	return now.Sub(e.createdAt()) > e.ttl()
}

// value returns the JSON form of the stored value, decoding it if compressed.
func (e envelope) value() (json.RawMessage, error) {
	if !e.Compressed {
		return e.Data, nil
	}
	var encoded string
	if err := json.Unmarshal(e.Data, &encoded); err != nil {
		return nil, errors.Wrap(err, "cache: compressed entry is not a string")
	}
	return decompress(encoded)
}

func (e envelope) marshal() (string, error) {
	buf, err := encodeJSON(e)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
