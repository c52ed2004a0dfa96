package cache

import (
	"encoding/json"
	"fmt"
	"time"

	digest "github.com/opencontainers/go-digest"
)

// record is the self-describing encoding shared by the remote backends.
type record struct {
	Key      Key                 `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	Digest   string              `json:"digest"`
	Body     []byte              `json:"body,omitempty"`
	StoredAt time.Time           `json:"stored_at"`
}

// Digest returns the canonical digest of a response body.
func Digest(body []byte) string {
	return digest.FromBytes(body).String()
}

// VerifyDigest checks body against an "algorithm:hex" digest string.
// A mismatch or malformed digest yields an error wrapping [ErrCorrupt].
func VerifyDigest(dgst string, body []byte) error {
	parsed, err := digest.Parse(dgst)
	if err != nil {
		return fmt.Errorf("%w: parse digest %q: %v", ErrCorrupt, dgst, err)
	}
	algo := parsed.Algorithm()
	if !algo.Available() {
		return fmt.Errorf("%w: digest algorithm %q unavailable", ErrCorrupt, algo)
	}
	if algo.FromBytes(body) != parsed {
		return fmt.Errorf("%w: digest mismatch for %s", ErrCorrupt, dgst)
	}
	return nil
}

// Marshal encodes a key and response into a single record.
// The body digest is computed and embedded for verification on decode.
func Marshal(key Key, resp *Response) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec := record{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		Digest:   Digest(resp.Body),
		Body:     resp.Body,
		StoredAt: resp.StoredAt.UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal cache record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a record produced by [Marshal] and verifies its body.
func Unmarshal(data []byte) (Key, *Response, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Key{}, nil, fmt.Errorf("%w: decode record: %v", ErrCorrupt, err)
	}
	if err := rec.Key.Validate(); err != nil {
		return Key{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := VerifyDigest(rec.Digest, rec.Body); err != nil {
		return Key{}, nil, err
	}
	resp := NewResponse(rec.Status, rec.Header, rec.Body)
	resp.StoredAt = rec.StoredAt
	return rec.Key, resp, nil
}
