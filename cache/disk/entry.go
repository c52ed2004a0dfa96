package disk

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/meigma/offline/cache"
)

const (
	encodingIdentity = "identity"
	encodingZstd     = "zstd"
)

// entryHeader is the first line of every entry file. The (possibly
// compressed) body follows the newline.
type entryHeader struct {
	Key      cache.Key           `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	Digest   string              `json:"digest"`
	Encoding string              `json:"encoding"`
	StoredAt time.Time           `json:"stored_at"`
}

func (s *Storage) encodeEntry(key cache.Key, resp *cache.Response) ([]byte, error) {
	hdr := entryHeader{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		Digest:   cache.Digest(resp.Body),
		Encoding: encodingIdentity,
		StoredAt: resp.StoredAt.UTC(),
	}
	body := resp.Body
	if s.compress && len(body) > 0 {
		body = s.enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		hdr.Encoding = encodingZstd
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("marshal entry header: %w", err)
	}
	out := make([]byte, 0, len(line)+1+len(body))
	out = append(out, line...)
	out = append(out, '\n')
	out = append(out, body...)
	return out, nil
}

func (s *Storage) decodeEntry(data []byte) (cache.Key, *cache.Response, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return cache.Key{}, nil, fmt.Errorf("%w: missing entry header", cache.ErrCorrupt)
	}
	var hdr entryHeader
	if err := json.Unmarshal(data[:idx], &hdr); err != nil {
		return cache.Key{}, nil, fmt.Errorf("%w: decode entry header: %v", cache.ErrCorrupt, err)
	}
	body := data[idx+1:]
	switch hdr.Encoding {
	case encodingIdentity, "":
		body = bytes.Clone(body)
	case encodingZstd:
		decoded, err := s.dec.DecodeAll(body, nil)
		if err != nil {
			return cache.Key{}, nil, fmt.Errorf("%w: decompress body: %v", cache.ErrCorrupt, err)
		}
		body = decoded
	default:
		return cache.Key{}, nil, fmt.Errorf("%w: unknown encoding %q", cache.ErrCorrupt, hdr.Encoding)
	}
	if err := cache.VerifyDigest(hdr.Digest, body); err != nil {
		return cache.Key{}, nil, err
	}
	resp := cache.NewResponse(hdr.Status, hdr.Header, body)
	resp.StoredAt = hdr.StoredAt
	return hdr.Key, resp, nil
}

func readEntryKey(path string) (cache.Key, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from walking the cache dir
	if err != nil {
		return cache.Key{}, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return cache.Key{}, err
	}
	var hdr entryHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return cache.Key{}, err
	}
	if err := hdr.Key.Validate(); err != nil {
		return cache.Key{}, err
	}
	return hdr.Key, nil
}
