package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxBodyBytes bounds the body read by [FromHTTP] when no limit is given.
const DefaultMaxBodyBytes int64 = 32 << 20 // 32 MB

// hopHeaders are connection-scoped and never stored or replayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// Response is a stored snapshot of an HTTP response.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewResponse builds a snapshot from its parts.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{Status: status, Header: header, Body: body}
}

// FromHTTP reads resp into a snapshot and closes its body.
// maxBytes <= 0 uses [DefaultMaxBodyBytes].
func FromHTTP(resp *http.Response, maxBytes int64) (*Response, error) {
	defer resp.Body.Close()
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBytes)
	}
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	StripHopHeaders(header)
	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}

// StripHopHeaders removes connection-scoped headers in place.
func StripHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy of the snapshot.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		StoredAt: r.StoredAt,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = bytes.Clone(r.Body)
	}
	return out
}

// ContentType returns the Content-Type header value.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Write replays the snapshot to w. HEAD requests may pass a nil body by
// calling with headOnly set.
func (r *Response) Write(w http.ResponseWriter, headOnly bool) error {
	dst := w.Header()
	for key, values := range r.Header {
		dst[key] = append([]string(nil), values...)
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if headOnly || len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
