// Package testutil provides a scriptable network for tests.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// ErrOffline is returned by Network.Do while the network is offline.
var ErrOffline = errors.New("testutil: network offline")

// Route is a scripted response.
type Route struct {
	Status int
	Header http.Header
	Body   []byte
}

// Network is a fake offline.Network. Unknown URLs answer 404.
type Network struct {
	mu      sync.Mutex
	routes  map[string]Route
	calls   map[string]int
	total   int
	offline bool
	gate    chan struct{}
	gated   map[string]bool
}

// NewNetwork returns an online network with no routes.
func NewNetwork() *Network {
	return &Network{
		routes: make(map[string]Route),
		calls:  make(map[string]int),
	}
}

// Set scripts a response for an absolute URL.
func (n *Network) Set(url string, status int, contentType, body string) {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[url] = Route{Status: status, Header: h, Body: []byte(body)}
}

// SetOffline toggles network failures.
func (n *Network) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

// Block holds requests until the returned release function is called:
// requests for urls, or every request when urls is empty. Blocked requests
// also return when their context is done.
func (n *Network) Block(urls ...string) (release func()) {
	gate := make(chan struct{})
	var gated map[string]bool
	if len(urls) > 0 {
		gated = make(map[string]bool, len(urls))
		for _, u := range urls {
			gated[u] = true
		}
	}
	n.mu.Lock()
	n.gate = gate
	n.gated = gated
	n.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if n.gate == gate {
				n.gate = nil
				n.gated = nil
			}
			n.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the number of requests made for url.
func (n *Network) Calls(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

// Total returns the number of requests made.
func (n *Network) Total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.total
}

// Do implements offline.Network.
func (n *Network) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	n.mu.Lock()
	n.calls[url]++
	n.total++
	gate := n.gate
	if n.gated != nil && !n.gated[url] {
		gate = nil
	}
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	n.mu.Lock()
	offline := n.offline
	route, ok := n.routes[url]
	n.mu.Unlock()

	if offline {
		return nil, ErrOffline
	}
	if !ok {
		route = Route{Status: http.StatusNotFound, Header: make(http.Header)}
	}
	header := route.Header.Clone()
	header.Set("Content-Length", strconv.Itoa(len(route.Body)))
	return &http.Response{
		StatusCode:    route.Status,
		Status:        http.StatusText(route.Status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(route.Body)),
		ContentLength: int64(len(route.Body)),
		Request:       req,
	}, nil
}
