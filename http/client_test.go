package http_test

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	offlinehttp "github.com/meigma/offline/http"
)

func TestClientDoStripsConditionalHeaders(t *testing.T) {
	var seen nethttp.Header
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		seen = r.Header.Clone()
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(server.Close)

	client := offlinehttp.NewClient(
		offlinehttp.WithHeader("X-Offline", "1"),
		offlinehttp.WithUserAgent("enigma-offline/test"),
	)

	req, err := nethttp.NewRequest(nethttp.MethodGet, server.URL+"/index.html", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("If-None-Match", `"abc"`)
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
	if got := seen.Get("If-None-Match"); got != "" {
		t.Fatalf("If-None-Match forwarded: %q", got)
	}
	if got := seen.Get("Accept"); got != "text/html" {
		t.Fatalf("Accept = %q, want text/html", got)
	}
	if got := seen.Get("X-Offline"); got != "1" {
		t.Fatalf("X-Offline = %q, want 1", got)
	}
	if got := seen.Get("User-Agent"); got != "enigma-offline/test" {
		t.Fatalf("User-Agent = %q", got)
	}
	if got := req.Header.Get("If-None-Match"); got == "" {
		t.Fatal("caller request was mutated")
	}
}

func TestClientDoRequiresAbsoluteURL(t *testing.T) {
	client := offlinehttp.NewClient()
	req := httptest.NewRequest(nethttp.MethodGet, "/index.html", nil)
	req.URL.Scheme = ""
	req.URL.Host = ""
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientDoNetworkError(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	url := server.URL
	server.Close()

	client := offlinehttp.NewClient(offlinehttp.WithTimeout(time.Second))
	req, err := nethttp.NewRequestWithContext(context.Background(), nethttp.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestClientDoLeavesEncodingToTransport(t *testing.T) {
	var seen string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		seen = r.Header.Get("Accept-Encoding")
		if seen != "gzip" {
			_, _ = w.Write([]byte("plain"))
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte("hello"))
		_ = zw.Close()
	}))
	t.Cleanup(server.Close)

	req, err := nethttp.NewRequest(nethttp.MethodGet, server.URL+"/app.js", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := offlinehttp.NewClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if seen != "gzip" {
		t.Fatalf("Accept-Encoding = %q, want the transport default", seen)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want decoded %q", body, "hello")
	}
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("Content-Encoding = %q, want empty", got)
	}
}

func TestClientTimeoutAppliesToSuppliedClient(t *testing.T) {
	done := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(done) })

	client := offlinehttp.NewClient(
		offlinehttp.WithTimeout(50*time.Millisecond),
		offlinehttp.WithClient(&nethttp.Client{}),
	)
	req, err := nethttp.NewRequest(nethttp.MethodGet, server.URL+"/slow", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := client.Do(req)
		errc <- err
	}()
	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout was not applied")
	}
}
