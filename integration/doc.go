//go:build integration

// Package integration provides integration tests for the offline cache.
//
// These tests require Docker and start a Valkey server using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
