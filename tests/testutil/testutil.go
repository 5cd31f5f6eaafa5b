// Package testutil provides shared helpers for package tests: an in-memory
// cache and an embedded notification server bound to a loopback port.
package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/devserver"
	"github.com/archohq/notify/internal/store"
)

// NewTestCache creates an in-memory Cache with all migrations applied.
// It automatically closes the cache when the test completes.
func NewTestCache(t *testing.T) *store.Cache {
	t.Helper()

	c, err := store.NewCache(":memory:")
	if err != nil {
		t.Fatalf("creating test cache: %v", err)
	}

	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("closing test cache: %v", err)
		}
	})

	return c
}

// NewTestServer starts an embedded notification server on an httptest
// listener. The returned URL serves as the API base URL; the server is shut
// down when the test completes.
func NewTestServer(t *testing.T) (*devserver.Server, string) {
	t.Helper()

	srv := devserver.New(zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return srv, ts.URL
}
