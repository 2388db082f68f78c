package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/rally/internal/serverdb"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := Config{
		ListenAddr:     ":0",
		ServerDBPath:   dbPath,
		MaxFeedWait:    2 * time.Second,
		PageLimit:      100,
		RateLimitWrite: 100000,
		RateLimitRead:  100000,
		RateLimitOther: 100000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		httpSrv.Close()
		store.Close()
	})

	return &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{},
	}
}

// createUser registers email and returns a fresh API key for it.
func (h *TestHarness) createUser(email string) string {
	h.t.Helper()
	ctx := context.Background()
	u, err := h.Store.CreateUser(ctx, email)
	if err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	key, _, err := h.Store.GenerateAPIKey(ctx, u.ID, "test", nil)
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	return key
}

// do sends a request and decodes a JSON response into out when non-nil.
func (h *TestHarness) do(method, path, token string, body any, out any) *http.Response {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, reader)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			h.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}
