// Package testutil provides the shared harness for the end-to-end
// suites: a real server on a real port, an HTTP client, and an SSE
// reader.
package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/in-the-loop-labs/pair-review/internal/server"
)

// TestServer wraps a server instance for testing.
type TestServer struct {
	Server  *server.Server
	BaseURL string
	TempDir string
	port    int
}

// TestServerOption configures TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	sessionTTL time.Duration
	responder  func(content string) string
}

// WithSessionTTL overrides the session TTL, so expiry paths can be
// exercised without waiting out the default.
func WithSessionTTL(ttl time.Duration) TestServerOption {
	return func(c *testServerConfig) {
		c.sessionTTL = ttl
	}
}

// WithResponder scripts the assistant reply for every turn.
func WithResponder(fn func(content string) string) TestServerOption {
	return func(c *testServerConfig) {
		c.responder = fn
	}
}

// StartTestServer creates and starts a test server.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	_ = godotenv.Load("../../.env")

	tempDir, err := os.MkdirTemp("", "pair-review-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.DataDir = filepath.Join(tempDir, "storage")
	if cfg.sessionTTL > 0 {
		serverConfig.SessionTTL = cfg.sessionTTL
	}

	srv := server.New(serverConfig)
	if cfg.responder != nil {
		srv.Sessions().Responder = cfg.responder
	}

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		_ = srv.Shutdown(context.Background())
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:  srv,
		BaseURL: baseURL,
		TempDir: tempDir,
		port:    port,
	}, nil
}

// Stop shuts down the test server and cleans up.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}

	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}

	return nil
}

// Client returns a new test client for this server.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server.
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to answer requests.
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		// Any route answering means the listener is up; a 404-free probe
		// is not needed here.
		resp, err := client.Get(context.Background(), "/run/probe")
		if err == nil && resp.StatusCode > 0 {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
