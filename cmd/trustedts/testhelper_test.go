package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/remiblancher/trustedts/internal/tsatest"
)

// executeCommand runs a fresh root command with args and returns its
// combined output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(bytes.NewReader(nil))

	err := execute(context.Background(), root, args)
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv(envConfig, "")
	t.Setenv(envAuditLog, "")
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// writeCertPEM writes a certificate to a PEM file.
func (tc *testContext) writeCertPEM(name string, cert *x509.Certificate) string {
	tc.t.Helper()
	return tc.writeFile(name, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})))
}

// readFile reads a file from the temp directory.
func (tc *testContext) readFile(name string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(tc.path(name))
	if err != nil {
		tc.t.Fatalf("Failed to read file %s: %v", name, err)
	}
	return data
}

// startTSA serves a test TSA over HTTP and writes its root to ca.pem.
func (tc *testContext) startTSA(opts ...tsatest.Option) (*tsatest.TSA, string, string) {
	tc.t.Helper()
	var handler atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().(http.Handler).ServeHTTP(w, r)
	}))
	tc.t.Cleanup(srv.Close)

	opts = append([]tsatest.Option{tsatest.WithOCSPServer(srv.URL + "/ocsp")}, opts...)
	tsa, err := tsatest.New(opts...)
	if err != nil {
		tc.t.Fatalf("tsatest.New() failed: %v", err)
	}
	handler.Store(tsa.Handler())
	return tsa, srv.URL, tc.writeCertPEM("ca.pem", tsa.Root.Cert)
}

func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

func assertNoError(t *testing.T, err error, output string) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v\nOutput:\n%s", err, output)
	}
}
