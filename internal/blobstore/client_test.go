package blobstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/placedotfun/server/internal/compression"
	"github.com/placedotfun/server/internal/config"
)

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

func newCaptureServer(t *testing.T, status int, responseBody []byte, responseHeaders map[string]string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
		}
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		captured.body = body

		for k, v := range responseHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if responseBody != nil {
			w.Write(responseBody)
		}
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestClient(t *testing.T, endpoint string, gzipModels bool) *Client {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Endpoint:        endpoint,
			Bucket:          "models",
			AccessKeyID:     "test-access",
			SecretAccessKey: "test-secret",
			PublicBaseURL:   "https://cdn.test",
			GzipModels:      gzipModels,
		},
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestClientPut(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK, nil, nil)
	client := newTestClient(t, server.URL, false)

	payload := []byte("glTF-binary-payload")
	url, err := client.Put(context.Background(), "chunks/chunk_0_0.glb", payload, "model/gltf-binary")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if url != "https://cdn.test/chunks/chunk_0_0.glb" {
		t.Errorf("url = %s, expected public base URL form", url)
	}
	if captured.method != http.MethodPut {
		t.Errorf("method = %s, expected PUT", captured.method)
	}
	if captured.path != "/models/chunks/chunk_0_0.glb" {
		t.Errorf("path = %s, expected /models/chunks/chunk_0_0.glb", captured.path)
	}
	if !bytes.Equal(captured.body, payload) {
		t.Errorf("body differs from payload")
	}
	if got := captured.headers.Get("Content-Type"); got != "model/gltf-binary" {
		t.Errorf("Content-Type = %s", got)
	}

	auth := captured.headers.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=test-access/") {
		t.Errorf("Authorization header = %s", auth)
	}
	if !strings.Contains(auth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date") {
		t.Errorf("Authorization missing signed headers: %s", auth)
	}
	if !strings.Contains(auth, "/auto/s3/aws4_request") {
		t.Errorf("Authorization missing credential scope: %s", auth)
	}
	if captured.headers.Get("x-amz-content-sha256") == "" {
		t.Error("x-amz-content-sha256 header missing")
	}
	if captured.headers.Get("x-amz-date") == "" {
		t.Error("x-amz-date header missing")
	}
}

func TestClientPutGzip(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK, nil, nil)
	client := newTestClient(t, server.URL, true)

	payload := bytes.Repeat([]byte("vertex data "), 128)
	if _, err := client.Put(context.Background(), "chunks/chunk_1_1.glb", payload, "model/gltf-binary"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if got := captured.headers.Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %s, expected gzip", got)
	}
	if !compression.IsGzipData(captured.body) {
		t.Fatal("uploaded body is not gzip")
	}
	plain, err := compression.DecompressModel(captured.body)
	if err != nil {
		t.Fatalf("Failed to decompress uploaded body: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Error("decompressed body differs from original payload")
	}
	if len(captured.body) >= len(payload) {
		t.Errorf("gzip did not shrink payload: %d → %d bytes", len(payload), len(captured.body))
	}
}

func TestClientPutErrorStatus(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusInternalServerError, []byte("upstream broke"), nil)
	client := newTestClient(t, server.URL, false)

	_, err := client.Put(context.Background(), "chunks/chunk_2_2.glb", []byte("data"), "model/gltf-binary")
	if err == nil {
		t.Fatal("Put succeeded on a 500 response")
	}
	if !strings.Contains(err.Error(), "status=500") {
		t.Errorf("error = %v, expected status in message", err)
	}
}

func TestClientPutRejectsBadInput(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusOK, nil, nil)
	client := newTestClient(t, server.URL, false)

	if _, err := client.Put(context.Background(), "", []byte("data"), "model/gltf-binary"); err == nil {
		t.Error("Put accepted an empty key")
	}
	if _, err := client.Put(context.Background(), "chunks/x.glb", nil, "model/gltf-binary"); err == nil {
		t.Error("Put accepted an empty payload")
	}
}

func TestClientGet(t *testing.T) {
	payload := []byte("stored model bytes")
	server, captured := newCaptureServer(t, http.StatusOK, payload, nil)
	client := newTestClient(t, server.URL, false)

	data, err := client.Get(context.Background(), "chunks/chunk_0_0.glb")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("Get returned different bytes than stored")
	}
	if captured.method != http.MethodGet {
		t.Errorf("method = %s, expected GET", captured.method)
	}
	if captured.headers.Get("Authorization") == "" {
		t.Error("Get request was not signed")
	}
}

func TestClientGetDecompressesGzipObjects(t *testing.T) {
	payload := bytes.Repeat([]byte("face data "), 64)
	compressed, err := compression.CompressModel(payload)
	if err != nil {
		t.Fatalf("CompressModel failed: %v", err)
	}

	server, _ := newCaptureServer(t, http.StatusOK, compressed, map[string]string{
		"Content-Encoding": "gzip",
	})
	client := newTestClient(t, server.URL, false)

	data, err := client.Get(context.Background(), "chunks/chunk_3_3.glb")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if compression.IsGzipData(data) {
		t.Error("Get returned still-compressed bytes")
	}
	if !bytes.Equal(data, payload) {
		t.Error("decompressed bytes differ from original payload")
	}
}

func TestClientGetErrorStatus(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusNotFound, []byte("no such key"), nil)
	client := newTestClient(t, server.URL, false)

	_, err := client.Get(context.Background(), "chunks/missing.glb")
	if err == nil {
		t.Fatal("Get succeeded on a 404 response")
	}
	if !strings.Contains(err.Error(), "status=404") {
		t.Errorf("error = %v, expected status in message", err)
	}
}

func TestClientPublicURLFallback(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusOK, nil, nil)

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Endpoint:        server.URL,
			Bucket:          "models",
			AccessKeyID:     "test-access",
			SecretAccessKey: "test-secret",
		},
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	url, err := client.Put(context.Background(), "chunks/chunk_9_9.glb", []byte("data"), "model/gltf-binary")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	want := server.URL + "/models/chunks/chunk_9_9.glb"
	if url != want {
		t.Errorf("url = %s, expected endpoint fallback %s", url, want)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"missing endpoint", config.StorageConfig{Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"}},
		{"missing bucket", config.StorageConfig{Endpoint: "https://s3.test", AccessKeyID: "a", SecretAccessKey: "s"}},
		{"missing access key", config.StorageConfig{Endpoint: "https://s3.test", Bucket: "b", SecretAccessKey: "s"}},
		{"missing secret key", config.StorageConfig{Endpoint: "https://s3.test", Bucket: "b", AccessKeyID: "a"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(&config.Config{Storage: tc.cfg}); err == nil {
				t.Error("New accepted incomplete storage config")
			}
		})
	}
}

func TestNewDefaultsScheme(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Endpoint:        "storage.example.com",
			Bucket:          "models",
			AccessKeyID:     "a",
			SecretAccessKey: "s",
		},
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if client.endpoint != "https://storage.example.com" {
		t.Errorf("endpoint = %s, expected https scheme default", client.endpoint)
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"chunks/chunk_0_0.glb", "chunks/chunk_0_0.glb"},
		{"/chunks/chunk_0_0.glb", "chunks/chunk_0_0.glb"},
		{"chunks\\chunk_0_0.glb", "chunks/chunk_0_0.glb"},
		{"chunks//chunk_0_0.glb", "chunks/chunk_0_0.glb"},
		{"chunks/./chunk_0_0.glb", "chunks/chunk_0_0.glb"},
		{"../etc/passwd", "etc/passwd"},
		{"..", ""},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range testCases {
		if got := normalizeObjectKey(tc.input); got != tc.expected {
			t.Errorf("normalizeObjectKey(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}
