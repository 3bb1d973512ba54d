package blobstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/placedotfun/server/internal/compression"
	"github.com/placedotfun/server/internal/config"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Region    = "auto"
	sigV4Service   = "s3"
)

// Client stores model payloads in an S3-compatible bucket (R2, MinIO, S3).
// Objects are content-addressed by position-derived keys and overwritable, so
// a re-save at the same position reuses the same object.
type Client struct {
	endpoint        string
	bucket          string
	accessKeyID     string
	secretAccessKey string
	publicBaseURL   string
	gzipModels      bool
	httpClient      *http.Client
}

// New creates a blob store client from the storage section of the config.
func New(cfg *config.Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Storage.Endpoint)
	bucket := strings.TrimSpace(cfg.Storage.Bucket)
	accessKeyID := strings.TrimSpace(cfg.Storage.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.Storage.SecretAccessKey)

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("storage endpoint/bucket/access key/secret key are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse storage endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid storage endpoint: %s", endpoint)
	}

	return &Client{
		endpoint:        strings.TrimRight(u.String(), "/"),
		bucket:          bucket,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		publicBaseURL:   strings.TrimRight(strings.TrimSpace(cfg.Storage.PublicBaseURL), "/"),
		gzipModels:      cfg.Storage.GzipModels,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Put uploads data under objectKey and returns the public URL of the stored
// object. When gzip-at-rest is enabled the payload is compressed and tagged
// with Content-Encoding so CDN clients decode transparently.
func (c *Client) Put(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	objectKey = normalizeObjectKey(objectKey)
	if objectKey == "" {
		return "", fmt.Errorf("empty object key")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty payload for key %s", objectKey)
	}

	contentEncoding := ""
	if c.gzipModels && !compression.IsGzipData(data) {
		compressed, err := compression.CompressModel(data)
		if err != nil {
			return "", fmt.Errorf("compress payload for key %s: %w", objectKey, err)
		}
		data = compressed
		contentEncoding = "gzip"
	}

	escapedKey := escapePath(objectKey)
	canonicalURI := "/" + c.bucket + "/" + escapedKey

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+canonicalURI, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	c.sign(req, canonicalURI, sha256Hex(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return "", fmt.Errorf("blob put failed status=%d key=%s body=%s", resp.StatusCode, objectKey, strings.TrimSpace(string(body)))
	}

	return c.publicURL(escapedKey), nil
}

// Get downloads the object at objectKey. Gzip-at-rest objects are
// decompressed before returning, so callers always receive plain payloads.
func (c *Client) Get(ctx context.Context, objectKey string) ([]byte, error) {
	objectKey = normalizeObjectKey(objectKey)
	if objectKey == "" {
		return nil, fmt.Errorf("empty object key")
	}

	canonicalURI := "/" + c.bucket + "/" + escapePath(objectKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+canonicalURI, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, canonicalURI, sha256Hex(nil))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("blob get failed status=%d key=%s body=%s", resp.StatusCode, objectKey, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob body for key %s: %w", objectKey, err)
	}

	if resp.Header.Get("Content-Encoding") == "gzip" || compression.IsGzipData(data) {
		plain, err := compression.DecompressModel(data)
		if err != nil {
			return nil, fmt.Errorf("decompress blob for key %s: %w", objectKey, err)
		}
		data = plain
	}

	return data, nil
}

// sign attaches an AWS SigV4 Authorization header for the given canonical URI
// and payload hash. Only host and the x-amz-* headers participate in the
// signature; Content-Type and Content-Encoding travel unsigned.
func (c *Client) sign(req *http.Request, canonicalURI, payloadHash string) {
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	host := req.URL.Host
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		"",
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, sigV4Region, sigV4Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		sigV4Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(c.secretAccessKey, dateStamp, sigV4Region, sigV4Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm,
		c.accessKeyID,
		scope,
		signedHeaders,
		signature,
	))
}

// publicURL builds the externally reachable URL for an already-escaped key.
func (c *Client) publicURL(escapedKey string) string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL + "/" + escapedKey
	}
	return c.endpoint + "/" + c.bucket + "/" + escapedKey
}

func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := path.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
