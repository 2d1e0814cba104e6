package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
)

const (
	// SignatureHeader carries the Ed25519 signature of the response body.
	SignatureHeader = "Body-Signature-Ed25519"
	// DefaultTimeout bounds a single ledger request.
	DefaultTimeout = 30 * time.Second
	// maxResponseSize caps how much of a ledger response is read.
	maxResponseSize = 16 << 20
	// StatusOK is the status a successful ledger response carries.
	StatusOK = "OK"
)

var (
	// ErrNotFound is returned when the ledger has no record of a hash.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrBadSignature is returned when a response signature does not verify.
	ErrBadSignature = errors.New("ledger: response signature invalid")
	// ErrStatus is returned when a response carries a non-OK status.
	ErrStatus = errors.New("ledger: non-OK status")
	// ErrInvalidPublicKey is returned for an unusable ledger public key.
	ErrInvalidPublicKey = errors.New("ledger: invalid public key")
)

// Ledger is a transparency log queried for corroboration.
type Ledger interface {
	// LatestHash returns the summary hash at the head of the ledger.
	LatestHash(ctx context.Context) (string, error)
	// Lookup returns the records matching a summary hash, or ErrNotFound.
	Lookup(ctx context.Context, hash string) (json.RawMessage, error)
	// Since returns the records appended after hash, or every record when
	// hash is empty.
	Since(ctx context.Context, hash string) ([]json.RawMessage, error)
}

// response is the signed JSON envelope every Chronicle endpoint returns.
type response struct {
	Version  string          `json:"version"`
	Datetime string          `json:"datetime"`
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Results  json.RawMessage `json:"results"`
}

// Chronicle is a client for one Chronicle transparency ledger. Every
// response must be signed by the ledger's Ed25519 key before its contents
// are trusted.
type Chronicle struct {
	url       string
	publicKey ed25519.PublicKey
	client    *http.Client
	userAgent string
	logger    logging.Logger
}

// ChronicleOption configures a Chronicle.
type ChronicleOption func(*Chronicle)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ChronicleOption {
	return func(c *Chronicle) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) ChronicleOption {
	return func(c *Chronicle) {
		c.logger = logging.OrNop(logger)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ChronicleOption {
	return func(c *Chronicle) {
		c.userAgent = ua
	}
}

// NewChronicle creates a client for the ledger at baseURL. publicKey may be
// an ed25519.PublicKey, raw key bytes, or base64/hex text.
func NewChronicle(baseURL string, publicKey any, opts ...ChronicleOption) (*Chronicle, error) {
	if baseURL == "" {
		return nil, errors.New("ledger: empty URL")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("ledger: parse URL: %w", err)
	}

	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	c := &Chronicle{
		url:       strings.TrimRight(baseURL, "/"),
		publicKey: pub,
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "valence/1.0",
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parsePublicKey(key any) (ed25519.PublicKey, error) {
	var raw []byte
	switch v := key.(type) {
	case ed25519.PublicKey:
		raw = v
	case []byte:
		raw = v
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "ed25519:")
		if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.PublicKeySize {
			raw = b
			break
		}
		for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
			if b, err := enc.DecodeString(s); err == nil {
				raw = b
				break
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidPublicKey, key)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(append([]byte(nil), raw...)), nil
}

// URL returns the ledger's base URL.
func (c *Chronicle) URL() string {
	return c.url
}

// String identifies the ledger in logs.
func (c *Chronicle) String() string {
	return c.url
}

// LatestHash returns the ledger's current head summary hash.
func (c *Chronicle) LatestHash(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/lasthash")
	if err != nil {
		return "", fmt.Errorf("latest hash: %w", err)
	}

	var results struct {
		SummaryHash string `json:"summary-hash"`
	}
	if err := json.Unmarshal(resp.Results, &results); err != nil {
		return "", fmt.Errorf("latest hash: decode results: %w", err)
	}
	if results.SummaryHash == "" {
		return "", fmt.Errorf("latest hash: response has no summary-hash")
	}
	return results.SummaryHash, nil
}

// Lookup asks the ledger for the records matching hash.
func (c *Chronicle) Lookup(ctx context.Context, hash string) (json.RawMessage, error) {
	if hash == "" {
		return nil, fmt.Errorf("lookup: %w", ErrNotFound)
	}
	resp, err := c.get(ctx, "/lookup/"+url.PathEscape(hash))
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", hash, err)
	}
	if isEmptyResults(resp.Results) {
		return nil, fmt.Errorf("lookup %s: %w", hash, ErrNotFound)
	}
	return resp.Results, nil
}

// Since returns records appended after hash. An empty hash exports the
// whole ledger.
func (c *Chronicle) Since(ctx context.Context, hash string) ([]json.RawMessage, error) {
	path := "/export"
	if hash != "" {
		path = "/since/" + url.PathEscape(hash)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("since %q: %w", hash, err)
	}
	if isEmptyResults(resp.Results) {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(resp.Results, &records); err != nil {
		return nil, fmt.Errorf("since %q: decode results: %w", hash, err)
	}
	return records, nil
}

// get performs a request, checks the body signature, and decodes the
// envelope. Only OK responses are returned.
func (c *Chronicle) get(ctx context.Context, path string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if err := c.checkSignature(resp.Header.Get(SignatureHeader), body); err != nil {
		c.logger.Warn("ledger response failed signature check", "ledger", c.url, "path", path)
		return nil, err
	}

	var envelope response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Status != StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrStatus, envelope.Status, envelope.Message)
	}
	return &envelope, nil
}

func (c *Chronicle) checkSignature(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("%w: missing %s header", ErrBadSignature, SignatureHeader)
	}
	sig, err := base64.URLEncoding.DecodeString(padBase64(header))
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrBadSignature, err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(c.publicKey, body, sig) {
		return ErrBadSignature
	}
	return nil
}

// padBase64 normalizes url-safe or standard base64 to padded url-safe form.
func padBase64(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	if m := len(s) % 4; m != 0 && !strings.HasSuffix(s, "=") {
		s += strings.Repeat("=", 4-m)
	}
	return s
}

func isEmptyResults(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "[]" || s == "{}"
}
