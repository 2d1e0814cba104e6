// Package fetch talks to update mirrors: it lists the releases a mirror
// offers for a project and downloads a chosen release into a private
// temporary file together with its authenticity headers.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/valence/internal/keyring"
	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/platform"
	"github.com/ZebulonRouseFrantzich/valence/internal/randutil"
	"github.com/ZebulonRouseFrantzich/valence/internal/release"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is how many times a failed request is retried.
	DefaultRetries = 3
	// DefaultBackoff is the delay before the first retry. It doubles per attempt.
	DefaultBackoff = time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "valence/1.0"

	HeaderAccess      = "Valence-Access"
	HeaderPlatform    = "Valence-Platform"
	HeaderSignature   = "Valence-Signature"
	HeaderPublicKeyID = "Valence-Public-Key-Id"
	HeaderSummaryHash = "Chronicle-Summary-Hash"

	// TempPattern names downloaded artifacts.
	TempPattern = "valence-*.zip"

	maxListSize = 8 << 20
)

var (
	// ErrMalformedManifest is returned when a mirror's update list has no
	// updates field.
	ErrMalformedManifest = errors.New("malformed update manifest")
	// ErrNoMirrors is returned when no mirror is configured.
	ErrNoMirrors = errors.New("no mirrors configured")
	// ErrMissingSignature is returned when a download carries no signature
	// or key id header.
	ErrMissingSignature = errors.New("artifact has no signature")
)

// statusError is a non-200 response. 5xx responses are retried.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, ErrMalformedManifest) && !errors.Is(err, ErrMissingSignature)
}

// ArtifactVerifier checks a downloaded artifact and records the outcome
// on it.
type ArtifactVerifier interface {
	VerifyArtifact(a *release.Artifact) bool
}

// Options configures a Fetcher.
type Options struct {
	Mirrors     []string
	AccessToken string
	// Client defaults to an http.Client with DefaultTimeout.
	Client *http.Client
	// Platform, when set, is sent as "os/arch" in HeaderPlatform.
	Platform *platform.Info
	// Retries is the retry count. Zero means DefaultRetries; negative
	// disables retries.
	Retries int
	// Backoff defaults to DefaultBackoff.
	Backoff   time.Duration
	UserAgent string
	// TempDir holds downloads. Defaults to os.TempDir().
	TempDir string
	Logger  logging.Logger
	// Source picks mirrors. Defaults to crypto/rand.
	Source randutil.Source
}

// Fetcher downloads update lists and artifacts from mirrors.
type Fetcher struct {
	mu      sync.RWMutex
	mirrors []string
	pinned  string
	token   string

	client    *http.Client
	platform  string
	retries   int
	backoff   time.Duration
	userAgent string
	tempDir   string
	logger    logging.Logger
	source    randutil.Source
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		token:     opts.AccessToken,
		client:    opts.Client,
		platform:  opts.Platform.Tag(),
		retries:   opts.Retries,
		backoff:   opts.Backoff,
		userAgent: opts.UserAgent,
		tempDir:   opts.TempDir,
		logger:    logging.OrNop(opts.Logger),
		source:    randutil.OrDefault(opts.Source),
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}
	switch {
	case f.retries == 0:
		f.retries = DefaultRetries
	case f.retries < 0:
		f.retries = 0
	}
	if f.backoff <= 0 {
		f.backoff = DefaultBackoff
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	for _, m := range opts.Mirrors {
		f.AddMirror(m)
	}
	return f
}

// AddMirror adds a mirror base URL. Trailing slashes are dropped.
func (f *Fetcher) AddMirror(mirror string) *Fetcher {
	mirror = strings.TrimRight(strings.TrimSpace(mirror), "/")
	if mirror == "" {
		return f
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrors = append(f.mirrors, mirror)
	return f
}

// SetAccessToken sets the token sent in HeaderAccess.
func (f *Fetcher) SetAccessToken(token string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	return f
}

// Pin makes every request use mirror. An empty mirror restores random
// selection.
func (f *Fetcher) Pin(mirror string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = strings.TrimRight(strings.TrimSpace(mirror), "/")
	return f
}

// Mirrors returns the configured mirrors.
func (f *Fetcher) Mirrors() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.mirrors...)
}

// Mirror returns the pinned mirror, or one chosen uniformly at random.
func (f *Fetcher) Mirror() (string, error) {
	f.mu.RLock()
	pinned := f.pinned
	mirrors := f.mirrors
	f.mu.RUnlock()

	if pinned != "" {
		return pinned, nil
	}
	if len(mirrors) == 0 {
		return "", ErrNoMirrors
	}
	i, err := f.source.Intn(len(mirrors))
	if err != nil {
		return "", fmt.Errorf("choose mirror: %w", err)
	}
	return mirrors[i], nil
}

// FetchUpdateList asks a mirror which releases it offers for project on
// channel. An empty channel asks for the mirror's default. The candidates
// are returned unfiltered in the mirror's order.
func (f *Fetcher) FetchUpdateList(ctx context.Context, project, channel string) (*release.UpdateList, error) {
	if project == "" {
		return nil, errors.New("fetch update list: empty project name")
	}
	mirror, err := f.Mirror()
	if err != nil {
		return nil, fmt.Errorf("fetch update list: %w", err)
	}

	endpoint := mirror + "/updates/" + url.PathEscape(project)
	if channel != "" {
		endpoint += "/" + url.PathEscape(channel)
	}

	var list *release.UpdateList
	err = f.withRetry(ctx, endpoint, func() error {
		l, err := f.getList(ctx, endpoint)
		if err != nil {
			return err
		}
		list = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch update list from %s: %w", mirror, err)
	}
	list.Mirror = mirror

	f.logger.Debug("fetched update list", "mirror", mirror, "project", project, "channel", channel, "candidates", list.Len())
	return list, nil
}

func (f *Fetcher) getList(ctx context.Context, endpoint string) (*release.UpdateList, error) {
	resp, err := f.do(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Updates json.RawMessage `json:"updates"`
		Info    string          `json:"info"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if len(body.Updates) == 0 || string(body.Updates) == "null" {
		if body.Info != "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformedManifest, body.Info)
		}
		return nil, ErrMalformedManifest
	}

	var updates []release.Candidate
	if err := json.Unmarshal(body.Updates, &updates); err != nil {
		return nil, fmt.Errorf("%w: updates: %v", ErrMalformedManifest, err)
	}
	return &release.UpdateList{Updates: updates}, nil
}

// FetchUpdate downloads mirror+downloadPath into a private temporary file.
// An empty mirror picks one. The signature, key id and summary hash are
// taken from the response headers. When verifier is non-nil the artifact
// is verified before it is returned; otherwise it stays unverified.
//
// The caller owns the returned artifact's file and must Remove it.
func (f *Fetcher) FetchUpdate(ctx context.Context, downloadPath, mirror string, verifier ArtifactVerifier) (*release.Artifact, error) {
	if mirror == "" {
		m, err := f.Mirror()
		if err != nil {
			return nil, fmt.Errorf("fetch update: %w", err)
		}
		mirror = m
	}
	endpoint := joinURL(mirror, downloadPath)

	var artifact *release.Artifact
	err := f.withRetry(ctx, endpoint, func() error {
		a, err := f.download(ctx, endpoint)
		if err != nil {
			return err
		}
		artifact = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch update %s: %w", endpoint, err)
	}

	if verifier != nil {
		ok := verifier.VerifyArtifact(artifact)
		f.logger.Debug("artifact verification", "url", endpoint, "key", artifact.PublicKeyID, "verified", ok)
	}
	return artifact, nil
}

func (f *Fetcher) download(ctx context.Context, endpoint string) (*release.Artifact, error) {
	resp, err := f.do(ctx, endpoint, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sigText := resp.Header.Get(HeaderSignature)
	keyID := strings.TrimSpace(resp.Header.Get(HeaderPublicKeyID))
	if sigText == "" || keyID == "" {
		return nil, ErrMissingSignature
	}
	sig, err := keyring.DecodeSignature(sigText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingSignature, err)
	}

	tmp, err := os.CreateTemp(f.tempDir, TempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return nil, fmt.Errorf("restrict temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, fmt.Errorf("copy response body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	cleanupNeeded = false
	return &release.Artifact{
		LocalPath:   tmpPath,
		Signature:   sig,
		PublicKeyID: keyID,
		SummaryHash: strings.TrimSpace(resp.Header.Get(HeaderSummaryHash)),
	}, nil
}

// do sends a GET with the standard headers and returns the response when
// its status is 200.
func (f *Fetcher) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	if token != "" {
		req.Header.Set(HeaderAccess, token)
	}
	if f.platform != "" {
		req.Header.Set(HeaderPlatform, f.platform)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode}
	}
	return resp, nil
}

// withRetry runs op until it succeeds, fails permanently, or runs out of
// retries, backing off exponentially between attempts.
func (f *Fetcher) withRetry(ctx context.Context, endpoint string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			backoff := f.backoff << uint(attempt-1)
			f.logger.Debug("retrying request", "url", endpoint, "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("failed after %d retries: %w", f.retries, lastErr)
}

func joinURL(mirror, path string) string {
	mirror = strings.TrimRight(mirror, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return mirror + path
}
