package updater

import (
	"fmt"
	"net/http"

	"github.com/ZebulonRouseFrantzich/valence/internal/apply"
	"github.com/ZebulonRouseFrantzich/valence/internal/config"
	"github.com/ZebulonRouseFrantzich/valence/internal/fetch"
	"github.com/ZebulonRouseFrantzich/valence/internal/keyring"
	"github.com/ZebulonRouseFrantzich/valence/internal/ledger"
	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/platform"
	"github.com/ZebulonRouseFrantzich/valence/internal/randutil"
)

// Stack is an Updater together with the concrete components it was built
// from, for callers that need more than AutoUpdate.
type Stack struct {
	Updater  *Updater
	Fetcher  *fetch.Fetcher
	Verifier *keyring.Verifier
	// Quorum is nil when no ledgers are configured.
	Quorum  *ledger.Quorum
	Ledgers []*ledger.Chronicle
	Applier *apply.Applier
}

type buildOptions struct {
	logger    logging.Logger
	client    *http.Client
	platform  *platform.Info
	source    randutil.Source
	tempDir   string
	userAgent string
}

// Option configures FromConfig.
type Option func(*buildOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(logger logging.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithHTTPClient sets the client used for mirrors and ledgers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *buildOptions) { o.client = client }
}

// WithPlatform reports the host platform to mirrors.
func WithPlatform(info *platform.Info) Option {
	return func(o *buildOptions) { o.platform = info }
}

// WithSource sets the randomness used for mirror and ledger selection.
func WithSource(src randutil.Source) Option {
	return func(o *buildOptions) { o.source = src }
}

// WithTempDir sets where downloads are staged.
func WithTempDir(dir string) Option {
	return func(o *buildOptions) { o.tempDir = dir }
}

// WithUserAgent sets the User-Agent sent to mirrors and ledgers.
func WithUserAgent(ua string) Option {
	return func(o *buildOptions) { o.userAgent = ua }
}

// FromConfig builds the full pipeline described by cfg.
func FromConfig(cfg *config.Config, opts ...Option) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrMisconfigured)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	dir, err := cfg.ProjectDir()
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	verifier := keyring.NewVerifier(logger)
	for i, k := range cfg.PublicKeys {
		if _, err := verifier.AddPublicKey(k); err != nil {
			return nil, fmt.Errorf("public key %d: %w", i+1, err)
		}
	}

	stack := &Stack{Verifier: verifier}

	chronicleOpts := []ledger.ChronicleOption{ledger.WithLogger(logger)}
	if o.client != nil {
		chronicleOpts = append(chronicleOpts, ledger.WithHTTPClient(o.client))
	}
	if o.userAgent != "" {
		chronicleOpts = append(chronicleOpts, ledger.WithUserAgent(o.userAgent))
	}
	var ledgers []ledger.Ledger
	for i, l := range cfg.Ledgers {
		c, err := ledger.NewChronicle(l.URL, l.PublicKey, chronicleOpts...)
		if err != nil {
			return nil, fmt.Errorf("ledger %d: %w", i+1, err)
		}
		stack.Ledgers = append(stack.Ledgers, c)
		ledgers = append(ledgers, c)
	}

	var consensus Consensus
	if len(ledgers) > 0 {
		stack.Quorum = ledger.NewQuorum(ledger.QuorumConfig{
			Samples:   cfg.Quorum.Samples,
			Threshold: cfg.Quorum.Threshold,
			Ledgers:   ledgers,
			Source:    o.source,
			Logger:    logger,
		})
		consensus = stack.Quorum
	}

	pol, err := cfg.Policy.Build()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	stack.Fetcher = fetch.New(fetch.Options{
		Mirrors:     cfg.Mirrors,
		AccessToken: cfg.AccessToken,
		Client:      o.client,
		Platform:    o.platform,
		UserAgent:   o.userAgent,
		TempDir:     o.tempDir,
		Logger:      logger,
		Source:      o.source,
	})
	stack.Applier = apply.New(dir, apply.WithLogger(logger))

	stack.Updater, err = New(Config{
		Project:  cfg.Project,
		Fetcher:  stack.Fetcher,
		Verifier: verifier,
		Policy:   pol,
		Quorum:   consensus,
		Applier:  stack.Applier,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return stack, nil
}
