package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/valence/internal/fetch"
	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/policy"
	"github.com/ZebulonRouseFrantzich/valence/internal/release"
)

// ErrMisconfigured is returned by New when a required collaborator is missing.
var ErrMisconfigured = errors.New("updater: misconfigured")

// Fetcher lists and downloads releases.
type Fetcher interface {
	FetchUpdateList(ctx context.Context, project, channel string) (*release.UpdateList, error)
	FetchUpdate(ctx context.Context, downloadPath, mirror string, verifier fetch.ArtifactVerifier) (*release.Artifact, error)
}

// Verifier checks an artifact's signature and records the outcome on it.
type Verifier interface {
	VerifyArtifact(a *release.Artifact) bool
}

// Consensus corroborates a summary hash against independent ledgers.
type Consensus interface {
	Len() int
	ConsensusAgrees(ctx context.Context, summaryHash string) bool
}

// Installer reads and replaces the installed project.
type Installer interface {
	CurrentVersion() (string, error)
	DoUpdate(ctx context.Context, artifact *release.Artifact) (bool, error)
}

// Config holds the collaborators of an Updater.
type Config struct {
	Project  string
	Fetcher  Fetcher
	Verifier Verifier
	// Policy defaults to policy.DefaultSemVer.
	Policy policy.Policy
	// Quorum is optional. With no ledgers it is treated as absent.
	Quorum  Consensus
	Applier Installer
	Logger  logging.Logger
}

// Updater runs the update pipeline for one project.
type Updater struct {
	project  string
	fetcher  Fetcher
	verifier Verifier
	policy   policy.Policy
	quorum   Consensus
	applier  Installer
	logger   logging.Logger
}

// New creates an Updater. Project, Fetcher, Verifier and Applier are required.
func New(cfg Config) (*Updater, error) {
	switch {
	case cfg.Project == "":
		return nil, fmt.Errorf("%w: project is required", ErrMisconfigured)
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher is required", ErrMisconfigured)
	case cfg.Verifier == nil:
		return nil, fmt.Errorf("%w: verifier is required", ErrMisconfigured)
	case cfg.Applier == nil:
		return nil, fmt.Errorf("%w: applier is required", ErrMisconfigured)
	}

	u := &Updater{
		project:  cfg.Project,
		fetcher:  cfg.Fetcher,
		verifier: cfg.Verifier,
		policy:   cfg.Policy,
		quorum:   cfg.Quorum,
		applier:  cfg.Applier,
		logger:   logging.OrNop(cfg.Logger),
	}
	if u.policy == nil {
		u.policy = policy.DefaultSemVer()
	}
	return u, nil
}

// Project returns the project name.
func (u *Updater) Project() string { return u.project }

// Policy returns the update policy in effect.
func (u *Updater) Policy() policy.Policy { return u.policy }

// QuorumConfigured reports whether ledger corroboration is required.
func (u *Updater) QuorumConfigured() bool {
	return u.quorum != nil && u.quorum.Len() >= 1
}

// GetUpdateList returns the candidates offered on channel. Unless
// bypassPolicy is set, only candidates the policy accepts over the
// installed version are kept, in the mirror's order.
func (u *Updater) GetUpdateList(ctx context.Context, channel string, bypassPolicy bool) (*release.UpdateList, error) {
	current, err := u.applier.CurrentVersion()
	if err != nil {
		return nil, fmt.Errorf("read installed version: %w", err)
	}

	list, err := u.fetcher.FetchUpdateList(ctx, u.project, channel)
	if err != nil {
		return nil, fmt.Errorf("fetch update list: %w", err)
	}
	if bypassPolicy {
		u.logger.Debug("policy bypassed", "project", u.project, "candidates", list.Len())
		return list, nil
	}

	filtered := &release.UpdateList{Mirror: list.Mirror}
	for _, c := range list.Updates {
		if u.policy.ShouldUpdate(current, c.Version) {
			filtered.Updates = append(filtered.Updates, c)
		}
	}
	u.logger.Debug("candidates filtered",
		"project", u.project,
		"installed", current,
		"offered", list.Len(),
		"accepted", filtered.Len(),
	)
	return filtered, nil
}

// GetUpdate fetches the first accepted candidate from the mirror that
// listed it. It returns nil when there is nothing to install. The caller
// owns the returned artifact's temp file.
func (u *Updater) GetUpdate(ctx context.Context, channel string, bypassPolicy bool) (*release.Artifact, error) {
	list, err := u.GetUpdateList(ctx, channel, bypassPolicy)
	if err != nil {
		return nil, err
	}
	if list.Len() == 0 {
		return nil, nil
	}

	candidate := list.Updates[0]
	u.logger.Info("fetching update", "project", u.project, "version", candidate.Version, "mirror", list.Mirror)

	artifact, err := u.fetcher.FetchUpdate(ctx, candidate.URL, list.Mirror, u.verifier)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", u.project, candidate.Version, err)
	}
	return artifact, nil
}

// AutoUpdate runs the whole pipeline and reports whether an update was
// applied. force skips the policy filter but none of the trust gates.
func (u *Updater) AutoUpdate(ctx context.Context, channel string, force bool) (bool, error) {
	artifact, err := u.GetUpdate(ctx, channel, force)
	if err != nil {
		return false, err
	}
	if artifact == nil {
		u.logger.Info("no update available", "project", u.project, "channel", channel)
		return false, nil
	}

	if !artifact.Settled() {
		u.verifier.VerifyArtifact(artifact)
	}
	if !artifact.Verified() {
		u.logger.Warn("update rejected: signature not verified", "project", u.project, "key", artifact.PublicKeyID)
		u.discard(artifact)
		return false, nil
	}

	if u.QuorumConfigured() {
		if !u.quorum.ConsensusAgrees(ctx, artifact.SummaryHash) {
			u.discard(artifact)
			if err := ctx.Err(); err != nil {
				return false, err
			}
			u.logger.Warn("update rejected: ledger consensus not reached", "project", u.project, "summary_hash", artifact.SummaryHash)
			return false, nil
		}
		u.logger.Debug("ledger consensus reached", "summary_hash", artifact.SummaryHash)
	}

	applied, err := u.applier.DoUpdate(ctx, artifact)
	if err != nil {
		return false, fmt.Errorf("apply update: %w", err)
	}
	if applied {
		u.logger.Info("update applied", "project", u.project)
	}
	return applied, nil
}

func (u *Updater) discard(a *release.Artifact) {
	if err := a.Remove(); err != nil {
		u.logger.Warn("failed to remove rejected artifact", "path", a.LocalPath, "err", err)
	}
}
