package apply

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tidwall/jsonc"
	"golang.org/x/crypto/blake2b"

	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/release"
	"github.com/ZebulonRouseFrantzich/valence/internal/transaction"
)

const (
	// ManifestName is the installed manifest at the project root.
	ManifestName = "valence.json"
	// RollbackDirName holds snapshots, beside the project root.
	RollbackDirName = ".rollback"
	// StateDirName holds the lock and journal, beside the project root.
	StateDirName = ".valence"
)

var (
	ErrNotADirectory       = errors.New("project root is not a directory")
	ErrManifestMissing     = errors.New("installed manifest missing")
	ErrVersionFieldMissing = errors.New("installed manifest has no version")
	// ErrApplyFailed wraps an overlay failure after the live tree was
	// restored from its snapshot.
	ErrApplyFailed = errors.New("apply failed")
	// ErrUnsafePath is returned for archive entries that would land
	// outside the project root.
	ErrUnsafePath = errors.New("unsafe archive entry")
	ErrNoSnapshot = errors.New("no rollback snapshot")
	// ErrInterrupted reports an earlier attempt that died and may have
	// left the tree half written.
	ErrInterrupted = errors.New("an earlier attempt was interrupted")
)

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Applier) { a.logger = logging.OrNop(logger) }
}

// WithJournalDir overrides where journal entries are written.
func WithJournalDir(dir string) Option {
	return func(a *Applier) { a.journalDir = dir }
}

// WithClock sets the clock used to stamp journal entries.
func WithClock(clock transaction.Clock) Option {
	return func(a *Applier) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// Applier installs archives into one project root.
type Applier struct {
	root       string
	journalDir string
	logger     logging.Logger
	clock      transaction.Clock
}

// New creates an Applier for the project at projectDir.
func New(projectDir string, opts ...Option) *Applier {
	root := filepath.Clean(projectDir)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	a := &Applier{
		root:   root,
		logger: logging.Nop(),
		clock:  transaction.SystemClock{},
	}
	a.journalDir = filepath.Join(a.StateDir(), "journal")
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root returns the project root.
func (a *Applier) Root() string { return a.root }

// StateDir returns the directory holding the lock and journal.
func (a *Applier) StateDir() string {
	return filepath.Join(filepath.Dir(a.root), StateDirName)
}

func (a *Applier) rollbackBase() string {
	return filepath.Join(filepath.Dir(a.root), RollbackDirName)
}

// Lock takes the cross-process update lock for this installation.
func (a *Applier) Lock(ctx context.Context) (*transaction.Lock, error) {
	return transaction.AcquireLock(ctx, a.StateDir())
}

// Journal returns the recorded update and rollback attempts, oldest first.
func (a *Applier) Journal() ([]*transaction.UpdateTxn, error) {
	return transaction.List(a.journalDir)
}

// Interrupted returns journal entries whose process died before they
// finished.
func (a *Applier) Interrupted() ([]*transaction.UpdateTxn, error) {
	return transaction.Incomplete(a.journalDir)
}

// CheckInterrupted looks for an earlier attempt that may have left the
// tree half written and returns the first one found, or nil. Updates that
// died before their snapshot completed never touched the tree; they are
// closed as failed and skipped. Callers hold Lock.
func (a *Applier) CheckInterrupted() (*transaction.UpdateTxn, error) {
	txns, err := a.Interrupted()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for _, txn := range txns {
		if txn.Operation == transaction.OperationUpdate && txn.State == transaction.StatePending {
			a.logger.Warn("closing update interrupted before the tree changed", "id", txn.ID, "from", txn.FromVersion)
			a.finish(txn, transaction.StateFailed, errors.New("interrupted before the tree was modified"))
			continue
		}
		return txn, nil
	}
	return nil, nil
}

// CurrentVersion reads the version from the installed manifest.
func (a *Applier) CurrentVersion() (string, error) {
	return readVersion(a.root)
}

func readVersion(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}

	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrManifestMissing, filepath.Join(root, ManifestName))
		}
		return "", fmt.Errorf("%w: %v", ErrVersionFieldMissing, err)
	}

	var manifest map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &manifest); err != nil {
		return "", fmt.Errorf("%w: parse manifest: %v", ErrVersionFieldMissing, err)
	}
	version, ok := manifest["version"].(string)
	if !ok || version == "" {
		return "", ErrVersionFieldMissing
	}
	return version, nil
}

// SnapshotKey returns the directory name used for the snapshot of version.
func SnapshotKey(version string) string {
	sum := blake2b.Sum256([]byte(version))
	return hex.EncodeToString(sum[:])
}

// RollbackDir returns an empty snapshot directory for the installed
// version. Anything already there is removed first.
func (a *Applier) RollbackDir() (string, error) {
	version, err := a.CurrentVersion()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(a.rollbackBase(), SnapshotKey(version))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear stale snapshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	return dir, nil
}

// DoUpdate installs a verified artifact. An unverified artifact is refused
// with false and nothing on disk is touched.
//
// For a verified artifact the archive is checked, the tree snapshotted and
// the archive overlaid. An overlay failure restores the snapshot and is
// reported as ErrApplyFailed. The artifact's temporary file is removed
// once the attempt is over, whatever its outcome.
func (a *Applier) DoUpdate(ctx context.Context, artifact *release.Artifact) (bool, error) {
	if artifact == nil || !artifact.Verified() {
		a.logger.Warn("refusing to apply unverified artifact")
		return false, nil
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			a.logger.Warn("remove artifact", "path", artifact.LocalPath, "err", err)
		}
	}()

	from, err := a.CurrentVersion()
	if err != nil {
		return false, err
	}

	archive, err := openArchive(artifact.LocalPath, a.root)
	if err != nil {
		return false, err
	}
	defer archive.Close()

	txn := transaction.New(transaction.OperationUpdate, a.root, from, a.clock)
	if err := txn.DigestArtifact(artifact.LocalPath); err != nil {
		a.logger.Warn("digest artifact", "err", err)
	}
	a.record(txn)

	snapshot, err := a.RollbackDir()
	if err != nil {
		a.finish(txn, transaction.StateFailed, err)
		return false, err
	}
	if err := copyTree(ctx, a.root, snapshot); err != nil {
		a.finish(txn, transaction.StateFailed, err)
		return false, fmt.Errorf("snapshot %s: %w", a.root, err)
	}
	txn.Snapshot = snapshot
	txn.SetState(transaction.StateSnapshotted, nil)
	a.record(txn)
	a.logger.Debug("snapshot taken", "version", from, "path", snapshot)

	if err := archive.overlay(ctx); err != nil {
		a.logger.Error("overlay failed, restoring snapshot", "err", err)
		if restoreErr := restoreTree(a.root, snapshot); restoreErr != nil {
			a.finish(txn, transaction.StateFailed, errors.Join(err, restoreErr))
			return false, fmt.Errorf("%w: %v (restore also failed: %v)", ErrApplyFailed, err, restoreErr)
		}
		a.finish(txn, transaction.StateRestored, err)
		return false, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	to, err := a.CurrentVersion()
	if err != nil {
		a.logger.Warn("updated tree has no readable version", "err", err)
	}
	txn.ToVersion = to
	a.finish(txn, transaction.StateApplied, nil)
	a.logger.Info("update applied", "from", from, "to", to)
	return true, nil
}

// Rollback replaces the live tree with the snapshot taken while version
// was installed.
func (a *Applier) Rollback(ctx context.Context, version string) error {
	snapshot := filepath.Join(a.rollbackBase(), SnapshotKey(version))
	info, err := os.Stat(snapshot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w for version %s", ErrNoSnapshot, version)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := a.CurrentVersion()
	if err != nil {
		a.logger.Warn("rolling back over unreadable installation", "err", err)
	}
	interrupted, err := a.Interrupted()
	if err != nil {
		a.logger.Warn("read journal", "err", err)
	}

	txn := transaction.New(transaction.OperationRollback, a.root, from, a.clock)
	txn.ToVersion = version
	txn.Snapshot = snapshot
	a.record(txn)

	if err := restoreTree(a.root, snapshot); err != nil {
		a.finish(txn, transaction.StateFailed, err)
		return fmt.Errorf("restore snapshot: %w", err)
	}
	a.finish(txn, transaction.StateRestored, nil)

	// The tree is now a known snapshot, so earlier interrupted attempts
	// are settled.
	for _, old := range interrupted {
		a.finish(old, transaction.StateFailed, fmt.Errorf("interrupted; tree rolled back to %s", version))
	}
	a.logger.Info("rolled back", "from", from, "to", version)
	return nil
}

// Snapshot describes one rollback snapshot on disk.
type Snapshot struct {
	Key     string
	Version string
	Path    string
	ModTime time.Time
}

// Snapshots lists the rollback snapshots, newest first. Version is empty
// when the snapshot has no readable manifest.
func (a *Applier) Snapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(a.rollbackBase())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(a.rollbackBase(), e.Name())
		s := Snapshot{Key: e.Name(), Path: path}
		if info, err := e.Info(); err == nil {
			s.ModTime = info.ModTime()
		}
		if v, err := readVersion(path); err == nil {
			s.Version = v
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

func (a *Applier) record(txn *transaction.UpdateTxn) {
	if err := txn.Save(a.journalDir); err != nil {
		a.logger.Warn("write journal entry", "id", txn.ID, "err", err)
	}
}

func (a *Applier) finish(txn *transaction.UpdateTxn, state transaction.State, err error) {
	txn.SetState(state, err)
	txn.Finish(a.clock)
	a.record(txn)
}
