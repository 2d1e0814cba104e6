// Package transaction keeps a journal of update and rollback attempts
// against an installation, and serializes those attempts with a lock file.
package transaction

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// SchemaVersion is written into every journal entry.
const SchemaVersion = 1

// State is the progress of one attempt.
type State string

const (
	StatePending     State = "pending"
	StateSnapshotted State = "snapshotted"
	StateApplied     State = "applied"
	StateRestored    State = "restored"
	StateFailed      State = "failed"
)

// Operation is the kind of attempt.
type Operation string

const (
	OperationUpdate   Operation = "update"
	OperationRollback Operation = "rollback"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// UpdateTxn is one journal entry.
type UpdateTxn struct {
	Version     int        `json:"version"`
	ID          string     `json:"id"`
	Operation   Operation  `json:"operation"`
	Root        string     `json:"root"`
	FromVersion string     `json:"from_version"`
	ToVersion   string     `json:"to_version,omitempty"`
	Artifact    string     `json:"artifact_blake3,omitempty"`
	Snapshot    string     `json:"snapshot,omitempty"`
	State       State      `json:"state"`
	Started     time.Time  `json:"started"`
	Finished    *time.Time `json:"finished,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// New starts a journal entry for op against root at fromVersion.
func New(op Operation, root, fromVersion string, clock Clock) *UpdateTxn {
	if clock == nil {
		clock = SystemClock{}
	}
	return &UpdateTxn{
		Version:     SchemaVersion,
		ID:          uuid.New().String(),
		Operation:   op,
		Root:        root,
		FromVersion: fromVersion,
		State:       StatePending,
		Started:     clock.Now().UTC(),
	}
}

// DigestArtifact records the BLAKE3 digest of the archive at path.
func (t *UpdateTxn) DigestArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	t.Artifact = hex.EncodeToString(h.Sum(nil))
	return nil
}

// SetState moves the entry to state and records err, if any.
func (t *UpdateTxn) SetState(state State, err error) {
	t.State = state
	if err != nil {
		t.LastError = err.Error()
	} else {
		t.LastError = ""
	}
}

// Finish stamps the entry as done at the clock's current time.
func (t *UpdateTxn) Finish(clock Clock) {
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now().UTC()
	t.Finished = &now
}

// Done reports whether the attempt reached a terminal state.
func (t *UpdateTxn) Done() bool {
	switch t.State {
	case StateApplied, StateRestored, StateFailed:
		return true
	}
	return false
}

// RestoreVersion is the version whose snapshot returns the tree to a
// known state after this attempt was interrupted.
func (t *UpdateTxn) RestoreVersion() string {
	if t.Operation == OperationRollback {
		return t.ToVersion
	}
	return t.FromVersion
}

func (t *UpdateTxn) filename() string {
	return fmt.Sprintf("txn-%s-%s.json", t.Operation, t.ID)
}

// Save writes the entry into dir with write-then-rename.
func (t *UpdateTxn) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	finalPath := filepath.Join(dir, t.filename())
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary journal file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal file: %w", err)
	}

	if df, err := os.Open(dir); err == nil {
		syncErr := df.Sync()
		df.Close()
		if syncErr != nil {
			return fmt.Errorf("sync journal directory: %w", syncErr)
		}
	}
	return nil
}

// Load reads one journal entry.
func Load(path string) (*UpdateTxn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}
	var txn UpdateTxn
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("unmarshal journal entry: %w", err)
	}
	return &txn, nil
}

// List returns every entry in dir, oldest first. A missing dir is empty.
func List(dir string) ([]*UpdateTxn, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	var txns []*UpdateTxn
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "txn-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		txn, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Started.Before(txns[j].Started)
	})
	return txns, nil
}

// Incomplete returns entries that never reached a terminal state, which
// means a process died mid-apply.
func Incomplete(dir string) ([]*UpdateTxn, error) {
	txns, err := List(dir)
	if err != nil {
		return nil, err
	}
	var out []*UpdateTxn
	for _, t := range txns {
		if !t.Done() {
			out = append(out, t)
		}
	}
	return out, nil
}
