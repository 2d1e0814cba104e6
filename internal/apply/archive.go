package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

type entry struct {
	target string
	dir    bool
	mode   os.FileMode
	file   *zip.File
}

// archive is a release zip whose entries have all been checked against
// the project root.
type archive struct {
	reader  *zip.ReadCloser
	entries []entry
}

// openArchive opens the zip at path and validates every entry before
// returning, so a bad entry is caught before anything is written.
func openArchive(archivePath, root string) (*archive, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	entries := make([]entry, 0, len(r.File))
	for _, f := range r.File {
		target, err := entryTarget(root, f.Name)
		if err != nil {
			r.Close()
			return nil, err
		}
		if target == "" {
			continue
		}

		mode := f.Mode()
		if mode.Type() != 0 && !mode.IsDir() {
			r.Close()
			return nil, fmt.Errorf("%w: %s is not a file or directory", ErrUnsafePath, f.Name)
		}

		e := entry{target: target, file: f, dir: mode.IsDir() || strings.HasSuffix(f.Name, "/")}
		if err := checkLiveLinks(root, realRoot, e); err != nil {
			r.Close()
			return nil, err
		}
		e.mode = mode.Perm() &^ 0o022
		if e.mode == 0 {
			e.mode = 0o644
			if e.dir {
				e.mode = 0o755
			}
		}
		entries = append(entries, e)
	}
	return &archive{reader: r, entries: entries}, nil
}

// entryTarget maps an entry name onto a path under root. Names that are
// absolute or climb out of root are rejected; "." maps to "".
func entryTarget(root, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}

	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	local := filepath.FromSlash(clean)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q escapes the project root", ErrUnsafePath, name)
	}
	return filepath.Join(root, local), nil
}

// checkLiveLinks walks the components of e.target that already exist in the
// live tree. A symlink on the way must resolve inside root, otherwise the
// overlay would write outside the project where no snapshot can undo it.
// A symlink at the target of a file entry is allowed; writeEntry replaces
// the link itself.
func checkLiveLinks(root, realRoot string, e entry) error {
	rel, err := filepath.Rel(root, e.target)
	if err != nil {
		return err
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := root
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inspect %s: %w", cur, err)
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			continue
		}
		if i == len(parts)-1 && !e.dir {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(cur)
		if err != nil {
			return fmt.Errorf("%w: %s is a dangling symlink", ErrUnsafePath, rel)
		}
		inside, err := filepath.Rel(realRoot, resolved)
		if err != nil || !filepath.IsLocal(inside) {
			return fmt.Errorf("%w: %s passes through a symlink leaving the project root", ErrUnsafePath, rel)
		}
	}
	return nil
}

func (a *archive) Close() error {
	return a.reader.Close()
}

// overlay writes every entry over the live tree. Directories are created,
// files truncated and rewritten.
func (a *archive) overlay(ctx context.Context) error {
	for _, e := range a.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.dir {
			if err := os.MkdirAll(e.target, e.mode|0o700); err != nil {
				return fmt.Errorf("create directory %s: %w", e.target, err)
			}
			continue
		}
		if err := writeEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(e entry) error {
	if err := os.MkdirAll(filepath.Dir(e.target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", e.target, err)
	}

	src, err := e.file.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", e.file.Name, err)
	}
	defer src.Close()

	// Never write through a link; the snapshot holds the link, not its target.
	if info, err := os.Lstat(e.target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(e.target); err != nil {
			return fmt.Errorf("replace symlink %s: %w", e.target, err)
		}
	}

	out, err := os.OpenFile(e.target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, e.mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", e.target, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", e.target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", e.target, err)
	}
	if err := os.Chmod(e.target, e.mode); err != nil {
		return fmt.Errorf("set mode on %s: %w", e.target, err)
	}
	return nil
}
