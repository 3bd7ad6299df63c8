// Package store is the on-disk cache of downloaded package archives.
//
// Archives are keyed by name and version and laid out as
//
//	<dir>/<name>/<version>/package.tgz
//
// An entry only appears once it has been fully written: [Store.Create]
// returns a writer backed by a temp file that [Writer.Commit] renames into
// place. Entries are never trusted blindly; the installer re-verifies a hit
// and evicts it on mismatch, so a torn write from a racing process heals on
// the next run.
package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/apm/pkg/errors"
)

// ArchiveName is the file name of a stored archive.
const ArchiveName = "package.tgz"

// Store is an archive cache rooted at a directory.
type Store struct {
	dir string
}

// New opens (and creates) the store at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) entryDir(name, version string) (string, error) {
	rel := name + "/" + version
	if err := errors.ValidatePath(rel); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(rel)), nil
}

// Path returns where the archive for name@version lives, whether or not it
// exists.
func (s *Store) Path(name, version string) string {
	dir, err := s.entryDir(name, version)
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ArchiveName)
}

// Lookup reports whether an archive for name@version is stored.
func (s *Store) Lookup(name, version string) (string, bool) {
	p := s.Path(name, version)
	if p == "" {
		return "", false
	}
	fi, err := os.Stat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

// Open opens the stored archive for reading.
func (s *Store) Open(name, version string) (*os.File, error) {
	p, ok := s.Lookup(name, version)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return os.Open(p)
}

// Writer receives an archive being downloaded.
type Writer struct {
	f     *os.File
	final string
	done  bool
}

// Create starts a new entry for name@version. The caller must call Commit
// or Abort.
func (s *Store) Create(name, version string) (*Writer, error) {
	dir, err := s.entryDir(name, version)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, "."+uuid.NewString()+".tmp"))
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, final: filepath.Join(dir, ArchiveName)}, nil
}

func (w *Writer) Write(p []byte) (int, error) { return w.f.Write(p) }

// Commit makes the entry visible.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.final); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	return nil
}

// Abort discards the partial entry. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// Evict removes the entry for name@version.
func (s *Store) Evict(name, version string) error {
	dir, err := s.entryDir(name, version)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Entry describes one stored archive.
type Entry struct {
	Name    string
	Version string
	Size    int64
	ModTime time.Time
}

// Entries lists every stored archive, sorted by name then version.
func (s *Store) Entries() ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable paths, continue walking
		}
		if d.IsDir() || d.Name() != ArchiveName {
			return nil
		}
		rel, err := filepath.Rel(s.dir, filepath.Dir(path))
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		i := strings.LastIndex(rel, "/")
		if i <= 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Entry{
			Name:    rel[:i],
			Version: rel[i+1:],
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, err
}

// Size returns the total size of stored archives in bytes.
func (s *Store) Size() (int64, error) {
	entries, err := s.Entries()
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, err
}

// Clear removes every stored archive and returns how many were deleted.
func (s *Store) Clear() (int, error) {
	entries, err := s.Entries()
	if err != nil {
		return 0, err
	}
	top, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, e := range top {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
