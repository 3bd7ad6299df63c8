// Package lockfile reads and writes amd-lock.json.
//
// The lock file pins every resolved package to an exact version and content
// hash so later installs reproduce the same tree:
//
//	{
//	  "name": "index",
//	  "version": "1.0.0",
//	  "dependencies": {
//	    "bar": {"version": "1.0.0", "integrity": "sha512-...", "resolved": "https://..."}
//	  }
//	}
//
// Entries may also record the resolved URL and the package's own
// dependency ranges; with both present, a pinned package can be bound
// without asking the registry.
package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/matzehuels/apm/pkg/errors"
)

// Entry pins one package.
type Entry struct {
	Version      string            `json:"version"`
	Integrity    string            `json:"integrity,omitempty"`
	Resolved     string            `json:"resolved,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Lockfile is the parsed lock document. A nil *Lockfile pins nothing.
type Lockfile struct {
	Name         string           `json:"name,omitempty"`
	Version      string           `json:"version,omitempty"`
	Dependencies map[string]Entry `json:"dependencies"`
}

// New returns an empty lock for the named root package.
func New(name, version string) *Lockfile {
	return &Lockfile{Name: name, Version: version, Dependencies: map[string]Entry{}}
}

// Load reads the lock file at path. A missing file yields an empty lock.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New("", ""), nil
	}
	if err != nil {
		return nil, err
	}
	var lock Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidLockfile, err, "failed to load lockfile %s", path)
	}
	if lock.Dependencies == nil {
		lock.Dependencies = map[string]Entry{}
	}
	return &lock, nil
}

// Pinned returns the entry for name if it pins a version.
func (l *Lockfile) Pinned(name string) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	e, ok := l.Dependencies[name]
	if !ok || e.Version == "" {
		return Entry{}, false
	}
	return e, true
}

// PinnedVersion returns the locked version of name.
func (l *Lockfile) PinnedVersion(name string) (string, bool) {
	e, ok := l.Pinned(name)
	return e.Version, ok
}

// PinnedIntegrity returns the locked hash of name, provided the lock pins
// the same version.
func (l *Lockfile) PinnedIntegrity(name, version string) (string, bool) {
	e, ok := l.Pinned(name)
	if !ok || e.Integrity == "" || (version != "" && e.Version != version) {
		return "", false
	}
	return e.Integrity, true
}

// Set records an entry.
func (l *Lockfile) Set(name string, e Entry) {
	if l.Dependencies == nil {
		l.Dependencies = map[string]Entry{}
	}
	l.Dependencies[name] = e
}

// Marshal encodes the lock with sorted keys and two-space indentation.
func (l *Lockfile) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the lock to path atomically.
func (l *Lockfile) Save(path string) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
