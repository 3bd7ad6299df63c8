package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/apm/pkg/errors"
)

func TestLoadMissing(t *testing.T) {
	lock, err := Load(filepath.Join(t.TempDir(), "amd-lock.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lock.Dependencies) != 0 {
		t.Errorf("missing lock should be empty, got %v", lock.Dependencies)
	}
	if _, ok := lock.PinnedVersion("bar"); ok {
		t.Error("empty lock should pin nothing")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amd-lock.json")
	os.WriteFile(path, []byte("{oops"), 0o644)
	if _, err := Load(path); !errors.Is(err, errors.ErrCodeInvalidLockfile) {
		t.Errorf("Load() error = %v, want INVALID_LOCKFILE", err)
	}
}

func TestPins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amd-lock.json")
	os.WriteFile(path, []byte(`{"dependencies":{
		"bar": {"version": "1.0.0", "integrity": "sha512-abc"},
		"coo": {"vesion": "1.0.0"}
	}}`), 0o644)

	lock, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := lock.PinnedVersion("bar"); !ok || v != "1.0.0" {
		t.Errorf("PinnedVersion(bar) = %q, %v", v, ok)
	}
	if _, ok := lock.PinnedVersion("coo"); ok {
		t.Error("entry without version should not pin")
	}
	if h, ok := lock.PinnedIntegrity("bar", "1.0.0"); !ok || h != "sha512-abc" {
		t.Errorf("PinnedIntegrity(bar, 1.0.0) = %q, %v", h, ok)
	}
	if _, ok := lock.PinnedIntegrity("bar", "1.1.0"); ok {
		t.Error("integrity of another version should not be returned")
	}

	var nilLock *Lockfile
	if _, ok := nilLock.PinnedVersion("bar"); ok {
		t.Error("nil lock should pin nothing")
	}
}

func TestSaveDeterministic(t *testing.T) {
	dir := t.TempDir()
	build := func() *Lockfile {
		l := New("index", "1.0.0")
		l.Set("zed", Entry{Version: "2.0.0", Integrity: "sha512-z"})
		l.Set("bar", Entry{Version: "1.0.0", Integrity: "sha512-b", Resolved: "http://r/bar.tgz"})
		l.Set("@scope/foo", Entry{Version: "0.1.0", Dependencies: map[string]string{"zed": "^2.0.0", "bar": "*"}})
		return l
	}

	a, b := filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")
	if err := build().Save(a); err != nil {
		t.Fatal(err)
	}
	if err := build().Save(b); err != nil {
		t.Fatal(err)
	}
	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if !bytes.Equal(da, db) {
		t.Error("saving the same lock twice should be byte-identical")
	}

	s := string(da)
	if !(strings.Index(s, `"@scope/foo"`) < strings.Index(s, `"bar"`) && strings.Index(s, `"bar"`) < strings.Index(s, `"zed"`)) {
		t.Errorf("keys should be sorted:\n%s", s)
	}
	if strings.Index(s, `"name"`) > strings.Index(s, `"dependencies"`) {
		t.Errorf("root fields should come first:\n%s", s)
	}

	reloaded, err := Load(a)
	if err != nil {
		t.Fatal(err)
	}
	if e, _ := reloaded.Pinned("bar"); e.Resolved != "http://r/bar.tgz" {
		t.Errorf("resolved = %q", e.Resolved)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
