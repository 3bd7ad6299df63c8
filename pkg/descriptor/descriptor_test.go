package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/apm/pkg/errors"
)

func TestParseMainEntry(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"default", `{"name":"foo"}`, "index.js"},
		{"main", `{"name":"foo","main":"./lib/foo.js"}`, "lib/foo.js"},
		{"browser string wins", `{"name":"foo","main":"node.js","browser":"browser.js"}`, "browser.js"},
		{"browser object keeps main", `{"name":"foo","main":"node.js","browser":{"./a.js":"./b.js"}}`, "node.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatal(err)
			}
			if d.MainEntry != tt.want {
				t.Errorf("MainEntry = %q, want %q", d.MainEntry, tt.want)
			}
		})
	}
}

func TestParseBrowserFileMap(t *testing.T) {
	d, err := Parse([]byte(`{"name":"foo","browser":{"./a.js":"./b.js","./c.js":false,"./d.js":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.BrowserFileMap) != 2 {
		t.Fatalf("BrowserFileMap = %v", d.BrowserFileMap)
	}
	if r := d.BrowserFileMap["a.js"]; r.Path != "b.js" || r.Blank {
		t.Errorf("a.js = %+v", r)
	}
	if r := d.BrowserFileMap["c.js"]; !r.Blank {
		t.Errorf("c.js = %+v, want blank", r)
	}
}

func TestParseFields(t *testing.T) {
	d, err := Parse([]byte(`{
		"name": "foo",
		"version": "1.0.0",
		"dependencies": {"ignored": "*"},
		"amdDependencies": {"bar": "^1.0.0"},
		"amdPrefix": "vendor",
		"dist": {"tarball": "http://r/foo.tgz", "integrity": "sha512-x", "shasum": "abc"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Dependencies) != 1 || d.Dependencies["bar"] != "^1.0.0" {
		t.Errorf("Dependencies = %v", d.Dependencies)
	}
	if d.Prefix != "vendor" {
		t.Errorf("Prefix = %q", d.Prefix)
	}
	if d.Dist.Tarball != "http://r/foo.tgz" || d.Dist.Integrity != "sha512-x" || d.Dist.Shasum != "abc" {
		t.Errorf("Dist = %+v", d.Dist)
	}
	if d.String() != "foo@1.0.0" {
		t.Errorf("String() = %q", d.String())
	}
}

func TestParseErrors(t *testing.T) {
	for _, doc := range []string{`{"name":`, `{"version":"1.0.0"}`} {
		if _, err := Parse([]byte(doc)); !errors.Is(err, errors.ErrCodeInvalidDescriptor) {
			t.Errorf("Parse(%s) error = %v, want INVALID_DESCRIPTOR", doc, err)
		}
	}
}

func TestModuleID(t *testing.T) {
	tests := []struct {
		name, main, want string
	}{
		{"bar", "index.js", "./bar/index"},
		{"bar", "lib/bar.js", "./bar/lib/bar"},
		{"@scope/bar", "index.js", "./bar/index"},
		{"bar", "dist/bar.min", "./bar/dist/bar.min"},
	}
	for _, tt := range tests {
		d := &Descriptor{Name: tt.name, MainEntry: tt.main}
		if got := d.ModuleID(); got != tt.want {
			t.Errorf("ModuleID(%s, %s) = %q, want %q", tt.name, tt.main, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindProject(t *testing.T) {
	t.Run("walks up to package.json", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, FileName), `{"name":"app","amdDependencies":{"bar":"^1.0.0"}}`)
		sub := filepath.Join(root, "src", "deep")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		p, err := FindProject(sub)
		if err != nil {
			t.Fatal(err)
		}
		if p.InMemory || p.Name != "app" || p.Dir != root {
			t.Errorf("FindProject() = %+v in %s", p.Descriptor, p.Dir)
		}
		if p.ModulesDir("") != filepath.Join(root, "amd_modules") {
			t.Errorf("ModulesDir() = %s", p.ModulesDir(""))
		}
		if p.ModulesDir("lib") != filepath.Join(root, "lib") {
			t.Errorf("ModulesDir(lib) = %s", p.ModulesDir("lib"))
		}
	})

	t.Run("modules dir without descriptor", func(t *testing.T) {
		root := t.TempDir()
		if err := os.MkdirAll(filepath.Join(root, "amd_modules"), 0o755); err != nil {
			t.Fatal(err)
		}
		p, err := FindProject(root)
		if err != nil {
			t.Fatal(err)
		}
		if !p.InMemory || p.Name != InMemoryName {
			t.Errorf("expected in-memory root, got %+v", p)
		}
	})
}

func TestSaveDependencies(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	writeFile(t, path, `{"name":"app","version":"1.0.0","scripts":{"test":"x"},"amdDependencies":{"foo":"^1.0.0"}}`)

	p, err := FindProject(root)
	if err != nil {
		t.Fatal(err)
	}

	written, err := p.SaveDependencies(map[string]string{"foo": "^1.0.0"})
	if err != nil || written {
		t.Fatalf("unchanged map: written %v, err %v", written, err)
	}

	written, err = p.SaveDependencies(map[string]string{"zed": "^2.0.0", "bar": "^1.1.0", "foo": "^1.0.0"})
	if err != nil || !written {
		t.Fatalf("changed map: written %v, err %v", written, err)
	}
	data, _ := os.ReadFile(path)
	s := string(data)
	if !strings.Contains(s, `"scripts"`) {
		t.Error("other fields should be preserved")
	}
	if strings.Index(s, `"name"`) > strings.Index(s, `"scripts"`) {
		t.Error("field order should be preserved")
	}
	if !(strings.Index(s, `"bar"`) < strings.Index(s, `"foo"`) && strings.Index(s, `"foo"`) < strings.Index(s, `"zed"`)) {
		t.Errorf("dependencies should be sorted:\n%s", s)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Dependencies["bar"] != "^1.1.0" {
		t.Errorf("reloaded deps = %v", reloaded.Dependencies)
	}
}

func TestSaveDependenciesMissingFile(t *testing.T) {
	p := NewInMemory(t.TempDir())
	if written, err := p.SaveDependencies(map[string]string{"bar": "^1.0.0"}); err != nil || written {
		t.Errorf("in-memory project: written %v, err %v", written, err)
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), `{"name":"app"}`)
	p, _ = FindProject(root)
	os.Remove(p.DescriptorPath())
	if written, err := p.SaveDependencies(map[string]string{"bar": "^1.0.0"}); err != nil || written {
		t.Errorf("deleted descriptor: written %v, err %v", written, err)
	}
}
