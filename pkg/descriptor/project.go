package descriptor

import (
	"bytes"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/matzehuels/apm/pkg/errors"
)

// File names and directories that make up a project on disk.
const (
	FileName          = "package.json"
	LockfileName      = "amd-lock.json"
	DefaultModulesDir = "amd_modules"
	IndexFileName     = "index.json"

	// InMemoryName names the root of a directory without a package.json.
	InMemoryName = "root"
)

// Project is the root package of an install run: the descriptor plus the
// directory it lives in.
type Project struct {
	*Descriptor

	// Dir is the absolute project root.
	Dir string

	// InMemory is set when no package.json exists; nothing is persisted
	// back to the descriptor in that case.
	InMemory bool
}

// Load reads the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidDescriptor, err, "read %s", path)
	}
	return d, nil
}

// LoadInstalled reads the descriptor of an installed package in dir.
// It returns (nil, nil) when nothing is installed there.
func LoadInstalled(dir string) (*Descriptor, error) {
	d, err := Load(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return d, err
}

// FindProject walks up from dir until it finds a package.json or an
// amd_modules directory. A directory with modules but no descriptor, or no
// match at all, yields an in-memory project named "root".
func FindProject(dir string) (*Project, error) {
	start, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for current := start; ; {
		descPath := filepath.Join(current, FileName)
		if _, err := os.Stat(descPath); err == nil {
			d, err := Load(descPath)
			if err != nil {
				return nil, err
			}
			return &Project{Descriptor: d, Dir: current}, nil
		}
		if fi, err := os.Stat(filepath.Join(current, DefaultModulesDir)); err == nil && fi.IsDir() {
			return NewInMemory(current), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return NewInMemory(start), nil
		}
		current = parent
	}
}

// NewInMemory creates a project root without a descriptor file.
func NewInMemory(dir string) *Project {
	return &Project{
		Descriptor: &Descriptor{
			Name:         InMemoryName,
			Dependencies: map[string]string{},
			MainEntry:    DefaultMain,
		},
		Dir:      dir,
		InMemory: true,
	}
}

// DescriptorPath is the absolute path of the project's package.json.
func (p *Project) DescriptorPath() string { return filepath.Join(p.Dir, FileName) }

// LockfilePath is the absolute path of the project's amd-lock.json.
func (p *Project) LockfilePath() string { return filepath.Join(p.Dir, LockfileName) }

// ModulesDir is the install directory, honouring amdPrefix unless override
// is non-empty.
func (p *Project) ModulesDir(override string) string {
	prefix := override
	if prefix == "" {
		prefix = p.Prefix
	}
	if prefix == "" {
		prefix = DefaultModulesDir
	}
	if filepath.IsAbs(prefix) {
		return prefix
	}
	return filepath.Join(p.Dir, prefix)
}

// SaveDependencies rewrites amdDependencies in the project's package.json,
// preserving every other field. It reports whether the file was written:
// an unchanged map, an in-memory project or a missing file write nothing.
func (p *Project) SaveDependencies(deps map[string]string) (bool, error) {
	if p.InMemory {
		return false, nil
	}
	if maps.Equal(deps, p.Dependencies) {
		return false, nil
	}

	// encoding/json writes map keys in ascending order.
	encoded, err := json.Marshal(deps)
	if err != nil {
		return false, err
	}
	err = MergeFields(p.DescriptorPath(), map[string]json.RawMessage{"amdDependencies": encoded})
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.Dependencies = maps.Clone(deps)
	return true, nil
}

// MergeFields sets top-level fields of the JSON document at path, keeping
// the other fields and the original key order.
func MergeFields(path string, fields map[string]json.RawMessage) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidDescriptor, err, "read %s", path)
	}
	maps.Copy(doc, fields)

	out, err := marshalDocument(data, doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// marshalDocument re-encodes doc keeping the key order of the original file,
// with new keys appended.
func marshalDocument(original []byte, doc map[string]json.RawMessage) ([]byte, error) {
	order := topLevelKeys(original)
	for _, k := range slices.Sorted(maps.Keys(doc)) {
		if !slices.Contains(order, k) {
			order = append(order, k)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range order {
		if i > 0 {
			buf.WriteString(",")
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteString(":")
		buf.Write(doc[k])
	}
	buf.WriteString("}")

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteString("\n")
	return out.Bytes(), nil
}

func topLevelKeys(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		k, ok := tok.(string)
		if !ok {
			return keys
		}
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
