// Package descriptor reads and writes package descriptors (package.json).
//
// A [Descriptor] is the canonical, parsed form of a descriptor document,
// whether it came from a project on disk, an installed package or a
// registry metadata document. Optional and polymorphic fields are resolved
// once at parse time:
//
//   - amdDependencies becomes Dependencies
//   - browser as a string becomes the MainEntry
//   - browser as an object becomes the BrowserFileMap (false blanks a file)
//   - main is the fallback entry, then "index.js"
package descriptor

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/matzehuels/apm/pkg/errors"
)

// DefaultMain is the entry file used when neither browser nor main is set.
const DefaultMain = "index.js"

// Dist describes where a published version's archive lives and how to
// verify it.
type Dist struct {
	Tarball   string `json:"tarball,omitempty"`
	Integrity string `json:"integrity,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

// Replacement is one browserFileMap entry: the target file is either
// replaced by the file at Path or blanked to an empty module.
type Replacement struct {
	Path  string
	Blank bool
}

// Descriptor is a parsed package descriptor.
type Descriptor struct {
	Name         string
	Version      string
	Dependencies map[string]string
	Dist         Dist
	Author       json.RawMessage

	// MainEntry is the package-relative entry file, never empty.
	MainEntry string

	// BrowserFileMap maps package-relative target files to their replacement.
	BrowserFileMap map[string]Replacement

	// Prefix is the amdPrefix install directory override, empty if unset.
	Prefix string
}

type rawDescriptor struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	AmdDependencies map[string]string `json:"amdDependencies"`
	Main            string            `json:"main"`
	Browser         json.RawMessage   `json:"browser"`
	AmdPrefix       string            `json:"amdPrefix"`
	Dist            Dist              `json:"dist"`
	Author          json.RawMessage   `json:"author"`
}

// UnmarshalJSON parses a descriptor document and resolves its optional fields.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Descriptor{
		Name:         raw.Name,
		Version:      raw.Version,
		Dependencies: raw.AmdDependencies,
		Dist:         raw.Dist,
		Author:       raw.Author,
		Prefix:       raw.AmdPrefix,
	}
	if d.Dependencies == nil {
		d.Dependencies = map[string]string{}
	}

	var browserMain string
	if len(raw.Browser) > 0 {
		switch raw.Browser[0] {
		case '"':
			if err := json.Unmarshal(raw.Browser, &browserMain); err != nil {
				return err
			}
		case '{':
			m, err := parseBrowserMap(raw.Browser)
			if err != nil {
				return err
			}
			d.BrowserFileMap = m
		}
	}

	switch {
	case browserMain != "":
		d.MainEntry = browserMain
	case raw.Main != "":
		d.MainEntry = raw.Main
	default:
		d.MainEntry = DefaultMain
	}
	d.MainEntry = cleanRel(d.MainEntry)
	return nil
}

func parseBrowserMap(data json.RawMessage) (map[string]Replacement, error) {
	var entries map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	m := make(map[string]Replacement, len(entries))
	for target, v := range entries {
		switch val := v.(type) {
		case bool:
			if !val {
				m[cleanRel(target)] = Replacement{Blank: true}
			}
		case string:
			m[cleanRel(target)] = Replacement{Path: cleanRel(val)}
		}
	}
	return m, nil
}

// cleanRel normalizes "./lib/a.js" to "lib/a.js".
func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
}

// Parse decodes and validates a descriptor document.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidDescriptor, err, "malformed package descriptor")
	}
	if d.Name == "" {
		return nil, errors.New(errors.ErrCodeInvalidDescriptor, "package name is required")
	}
	return &d, nil
}

// String formats the descriptor as name@version, or name without a version.
func (d *Descriptor) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

// BaseName is the last segment of the package name ("bar" for "@scope/bar").
func (d *Descriptor) BaseName() string {
	if i := strings.LastIndex(d.Name, "/"); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// ModuleID is the AMD module id of the entry, relative to the directory
// holding the package directory: "./bar/lib/index" for main "lib/index.js".
func (d *Descriptor) ModuleID() string {
	id := path.Join(d.BaseName(), d.MainEntry)
	return "./" + strings.TrimSuffix(id, ".js")
}
