package installer

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/matzehuels/apm/pkg/archive"
	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
)

// blankModule replaces files the browser map disables.
const blankModule = "define(function(){})"

// extract unpacks the archive next to target and swaps it in. The old
// directory is removed first: renaming over an existing symlink would not
// replace it.
func (in *Installer) extract(archivePath, target string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err, "create %s", parent)
	}
	staging := filepath.Join(parent, ".staging-"+uuid.NewString())
	defer os.RemoveAll(staging)

	root, err := archive.Extract(f, staging)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err, "remove %s", target)
	}
	if err := os.Rename(root, target); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err, "move into %s", target)
	}
	return nil
}

// applyBrowserMap blanks disabled files and moves replacements over their
// targets. A missing replacement is logged and skipped.
func (in *Installer) applyBrowserMap(dir string, d *descriptor.Descriptor) error {
	for _, rel := range slices.Sorted(maps.Keys(d.BrowserFileMap)) {
		rep := d.BrowserFileMap[rel]
		if err := errors.ValidatePath(rel); err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))

		if rep.Blank {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(blankModule), 0o644); err != nil {
				return errors.Wrap(errors.ErrCodeInstallFailed, err, "blank %s", rel)
			}
			continue
		}

		if err := errors.ValidatePath(rep.Path); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(dir, filepath.FromSlash(rep.Path)), target); err != nil {
			in.logger.Warn("browser replacement failed", "package", d.Name, "file", rel, "replacer", rep.Path, "err", err)
		}
	}
	return nil
}

// populateDescriptor records the registry's dist block and author in the
// installed package.json so a later run can reuse the copy as-is.
func (in *Installer) populateDescriptor(dir string, n *deps.Node) error {
	fields := make(map[string]json.RawMessage)
	dist := n.Descriptor.Dist
	dist.Integrity = n.Integrity
	if dist.Tarball != "" {
		raw, err := json.Marshal(dist)
		if err != nil {
			return err
		}
		fields["dist"] = raw
	}
	if len(n.Descriptor.Author) > 0 {
		fields["author"] = n.Descriptor.Author
	}
	if len(fields) == 0 {
		return nil
	}
	err := descriptor.MergeFields(filepath.Join(dir, descriptor.FileName), fields)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeShim writes <modules>/<name>.js, which re-exports the package's main
// module.
func (in *Installer) writeShim(name string, d *descriptor.Descriptor) error {
	shim := fmt.Sprintf("define(['%s'], function (mod) { return mod; })\n", d.ModuleID())
	p := in.PackageDir(name) + ".js"
	if err := os.WriteFile(p, []byte(shim), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err, "write %s", p)
	}
	return nil
}

// IndexEntry is one package in index.json.
type IndexEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	FilePath string `json:"filepath"` // main module, relative to the modules directory
	FullPath string `json:"fullpath"` // main module, absolute
}

// WriteIndex writes index.json for nodes, reading each package's main
// entry from its installed package.json.
func (in *Installer) WriteIndex(nodes []*deps.Node) error {
	abs, err := filepath.Abs(in.dir)
	if err != nil {
		return err
	}
	entries := make([]IndexEntry, 0, len(nodes))
	for _, n := range nodes {
		main := n.Descriptor.MainEntry
		if d, err := descriptor.LoadInstalled(in.PackageDir(n.Name)); err == nil && d != nil {
			main = d.MainEntry
		}
		if main == "" {
			main = descriptor.DefaultMain
		}
		rel := path.Join(n.Name, main)
		entries = append(entries, IndexEntry{
			Name:     n.Name,
			Version:  n.Version(),
			FilePath: rel,
			FullPath: filepath.Join(abs, filepath.FromSlash(rel)),
		})
	}
	slices.SortFunc(entries, func(a, b IndexEntry) int { return strings.Compare(a.Name, b.Name) })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(in.dir, descriptor.IndexFileName), data, 0o644)
}

// ReadIndex loads index.json from the modules directory.
func ReadIndex(modulesDir string) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(modulesDir, descriptor.IndexFileName))
	if err != nil {
		return nil, err
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidDescriptor, err, "read index")
	}
	return entries, nil
}
