// Package archive unpacks package tarballs.
//
// Registries publish packages as tar archives, usually gzip-compressed and
// occasionally xz-compressed. [Extract] sniffs the compression from the
// stream's magic bytes, so callers never need to know which one they hold.
//
// Every entry is checked before it is written: absolute paths, ".."
// segments and links escaping the destination are rejected with an
// INSTALL_FAILED error.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/matzehuels/apm/pkg/errors"
)

// Format identifies the compression of a tar stream.
type Format int

const (
	Tar Format = iota
	Gzip
	Xz
)

func (f Format) String() string {
	switch f {
	case Gzip:
		return "tar+gzip"
	case Xz:
		return "tar+xz"
	default:
		return "tar"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Detect peeks at the head of br and reports its format.
func Detect(br *bufio.Reader) Format {
	head, _ := br.Peek(len(xzMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	case bytes.HasPrefix(head, xzMagic):
		return Xz
	default:
		return Tar
	}
}

// Open wraps r in the decompressor matching its format.
func Open(r io.Reader) (io.Reader, Format, error) {
	br := bufio.NewReader(r)
	format := Detect(br)
	switch format {
	case Gzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, format, errors.Wrap(errors.ErrCodeUnsupportedFormat, err, "gzip reader")
		}
		return gz, format, nil
	case Xz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, format, errors.Wrap(errors.ErrCodeUnsupportedFormat, err, "xz reader")
		}
		return xr, format, nil
	default:
		return br, format, nil
	}
}

// Extract unpacks the archive read from r into dir, which must not exist
// or be empty, and returns the package root: the single top-level
// directory when the archive has one (npm's "package/"), else dir itself.
func Extract(r io.Reader, dir string) (string, error) {
	stream, _, err := Open(r)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", err
	}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInstallFailed, err, "read tar")
		}
		if err := extractEntry(tr, hdr, root); err != nil {
			return "", err
		}
	}
	if err := checkLinks(root); err != nil {
		return "", err
	}
	return packageRoot(absDir)
}

// extractEntry writes one entry below root, which must be a resolved path.
// The entry's parent is resolved through links already on disk, so nothing
// is ever created outside root.
func extractEntry(tr *tar.Reader, hdr *tar.Header, root string) error {
	if isMetadataHeader(hdr.Typeflag) {
		return nil
	}
	name, err := normalize(hdr.Name)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	parent, err := resolveWithin(root, root, path.Dir(name), 0)
	if err != nil {
		return err
	}
	target := filepath.Join(parent, path.Base(name))

	mode := hdr.FileInfo().Mode().Perm()
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := removeLink(target); err != nil {
			return err
		}
		return os.MkdirAll(target, mode|0o700)

	case tar.TypeReg:
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
		if err := removeLink(target); err != nil {
			return err
		}
		// Published archives often carry 0000 or 0444 modes.
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return errors.Wrap(errors.ErrCodeInstallFailed, err, "write %s", name)
		}
		return out.Close()

	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(hdr.Linkname, "/") {
			return errors.New(errors.ErrCodeInstallFailed, "absolute symlink rejected: %s", hdr.Linkname)
		}
		if _, err := resolveWithin(root, parent, filepath.ToSlash(hdr.Linkname), 0); err != nil {
			return err
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(hdr.Linkname, target)

	case tar.TypeLink:
		link := filepath.ToSlash(hdr.Linkname)
		if strings.HasPrefix(link, "/") || filepath.IsAbs(hdr.Linkname) {
			return errors.New(errors.ErrCodeInstallFailed, "absolute hard link rejected: %s", hdr.Linkname)
		}
		linkTarget, err := resolveWithin(root, root, link, 0)
		if err != nil {
			return err
		}
		if linkTarget == root {
			return errors.New(errors.ErrCodeInstallFailed, "hard link to archive root: %s", name)
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Link(linkTarget, target)
	}
	return nil
}

// maxLinkHops bounds symlink resolution, as the kernel does with ELOOP.
const maxLinkHops = 40

// resolveWithin walks rel from base one component at a time, following
// symlinks that exist on disk, and fails as soon as the walk leaves root.
// Components that do not exist yet are taken literally.
func resolveWithin(root, base, rel string, hops int) (string, error) {
	cur := base
	for _, comp := range strings.Split(rel, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			next := filepath.Join(cur, comp)
			fi, err := os.Lstat(next)
			if err != nil || fi.Mode()&os.ModeSymlink == 0 {
				cur = next
				break
			}
			if hops++; hops > maxLinkHops {
				return "", errors.New(errors.ErrCodeInstallFailed, "too many levels of symlinks at %q", rel)
			}
			link, err := os.Readlink(next)
			if err != nil {
				return "", err
			}
			if filepath.IsAbs(link) {
				return "", errors.New(errors.ErrCodeInstallFailed, "absolute symlink rejected: %s", link)
			}
			if cur, err = resolveWithin(root, cur, filepath.ToSlash(link), hops); err != nil {
				return "", err
			}
		}
		if !within(root, cur) {
			return "", errors.New(errors.ErrCodeInstallFailed, "path escapes archive root: %q", rel)
		}
	}
	return cur, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// removeLink deletes p if it is a symlink, so the next write replaces the
// link instead of following it.
func removeLink(p string) error {
	fi, err := os.Lstat(p)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	return os.Remove(p)
}

// checkLinks verifies every symlink in the finished tree. A link may have
// been harmless when written and escape once later entries were added.
func checkLinks(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		link, err := os.Readlink(p)
		if err != nil {
			return err
		}
		_, err = resolveWithin(root, filepath.Dir(p), filepath.ToSlash(link), 0)
		return err
	})
}

// packageRoot returns the only directory in dir when dir holds nothing else.
func packageRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func normalize(name string) (string, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(cleaned, "/") {
		return "", errors.New(errors.ErrCodeInstallFailed, "absolute path in archive: %q", name)
	}
	cleaned = path.Clean(cleaned)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New(errors.ErrCodeInstallFailed, "path escapes archive root: %q", name)
	}
	return cleaned, nil
}

func isMetadataHeader(t byte) bool {
	switch t {
	case tar.TypeXHeader, tar.TypeXGlobalHeader, tar.TypeGNULongName, tar.TypeGNULongLink:
		return true
	}
	return false
}
