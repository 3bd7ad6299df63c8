// Package registrytest runs an in-process npm-compatible registry for
// tests. Packages are published from Go values; tarballs are generated on
// publish with a "package/" top-level directory, the way npm packs them.
package registrytest

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/apm/pkg/integrity"
)

// Package describes one published version.
type Package struct {
	Name         string
	Version      string
	Dependencies map[string]string
	Main         string
	Browser      any               // string entry or map of replacements
	Files        map[string]string // path inside the package -> content
	Author       string

	NoIntegrity bool // publish without dist.integrity
	Shasum      bool // also publish the legacy dist.shasum
}

type published struct {
	pkg       Package
	archive   []byte
	served    []byte
	integrity string
	shasum    string
}

// Registry is a running stub registry.
type Registry struct {
	URL string

	srv *httptest.Server

	mu       sync.Mutex
	pkgs     map[string]map[string]*published
	latest   map[string]string
	token    string
	metaReqs map[string]int
	tarReqs  map[string]int
}

// New starts a registry that shuts down when t finishes.
func New(t testing.TB) *Registry {
	t.Helper()
	r := &Registry{
		pkgs:     make(map[string]map[string]*published),
		latest:   make(map[string]string),
		metaReqs: make(map[string]int),
		tarReqs:  make(map[string]int),
	}

	router := chi.NewRouter()
	router.Use(r.authorize)
	router.Get("/-/tarball/{name}/{file}", r.serveTarball)
	router.Get("/{name}", r.serveMetadata)

	r.srv = httptest.NewServer(router)
	r.URL = r.srv.URL
	t.Cleanup(r.srv.Close)
	return r
}

// Publish adds a version and tags it latest. Files defaults to a single
// AMD module at the main entry.
func (r *Registry) Publish(t testing.TB, p Package) {
	t.Helper()
	if p.Files == nil {
		main := p.Main
		if main == "" {
			main = "index.js"
		}
		p.Files = map[string]string{main: "define(function () { return '" + p.Name + "'; });\n"}
	}
	data, err := pack(p)
	if err != nil {
		t.Fatalf("registrytest: pack %s@%s: %v", p.Name, p.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pkgs[p.Name] == nil {
		r.pkgs[p.Name] = make(map[string]*published)
	}
	r.pkgs[p.Name][p.Version] = &published{
		pkg:       p,
		archive:   data,
		served:    data,
		integrity: integrity.Generate(data),
		shasum:    integrity.Shasum(data),
	}
	r.latest[p.Name] = p.Version
}

// SetLatest points dist-tags.latest at version.
func (r *Registry) SetLatest(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[name] = version
}

// Corrupt makes the tarball served for name@version differ from the one
// its advertised hashes describe.
func (r *Registry) Corrupt(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.pkgs[name][version]; p != nil {
		bad := bytes.Clone(p.archive)
		bad = append(bad, 0)
		p.served = bad
	}
}

// Repair undoes Corrupt.
func (r *Registry) Repair(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.pkgs[name][version]; p != nil {
		p.served = p.archive
	}
}

// RequireToken rejects requests that do not carry the bearer token.
func (r *Registry) RequireToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

// MetadataRequests counts metadata GETs for name.
func (r *Registry) MetadataRequests(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metaReqs[name]
}

// TarballRequests counts tarball GETs for name across all versions.
func (r *Registry) TarballRequests(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tarReqs[name]
}

// TarballURL is where name@version is served.
func (r *Registry) TarballURL(name, version string) string {
	return r.URL + "/-/tarball/" + url.PathEscape(name) + "/" + version + ".tgz"
}

// Integrity is the advertised SRI of name@version.
func (r *Registry) Integrity(name, version string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.pkgs[name][version]; p != nil {
		return p.integrity
	}
	return ""
}

func (r *Registry) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		token := r.token
		r.mu.Unlock()
		if token != "" && req.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type versionDoc struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	AmdDependencies map[string]string `json:"amdDependencies,omitempty"`
	Main            string            `json:"main,omitempty"`
	Browser         any               `json:"browser,omitempty"`
	Author          string            `json:"author,omitempty"`
	Dist            *distDoc          `json:"dist,omitempty"`
}

type distDoc struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

func docFor(p Package) versionDoc {
	return versionDoc{
		Name:            p.Name,
		Version:         p.Version,
		AmdDependencies: p.Dependencies,
		Main:            p.Main,
		Browser:         p.Browser,
		Author:          p.Author,
	}
}

func (r *Registry) serveMetadata(w http.ResponseWriter, req *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(req, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.metaReqs[name]++
	versions, ok := r.pkgs[name]
	if !ok {
		r.mu.Unlock()
		http.NotFound(w, req)
		return
	}
	meta := struct {
		Name     string                `json:"name"`
		DistTags map[string]string     `json:"dist-tags"`
		Versions map[string]versionDoc `json:"versions"`
	}{
		Name:     name,
		DistTags: map[string]string{"latest": r.latest[name]},
		Versions: make(map[string]versionDoc, len(versions)),
	}
	for v, p := range versions {
		doc := docFor(p.pkg)
		doc.Dist = &distDoc{Tarball: r.TarballURL(name, v)}
		if !p.pkg.NoIntegrity {
			doc.Dist.Integrity = p.integrity
		}
		if p.pkg.Shasum {
			doc.Dist.Shasum = p.shasum
		}
		meta.Versions[v] = doc
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

func (r *Registry) serveTarball(w http.ResponseWriter, req *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(req, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	version := strings.TrimSuffix(chi.URLParam(req, "file"), ".tgz")

	r.mu.Lock()
	r.tarReqs[name]++
	p := r.pkgs[name][version]
	var body []byte
	if p != nil {
		body = p.served
	}
	r.mu.Unlock()

	if body == nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

// pack builds a gzipped tarball with package.json and the package files
// under "package/".
func pack(p Package) ([]byte, error) {
	manifest, err := json.MarshalIndent(docFor(p), "", "  ")
	if err != nil {
		return nil, err
	}
	files := map[string][]byte{"package.json": manifest}
	for name, content := range p.Files {
		files[name] = []byte(content)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{
			Name:     "package/" + strings.TrimPrefix(name, "./"),
			Mode:     0o644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
