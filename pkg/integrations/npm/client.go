package npm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/apm/pkg/cache"
	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/httputil"
	"github.com/matzehuels/apm/pkg/integrations"
	"github.com/matzehuels/apm/pkg/version"
)

// DefaultRegistry is the public npm registry.
const DefaultRegistry = "https://registry.npmjs.org"

// Metadata is a registry package document.
type Metadata struct {
	Name     string                            `json:"name"`
	DistTags map[string]string                 `json:"dist-tags"`
	Versions map[string]*descriptor.Descriptor `json:"versions"`
}

// VersionList returns every published version, lowest first.
func (m *Metadata) VersionList() []string {
	vs := slices.Collect(maps.Keys(m.Versions))
	version.Sort(vs)
	return vs
}

// Latest returns the version tagged latest, or the highest published one.
func (m *Metadata) Latest() string {
	if v := m.DistTags["latest"]; v != "" {
		if _, ok := m.Versions[v]; ok {
			return v
		}
	}
	v, _ := version.Latest(m.VersionList())
	return v
}

// Options configures [NewClient].
type Options struct {
	Registry  string            // default registry URL
	Scopes    map[string]string // "@scope" -> registry URL
	Token     string            // bearer token sent to the configured registries only
	Timeout   time.Duration     // per-request timeout
	Cache     cache.Cache       // cross-run metadata cache, nil disables
	TTL       time.Duration     // metadata cache TTL
	UserAgent string
}

type memoEntry struct {
	meta  *Metadata
	fresh bool
}

// Client fetches metadata and archives from npm-compatible registries.
type Client struct {
	*integrations.Client
	registry string
	scopes   map[string]string

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]memoEntry
}

// NewClient creates a registry client.
func NewClient(opts Options) *Client {
	if opts.Registry == "" {
		opts.Registry = DefaultRegistry
	}
	meta := opts.Cache
	if opts.Token != "" {
		// Documents fetched with credentials are kept apart from anonymous ones.
		meta = cache.NewScoped(meta, "auth:"+tokenScope(opts.Token)+":")
	}
	base := integrations.NewClient(meta, "", opts.TTL, map[string]string{
		"Accept": "application/json",
	})
	base.SetHTTPClient(httputil.NewClient(httputil.Options{
		Timeout:    opts.Timeout,
		Token:      opts.Token,
		TokenHosts: registryHosts(opts.Registry, opts.Scopes),
		UserAgent:  opts.UserAgent,
	}))
	return &Client{
		Client:   base,
		registry: strings.TrimRight(opts.Registry, "/"),
		scopes:   opts.Scopes,
		memo:     make(map[string]memoEntry),
	}
}

// RegistryFor returns the registry URL serving name.
func (c *Client) RegistryFor(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.Index(name, "/"); i > 0 {
			if reg, ok := c.scopes[name[:i]]; ok && reg != "" {
				return strings.TrimRight(reg, "/")
			}
		}
	}
	return c.registry
}

// Metadata returns the registry document for name. With refresh set, the
// cross-run cache is bypassed; the per-client memo is still honoured once a
// fresh copy has been fetched.
func (c *Client) Metadata(ctx context.Context, name string, refresh bool) (*Metadata, error) {
	c.mu.Lock()
	if e, ok := c.memo[name]; ok && (e.fresh || !refresh) {
		c.mu.Unlock()
		return e.meta, nil
	}
	c.mu.Unlock()

	key := name
	if refresh {
		key += "\x00fresh"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		meta, err := c.fetchMetadata(ctx, name, refresh)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if e, ok := c.memo[name]; !ok || !e.fresh {
			c.memo[name] = memoEntry{meta: meta, fresh: refresh}
		}
		c.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Metadata), nil
}

func (c *Client) fetchMetadata(ctx context.Context, name string, refresh bool) (*Metadata, error) {
	registry := c.RegistryFor(name)
	url := integrations.JoinURL(registry, integrations.EscapePackageName(name))
	key := cache.MetadataKey(registry, name)

	var raw json.RawMessage
	fetched := false
	err := c.Cached(ctx, key, refresh, &raw, func() error {
		fetched = true
		body, err := c.Stream(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()
		data, err := io.ReadAll(body)
		if err != nil {
			return httputil.TransportError(url, err)
		}
		if !json.Valid(data) {
			return errors.New(errors.ErrCodeInvalidMeta, "invalid metadata for %s: malformed JSON", name)
		}
		raw = data
		return nil
	})
	if err != nil {
		if stderrors.Is(err, integrations.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodePackageNotFound, err, "package %s not found in %s", name, registry)
		}
		return nil, err
	}
	meta, err := parseMetadata(name, raw)
	if err != nil && !fetched {
		// A cached document that no longer parses is dropped and fetched again.
		_ = c.Invalidate(ctx, key)
		return c.fetchMetadata(ctx, name, true)
	}
	return meta, err
}

// registryHosts lists the hosts of the default and scoped registries.
func registryHosts(registry string, scopes map[string]string) []string {
	var hosts []string
	for _, raw := range append([]string{registry}, slices.Sorted(maps.Values(scopes))...) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" && !slices.Contains(hosts, u.Host) {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// tokenScope names the cache namespace for a credential without storing it.
func tokenScope(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func parseMetadata(name string, raw []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidMeta, err, "invalid metadata for %s", name)
	}
	if len(meta.Versions) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidMeta, "invalid metadata for %s: no versions", name)
	}
	if meta.Name == "" {
		meta.Name = name
	}
	for v, d := range meta.Versions {
		if d == nil {
			delete(meta.Versions, v)
			continue
		}
		if d.Name == "" {
			d.Name = meta.Name
		}
		if d.Version == "" {
			d.Version = v
		}
	}
	return &meta, nil
}

// Tarball opens the archive at url. The caller must close the reader.
func (c *Client) Tarball(ctx context.Context, url string) (io.ReadCloser, error) {
	body, err := c.Stream(ctx, url)
	if err != nil {
		if stderrors.Is(err, integrations.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeHTTP, err, "download %s", url)
		}
		return nil, err
	}
	return body, nil
}
