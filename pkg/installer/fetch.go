package installer

import (
	"context"
	"io"

	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/httputil"
	"github.com/matzehuels/apm/pkg/integrity"
	"github.com/matzehuels/apm/pkg/observability"
)

// fetchAndVerify returns the path of a verified archive for n in the store
// and the integrity to record for it. A cached archive that no longer
// verifies is evicted and downloaded again; a download that does not
// verify is discarded.
func (in *Installer) fetchAndVerify(ctx context.Context, n *deps.Node) (string, string, error) {
	name, ver := n.Name, n.Version()
	exp := integrity.Expected{Integrity: n.Integrity, Shasum: n.Descriptor.Dist.Shasum}

	if f, err := in.store.Open(name, ver); err == nil {
		res, err := integrity.Verify(f, exp)
		f.Close()
		if err == nil {
			observability.Install().OnFetch(ctx, name, ver, true)
			in.logger.Debug("using cached archive", "name", name, "version", ver)
			return in.store.Path(name, ver), res.Integrity, nil
		}
		in.logger.Warn("cached archive failed verification, refetching", "name", name, "version", ver, "err", err)
		if err := in.store.Evict(name, ver); err != nil {
			return "", "", err
		}
	}

	url := n.Descriptor.Dist.Tarball
	if url == "" {
		return "", "", errors.New(errors.ErrCodeInstallFailed, "no tarball for %s", n)
	}
	body, err := in.fetcher.Tarball(ctx, url)
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	w, err := in.store.Create(name, ver)
	if err != nil {
		return "", "", err
	}
	checker, err := integrity.NewChecker(exp)
	if err != nil {
		w.Abort()
		return "", "", err
	}
	if _, err := io.Copy(io.MultiWriter(w, checker), body); err != nil {
		w.Abort()
		return "", "", httputil.TransportError(url, err)
	}
	res, err := checker.Verify()
	if err != nil {
		w.Abort()
		_ = in.store.Evict(name, ver)
		return "", "", errors.Wrap(errors.ErrCodeIntegrity, err, "verify %s", n)
	}
	if res.Generated {
		in.logger.Warn("no integrity declared, recording a generated hash", "name", name, "version", ver)
	}
	if err := w.Commit(); err != nil {
		return "", "", err
	}
	observability.Install().OnFetch(ctx, name, ver, false)
	return in.store.Path(name, ver), res.Integrity, nil
}
