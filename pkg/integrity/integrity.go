// Package integrity verifies package archives against the content hashes a
// registry advertises.
//
// Two kinds of expected values exist. The strong one is a Subresource
// Integrity string ("sha512-<base64>", possibly several space-separated
// alternatives); the legacy one is a hex SHA-1 "shasum". When a strong hash is
// present it is checked exclusively. When neither is present a fresh sha512
// SRI is computed so the lock file can pin it from then on.
//
// A [Checker] is an io.Writer, so the same byte stream can be fanned out to
// disk and to the checker with io.MultiWriter without buffering the archive.
package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/matzehuels/apm/pkg/errors"
)

// Expected holds the hashes a registry declared for an archive.
type Expected struct {
	Integrity string // SRI string, e.g. "sha512-..."
	Shasum    string // legacy hex SHA-1
}

// Empty reports whether no expected value is available.
func (e Expected) Empty() bool {
	return strings.TrimSpace(e.Integrity) == "" && strings.TrimSpace(e.Shasum) == ""
}

// Result describes a completed verification.
type Result struct {
	// Integrity is the SRI string to record in the lock file. For verified
	// strong hashes it is the matching expected entry; otherwise a sha512 SRI
	// of the content.
	Integrity string

	// Generated is true when nothing was declared and Integrity was computed.
	Generated bool
}

// algorithm ranks supported SRI algorithms; higher is stronger.
type algorithm struct {
	name  string
	rank  int
	newFn func() hash.Hash
}

var algorithms = map[string]algorithm{
	"sha512": {"sha512", 4, sha512.New},
	"sha384": {"sha384", 3, sha512.New384},
	"sha256": {"sha256", 2, sha256.New},
	"sha1":   {"sha1", 1, sha1.New},
}

type sriEntry struct {
	alg    algorithm
	digest string // base64
	raw    string
}

// parseSRI returns the entries of the strongest algorithm present in s.
func parseSRI(s string) []sriEntry {
	var best []sriEntry
	for _, tok := range strings.Fields(s) {
		// Options after '?' are allowed by the SRI grammar and ignored.
		tok, _, _ = strings.Cut(tok, "?")
		name, digest, ok := strings.Cut(tok, "-")
		if !ok || digest == "" {
			continue
		}
		alg, ok := algorithms[strings.ToLower(name)]
		if !ok {
			continue
		}
		e := sriEntry{alg: alg, digest: digest, raw: alg.name + "-" + digest}
		switch {
		case len(best) == 0 || alg.rank > best[0].alg.rank:
			best = []sriEntry{e}
		case alg.rank == best[0].alg.rank:
			best = append(best, e)
		}
	}
	return best
}

// Checker hashes everything written to it and compares the result to an
// Expected value in Verify.
type Checker struct {
	expected Expected
	sri      []sriEntry
	strong   hash.Hash // algorithm of sri, or sha512 when generating
	legacy   hash.Hash // sha1 for shasum checks
}

var _ io.Writer = (*Checker)(nil)

// NewChecker prepares a checker for exp. A strong hash that names no
// supported algorithm is an INTEGRITY_ERROR, since content could never be
// verified against it.
func NewChecker(exp Expected) (*Checker, error) {
	c := &Checker{expected: exp}
	if s := strings.TrimSpace(exp.Integrity); s != "" {
		c.sri = parseSRI(s)
		if len(c.sri) == 0 {
			return nil, errors.New(errors.ErrCodeIntegrity, "unsupported integrity value %q", s)
		}
		c.strong = c.sri[0].alg.newFn()
		return c, nil
	}
	if strings.TrimSpace(exp.Shasum) != "" {
		c.legacy = sha1.New()
	}
	c.strong = sha512.New()
	return c, nil
}

// Write feeds p to the underlying hashes. It never fails.
func (c *Checker) Write(p []byte) (int, error) {
	c.strong.Write(p)
	if c.legacy != nil {
		c.legacy.Write(p)
	}
	return len(p), nil
}

// Verify compares the hashed content with the expected value.
// A mismatch is an INTEGRITY_ERROR naming the expected and actual values.
func (c *Checker) Verify() (Result, error) {
	sum := c.strong.Sum(nil)

	if len(c.sri) > 0 {
		actual := base64.StdEncoding.EncodeToString(sum)
		for _, e := range c.sri {
			if e.digest == actual {
				return Result{Integrity: e.raw}, nil
			}
		}
		return Result{}, errors.New(errors.ErrCodeIntegrity,
			"integrity checksum failed: wanted %s but got %s-%s",
			c.expected.Integrity, c.sri[0].alg.name, actual)
	}

	generated := "sha512-" + base64.StdEncoding.EncodeToString(sum)
	if c.legacy != nil {
		want := strings.ToLower(strings.TrimSpace(c.expected.Shasum))
		actual := hex.EncodeToString(c.legacy.Sum(nil))
		if want != actual {
			return Result{}, errors.New(errors.ErrCodeIntegrity,
				"shasum check failed: wanted %s but got %s", want, actual)
		}
		return Result{Integrity: generated}, nil
	}
	return Result{Integrity: generated, Generated: true}, nil
}

// Verify drains r through a Checker for exp.
func Verify(r io.Reader, exp Expected) (Result, error) {
	c, err := NewChecker(exp)
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(c, r); err != nil {
		return Result{}, err
	}
	return c.Verify()
}

// Generate returns the sha512 SRI string of data.
func Generate(data []byte) string {
	sum := sha512.Sum512(data)
	return "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
}

// Shasum returns the hex SHA-1 of data.
func Shasum(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
