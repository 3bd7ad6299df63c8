package version

import (
	"strings"

	"github.com/matzehuels/apm/pkg/errors"
)

// Request is a parsed command-line dependency request such as
// "bar", "bar@^1.0.0" or "@scope/bar@1.x".
type Request struct {
	Name  string
	Range string // empty when none was given
}

// String formats the request as name[@range].
func (r Request) String() string {
	if r.Range == "" {
		return r.Name
	}
	return r.Name + "@" + r.Range
}

// ParseRequest splits s into a validated name and an optional range.
// The leading @ of a scoped name is not treated as the range separator.
func ParseRequest(s string) (Request, error) {
	s = strings.TrimSpace(s)
	name, rng := s, ""
	start := 0
	if strings.HasPrefix(s, "@") {
		start = 1
	}
	if i := strings.LastIndex(s[start:], "@"); i >= 0 {
		name, rng = s[:start+i], s[start+i+1:]
	}
	if err := errors.ValidatePackageName(name); err != nil {
		return Request{}, err
	}
	if rng != "" && !ValidRange(rng) {
		return Request{}, errors.New(errors.ErrCodeInvalidRange, "invalid range in %q", s)
	}
	return Request{Name: name, Range: rng}, nil
}

// ParseRequests parses every entry of args, failing on the first invalid one.
func ParseRequests(args []string) ([]Request, error) {
	reqs := make([]Request, 0, len(args))
	for _, a := range args {
		r, err := ParseRequest(a)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}
