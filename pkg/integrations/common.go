package integrations

import (
	"net/url"
	"strings"

	"github.com/matzehuels/apm/pkg/httputil"
)

// ErrNotFound is returned when a package or resource doesn't exist in the registry.
var ErrNotFound = httputil.ErrNotFound

// EscapePackageName encodes a package name for use as a registry path
// segment. Scoped names keep their leading @ and encode the slash, which is
// what npm-compatible registries expect (@scope%2Fname).
func EscapePackageName(name string) string {
	if strings.HasPrefix(name, "@") {
		return "@" + url.PathEscape(name[1:])
	}
	return url.PathEscape(name)
}

// JoinURL appends path segments to base without doubling slashes.
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		out += "/" + strings.TrimLeft(s, "/")
	}
	return out
}
