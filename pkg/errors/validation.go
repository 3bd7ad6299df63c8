package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidatePackageName validates a package name for safety and correctness.
// It rejects names that could be used for path traversal once the name is
// joined onto the install directory, and names the registry would refuse.
//
// Rules:
//   - No empty names, maximum length of 214 characters
//   - No control characters or null bytes
//   - No path traversal sequences (.., //, backslash)
//   - Lowercase, optionally scoped (@scope/name)
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPackageName, "package name cannot be empty")
	}

	if len(name) > 214 {
		return New(ErrCodeInvalidPackageName, "package name too long (max 214 characters): %q", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPackageName, "package name contains invalid control characters: %q", name)
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"//",   // Double slash
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidPackageName, "package name contains invalid characters: %q", name)
		}
	}

	if strings.ToLower(name) != name {
		return New(ErrCodeInvalidPackageName, "package names must be lowercase: %q", name)
	}

	if !packageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackageName, "invalid package name: %q", name)
	}

	return nil
}

// packageNameRegex matches valid registry package names.
var packageNameRegex = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

// ValidatePath validates a relative file path taken from package content
// (browser maps, main entries). It prevents writes outside the package directory.
//
// Validation rules:
//   - Path cannot be empty
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No parent directory segments
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters: %q", path)
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative: %q", path)
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot leave the package directory: %q", path)
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes: %q", path)
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme: %q", rawURL)
	}

	return nil
}
