package vault

import (
	"strings"
)

// NormalizePath removes leading and trailing slashes.
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}

// JoinPath joins path components, skipping empty ones.
func JoinPath(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// ValidateSecretPath checks a normalized secret path. The empty path is
// accepted only when allowRoot is set.
func ValidateSecretPath(op, path string, allowRoot bool) error {
	if path == "" {
		if allowRoot {
			return nil
		}
		return NewValidationError(op, "path", "path is required")
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "":
			return NewValidationError(op, "path", "path must not contain empty segments")
		case ".", "..":
			return NewValidationError(op, "path", "path must not contain relative segments")
		}
	}
	if strings.ContainsAny(path, "?#\x00") {
		return NewValidationError(op, "path", "path contains invalid characters")
	}
	return nil
}

// ValidateName checks a single-segment identifier such as a transit key or
// role name.
func ValidateName(op, field, name string) error {
	if name == "" {
		return NewValidationError(op, field, field+" is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/?#\x00") {
		return NewValidationError(op, field, field+" contains invalid characters")
	}
	return nil
}
