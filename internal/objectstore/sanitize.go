package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// Sanitize rewrites a logical object key into one safe to use as a path
// component or S3 object key suffix. The mapping is deterministic and
// injective: Desanitize(Sanitize(k)) == k for every k, so the same
// rewriting can be applied on write and relied on for lookup on read
// without losing or colliding keys. This generalizes the teacher's
// SanitizePath, which collapses "/" and "\\" into "_" and is therefore
// lossy; CAF member paths must round-trip exactly.
func Sanitize(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.QueryEscape(seg)
	}
	return strings.Join(segments, "/")
}

// Desanitize reverses Sanitize. It returns ErrInvalidKey if key contains
// an escape sequence Sanitize could never have produced.
func Desanitize(key string) (string, error) {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		unescaped, err := url.QueryUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		segments[i] = unescaped
	}
	return strings.Join(segments, "/"), nil
}
