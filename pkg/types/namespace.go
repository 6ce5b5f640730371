package types

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// maxNamespaceSegments bounds the scope hierarchy depth.
	maxNamespaceSegments = 8

	// maxNamespaceBytes bounds total namespace length.
	maxNamespaceBytes = 255
)

// namespaceSegment is the grammar for a single scope segment.
var namespaceSegment = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateNamespace checks a namespace against the fixed grammar
// org/scope(/scope)*: at least two segments, each lowercase alphanumeric
// with - and _ allowed after the first character. The check runs before any
// write side effect.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace is required")
	}
	if len(ns) > maxNamespaceBytes {
		return fmt.Errorf("namespace exceeds %d bytes", maxNamespaceBytes)
	}
	segments := strings.Split(ns, "/")
	if len(segments) < 2 {
		return fmt.Errorf("namespace %q must have at least org/scope segments", ns)
	}
	if len(segments) > maxNamespaceSegments {
		return fmt.Errorf("namespace %q exceeds %d segments", ns, maxNamespaceSegments)
	}
	for _, seg := range segments {
		if !namespaceSegment.MatchString(seg) {
			return fmt.Errorf("namespace %q has invalid segment %q", ns, seg)
		}
	}
	return nil
}

// NamespaceOrg returns the leading org segment of a namespace.
// Returns "" when the namespace is malformed.
func NamespaceOrg(ns string) string {
	idx := strings.IndexByte(ns, '/')
	if idx <= 0 {
		return ""
	}
	return ns[:idx]
}
