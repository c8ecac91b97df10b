package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSuspiciousAccess is returned when a relative name would resolve
// outside its root. Security relevant: callers must surface it, never
// swallow it.
var ErrSuspiciousAccess = errors.New("suspicious access outside storage root")

// SafeJoin joins name onto root and returns the cleaned absolute path.
// It fails with ErrSuspiciousAccess when the result would escape root,
// whether through ".." segments or an absolute name overriding root.
func SafeJoin(root, name string) (string, error) {
	if strings.Contains(name, "\x00") {
		return "", fmt.Errorf("name %q: %w", name, ErrSuspiciousAccess)
	}
	root = filepath.Clean(root)
	joined := filepath.Clean(filepath.Join(root, name))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("name %q resolves to %q: %w", name, joined, ErrSuspiciousAccess)
	}
	return joined, nil
}
