// Package pathguard validates filesystem tool arguments against a fixed
// project root: reject absolute paths, path-traversal patterns, blocked
// extensions, oversized files, and symlink escapes from the root.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Guard validates filesystem tool arguments against a fixed project root.
type Guard struct {
	root              string
	maxFileSizeBytes  int64
	blockedExtensions map[string]bool
}

// DefaultBlockedExtensions covers executables, private keys, and .env
// files — the classes of file a read-only audit tool should never return.
var DefaultBlockedExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bin",
	".pem", ".key", ".pfx", ".p12",
	".env",
}

// New creates a Guard rooted at root (must already be an absolute,
// symlink-resolved path) with the given per-file size cap.
func New(root string, maxFileSizeBytes int64, blockedExtensions []string) (*Guard, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, apperr.New(apperr.KindValidationInput, "sandbox root does not resolve: "+root, err)
	}
	blocked := map[string]bool{}
	for _, ext := range blockedExtensions {
		blocked[strings.ToLower(ext)] = true
	}
	return &Guard{root: resolvedRoot, maxFileSizeBytes: maxFileSizeBytes, blockedExtensions: blocked}, nil
}

// Root returns the guard's resolved project root.
func (g *Guard) Root() string { return g.root }

// Resolve validates rawPath against the guard's rules and returns the
// absolute, symlink-resolved path on success.
func (g *Guard) Resolve(rawPath string) (string, error) {
	if rawPath == "" {
		return "", apperr.New(apperr.KindValidationInput, "empty path", nil)
	}

	if filepath.IsAbs(rawPath) {
		return "", apperr.New(apperr.KindValidationPath, "absolute paths are not permitted: "+rawPath, nil)
	}

	lower := strings.ToLower(rawPath)
	if strings.Contains(rawPath, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.HasPrefix(rawPath, "~") ||
		strings.Contains(rawPath, "$") {
		return "", apperr.New(apperr.KindValidationPath, "path traversal pattern rejected: "+rawPath, nil)
	}

	if blocked, ext := g.isBlockedExtension(rawPath); blocked {
		return "", apperr.New(apperr.KindValidationInput, "blocked file extension: "+ext, nil)
	}

	joined := filepath.Join(g.root, rawPath)

	resolved := joined
	if target, err := filepath.EvalSymlinks(joined); err == nil {
		resolved = target
	}

	rel, err := filepath.Rel(g.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindValidationPath, "path escapes project root: "+rawPath, nil)
	}

	return resolved, nil
}

// CheckSize rejects files larger than the configured per-file cap.
func (g *Guard) CheckSize(resolvedPath string) error {
	if g.maxFileSizeBytes <= 0 {
		return nil
	}
	info, err := os.Stat(resolvedPath)
	if err != nil {
		return apperr.New(apperr.KindValidationInput, "cannot stat path: "+resolvedPath, err)
	}
	if info.Size() > g.maxFileSizeBytes {
		return apperr.New(apperr.KindValidationInput, "file exceeds size cap", nil)
	}
	return nil
}

func (g *Guard) isBlockedExtension(rawPath string) (bool, string) {
	ext := strings.ToLower(filepath.Ext(rawPath))
	if ext == "" {
		return false, ""
	}
	return g.blockedExtensions[ext], ext
}
