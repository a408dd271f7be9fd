package pathguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("print(1)"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.py"), []byte("x=1"), 0o644))
	return root
}

func TestResolveAcceptsRelativePathWithinRoot(t *testing.T) {
	root := setupRoot(t)
	g, err := New(root, 0, DefaultBlockedExtensions)
	require.NoError(t, err)

	resolved, err := g.Resolve("sub/nested.py")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestResolveRejectsAbsolutePath(t *testing.T) {
	root := setupRoot(t)
	g, _ := New(root, 0, DefaultBlockedExtensions)

	_, err := g.Resolve("/etc/passwd")
	assertKind(t, err, apperr.KindValidationPath)
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := setupRoot(t)
	g, _ := New(root, 0, DefaultBlockedExtensions)

	_, err := g.Resolve("../../etc/passwd")
	assertKind(t, err, apperr.KindValidationPath)
}

func TestResolveRejectsBlockedExtension(t *testing.T) {
	root := setupRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "id_rsa.pem"), []byte("x"), 0o644))
	g, _ := New(root, 0, DefaultBlockedExtensions)

	_, err := g.Resolve("id_rsa.pem")
	assertKind(t, err, apperr.KindValidationInput)
}

func TestCheckSizeRejectsOversizedFile(t *testing.T) {
	root := setupRoot(t)
	g, _ := New(root, 4, DefaultBlockedExtensions)

	resolved, err := g.Resolve("app.py")
	require.NoError(t, err)
	err = g.CheckSize(resolved)
	assertKind(t, err, apperr.KindValidationInput)
}

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, want, kind)
}
