package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubProxyEnv_DropsProxyVarsCaseInsensitively(t *testing.T) {
	in := []string{
		"HTTP_PROXY=http://proxy:8080",
		"https_proxy=http://proxy:8080",
		"NO_PROXY=localhost",
		"all_proxy=socks5://proxy",
		"PATH=/usr/bin",
		"HOME=/root",
	}
	got := scrubProxyEnv(in)
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/root"}, got)
}

func TestScrubProxyEnv_EmptyInputStaysEmpty(t *testing.T) {
	assert.Empty(t, scrubProxyEnv(nil))
}

func TestNormalizeLanguage_ResolvesAliases(t *testing.T) {
	assert.Equal(t, LanguageNode, NormalizeLanguage("javascript"))
	assert.Equal(t, LanguageNode, NormalizeLanguage("JS"))
	assert.Equal(t, LanguageBash, NormalizeLanguage("shell"))
	assert.Equal(t, LanguagePython, NormalizeLanguage("python3"))
	assert.Equal(t, LanguagePHP, NormalizeLanguage("PHP"))
	assert.Equal(t, Language("fortran"), NormalizeLanguage("fortran"))
}

func TestLanguageTablesAreComplete(t *testing.T) {
	for lang := range images {
		assert.Contains(t, mainFilenames, lang)
		assert.Contains(t, runCommands, lang)
	}
}

func TestWriteWorkspace_WritesEntrypointAndFiles(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Language: LanguagePython,
		Code:     "print('hi')",
		Files:    map[string]string{"helper.py": "def f(): pass"},
	}
	require.NoError(t, writeWorkspace(dir, spec))

	main, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(main))

	helper, err := os.ReadFile(filepath.Join(dir, "helper.py"))
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass", string(helper))
}

func TestWriteWorkspace_RejectsPathTraversalInExtraFiles(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Language: LanguageBash,
		Code:     "echo hi",
		Files:    map[string]string{"../escape.sh": "rm -rf /"},
	}
	err := writeWorkspace(dir, spec)
	require.Error(t, err)
}

func TestWriteWorkspace_StripsLeadingSlashFromExtraFileNames(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Language: LanguageNode,
		Code:     "console.log('hi')",
		Files:    map[string]string{"/nested.js": "module.exports = {}"},
	}
	require.NoError(t, writeWorkspace(dir, spec))

	_, err := os.Stat(filepath.Join(dir, "nested.js"))
	assert.NoError(t, err)
}
