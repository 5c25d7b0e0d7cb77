package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags() {
	configFile, logLevel = "", ""
	renderDataFile, renderMode, renderRoot, renderOutDir = "", "", ".", ""
	renderDeferred, renderWatch, renderWorkers = nil, false, 4
	checkRoot = "."
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestRenderCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"hello.txt":      `{% include "parts/name.txt" %}: {{ items|join(",") }}`,
		"parts/name.txt": `Hello {{ user.name }}`,
		"data.yaml":      "user:\n  name: Ann\nitems: [1, 2]\n",
	})

	out, err := execute(t, "render", "--root", dir, "--data", filepath.Join(dir, "data.yaml"), "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ann: 1,2", out)
}

func TestRenderCommandWritesOutDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt":     "a={{ 1 + 1 }}",
		"sub/b.txt": "b={{ 'x'|upper }}",
	})
	outDir := t.TempDir()

	_, err := execute(t, "render", "--root", dir, "--out-dir", outDir, "a.txt", "sub/b.txt")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a=2", string(got))
	got, err = os.ReadFile(filepath.Join(outDir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b=X", string(got))
}

func TestRenderCommandFailsOnMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "render", "--root", dir, "missing.txt")
	assert.ErrorContains(t, err, "1 of 1 templates failed")
}

func TestCheckCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"good.txt": "{% if x %}y{% endif %}",
		"bad.txt":  "{% for %}",
	})

	out, err := execute(t, "check", "--root", dir, "good.txt", "bad.txt")
	assert.ErrorContains(t, err, "1 of 2 templates have errors")
	assert.Contains(t, out, "good.txt: ok")
	assert.Contains(t, out, "bad.txt: ")
}

func TestTokensCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{"t.txt": "a{{ b }}{% if c %}"})

	out, err := execute(t, "tokens", filepath.Join(dir, "t.txt"))
	require.NoError(t, err)
	assert.Contains(t, out, "LINE")
	assert.Contains(t, out, `"{{ b }}"`)
	assert.Regexp(t, `tag\s+if\s+"\{% if c %\}"`, out)
}
