package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileIfExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "contents_2026-01-01_山姆.csv")
	dst := filepath.Join(dir, "01_raw", "contents_2026-01-01_山姆.csv")

	copied, err := CopyFileIfExists(src, dst, false)
	require.NoError(t, err)
	assert.False(t, copied, "missing src is a no-op")

	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))

	copied, err = CopyFileIfExists(src, dst, false)
	require.NoError(t, err)
	require.True(t, copied)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(b))

	require.NoError(t, os.WriteFile(src, []byte("a,b\n3,4\n"), 0o644))
	copied, err = CopyFileIfExists(src, dst, false)
	require.NoError(t, err)
	assert.False(t, copied, "existing dst kept without overwrite")
	b, _ = os.ReadFile(dst)
	assert.Equal(t, "a,b\n1,2\n", string(b))

	copied, err = CopyFileIfExists(src, dst, true)
	require.NoError(t, err)
	assert.True(t, copied)
	b, _ = os.ReadFile(dst)
	assert.Equal(t, "a,b\n3,4\n", string(b))
}

func TestWriteFileAtomicSameDirLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")
	require.NoError(t, WriteFileAtomicSameDir(path, []byte("x"), 0o600))
	require.NoError(t, WriteFileAtomicSameDir(path, []byte("y"), 0o600))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.csv", entries[0].Name())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "山姆", TruncateRunes("山姆会员店", 2))
	assert.Equal(t, "山姆会员店", TruncateRunes("山姆会员店", 0))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("", 3))
}

func TestDecodeModelJSON(t *testing.T) {
	t.Parallel()

	type out struct {
		Label string `json:"label"`
	}

	var v out
	require.NoError(t, DecodeModelJSON(`{"label":"positive"}`, &v))
	assert.Equal(t, "positive", v.Label)

	v = out{}
	require.NoError(t, DecodeModelJSON("```json\n{\"label\":\"negative\"}\n```", &v))
	assert.Equal(t, "negative", v.Label)

	v = out{}
	require.NoError(t, DecodeModelJSON(`Sure. {"label":"neutral"} Hope that helps.`, &v))
	assert.Equal(t, "neutral", v.Label)

	assert.Error(t, DecodeModelJSON("   ", &v))
	assert.Error(t, DecodeModelJSON("no json here", &v))
}
