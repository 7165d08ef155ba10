package fileutils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestParseTableStripsBOMAndPadsShortRows(t *testing.T) {
	t.Parallel()

	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("note_id,desc,date\nn1,好吃\nn2,\"a,b\",2026-01-01\n")...)
	tbl, err := ParseTable(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"note_id", "desc", "date"}, tbl.Header)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"n1", "好吃", ""}, tbl.Rows[0])
	assert.Equal(t, "a,b", tbl.Value(1, "desc"))
	assert.Equal(t, "", tbl.Value(0, "missing"))
}

func TestParseTableFallsBackToGBK(t *testing.T) {
	t.Parallel()

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("content\n山姆的瑞士卷很好吃\n"))
	require.NoError(t, err)

	tbl, err := ParseTable(gbk)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "山姆的瑞士卷很好吃", tbl.Value(0, "content"))
}

func TestParseTableErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseTable(nil)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = ParseTable([]byte("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestConcatTablesUnionHeader(t *testing.T) {
	t.Parallel()

	a := Table{Header: []string{"id", "desc"}, Rows: [][]string{{"1", "x"}}}
	b := Table{Header: []string{"desc", "liked_count"}, Rows: [][]string{{"y", "7"}, {"z", "8"}}}

	got := ConcatTables(a, b)
	assert.Equal(t, []string{"id", "desc", "liked_count"}, got.Header)
	assert.Equal(t, [][]string{
		{"1", "x", ""},
		{"", "y", "7"},
		{"", "z", "8"},
	}, got.Rows)
}

func TestSetColumn(t *testing.T) {
	t.Parallel()

	tbl := Table{Header: []string{"content"}, Rows: [][]string{{"a"}, {"b"}}}
	require.NoError(t, tbl.SetColumn("keyword", []string{"k1", "k2"}))
	require.NoError(t, tbl.SetColumn("content", []string{"A", "B"}))
	assert.Equal(t, []string{"content", "keyword"}, tbl.Header)
	assert.Equal(t, []string{"A", "B"}, tbl.Column("content"))
	assert.Equal(t, []string{"k1", "k2"}, tbl.Column("keyword"))

	assert.Error(t, tbl.SetColumn("bad", []string{"only-one"}))
}

func TestWriteTableAtomicWritesBOM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "processed_all_comments.csv")
	in := Table{Header: []string{"content", "tokens"}, Rows: [][]string{{"不 好吃", "不好吃"}, {"line\nbreak", ""}}}
	require.NoError(t, WriteTableAtomic(path, in, 0o644))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}), "expected utf-8 BOM")

	out, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
