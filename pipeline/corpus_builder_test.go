package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func newBuildOptions(t *testing.T, kind, in, out string) BuildOptions {
	t.Helper()
	return BuildOptions{
		Kind:        kind,
		InputDir:    in,
		OutputDir:   out,
		Normalizer:  NewNormalizer(DefaultScriptSet()),
		Segmenter:   newTestSegmenter(t),
		Concurrency: 3,
	}
}

func TestSelectTextField(t *testing.T) {
	t.Parallel()

	cands := DefaultCandidateFields[KindContents]
	assert.Equal(t, FieldFound("desc"), SelectTextField([]string{"title", "content", "desc"}, cands))
	assert.Equal(t, FieldFound("description"), SelectTextField([]string{"description", "content"}, cands))
	assert.Equal(t, FieldFound("content"), SelectTextField([]string{"content"}, cands))
	assert.Equal(t, FieldMissing, SelectTextField([]string{"title"}, cands))
	assert.False(t, FieldMissing.Found)
}

func TestBuildCorpusComments(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	writeShard(t, in, "search_comments_2026-01-25_山姆必买.csv",
		[]string{"comment_id", "content", "create_time"},
		[]string{"c1", "<b>不 好吃</b>，再也不买了", "1769313600000"},
		[]string{"c2", "瑞士卷超级好吃！https://t.cn/abc", ""},
	)
	writeShard(t, in, "comments_2026-01-26_盒马.csv",
		[]string{"comment_id", "content"},
		[]string{"c3", "价格便宜"},
	)
	writeShard(t, in, "search_contents_2026-01-25_山姆必买.csv", []string{"desc"}, []string{"ignored"})
	require.NoError(t, os.WriteFile(filepath.Join(in, "search_comments_2026-01-27_broken.csv"), nil, 0o644))

	res, err := BuildCorpus(context.Background(), newBuildOptions(t, KindComments, in, out))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "processed_all_comments.csv"), res.OutputPath)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, FieldFound("content"), res.TextField)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, map[string]int{"盒马": 1, "山姆必买": 2}, res.Keywords)

	tbl, err := fileutils.ReadTable(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"comment_id", "content", "create_time", "keyword", "cleaned_text", "tokens", "created_at"}, tbl.Header)

	// comments_2026-01-26_盒马.csv sorts before the search_ prefixed file.
	assert.Equal(t, []string{"c3", "c1", "c2"}, tbl.Column("comment_id"))
	assert.Equal(t, []string{"盒马", "山姆必买", "山姆必买"}, tbl.Column(ColumnKeyword))
	assert.Equal(t, "不 好吃 再也不买了", tbl.Value(1, ColumnCleanedText))
	assert.Contains(t, tbl.Value(1, ColumnTokens), "不好吃")
	assert.Equal(t, "瑞士卷超级好吃", tbl.Value(2, ColumnCleanedText))
	assert.Equal(t, "2026-01-25T04:00:00Z", tbl.Value(1, ColumnCreatedAt))
	assert.Equal(t, "", tbl.Value(2, ColumnCreatedAt))
}

func TestBuildCorpusMissingTextFieldTagsOnly(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	writeShard(t, in, "search_contents_2026-01-25_山姆.csv", []string{"note_id", "title"}, []string{"n1", "标题"})

	res, err := BuildCorpus(context.Background(), newBuildOptions(t, KindContents, in, out))
	require.NoError(t, err)
	assert.Equal(t, FieldMissing, res.TextField)

	tbl, err := fileutils.ReadTable(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"note_id", "title", "keyword", "created_at"}, tbl.Header)
	assert.False(t, tbl.Has(ColumnCleanedText))
	assert.False(t, tbl.Has(ColumnTokens))
}

func TestBuildCorpusCustomCandidates(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	writeShard(t, in, "search_contents_2026-01-25_山姆.csv", []string{"desc", "title"}, []string{"正文", "标题好吃"})

	opts := newBuildOptions(t, KindContents, in, out)
	opts.CandidateFields = []string{"title", "desc"}
	opts.OutputName = "contents.csv"
	res, err := BuildCorpus(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, FieldFound("title"), res.TextField)
	assert.Equal(t, filepath.Join(out, "contents.csv"), res.OutputPath)
}

func TestBuildCorpusNoFiles(t *testing.T) {
	t.Parallel()

	_, err := BuildCorpus(context.Background(), newBuildOptions(t, KindContents, t.TempDir(), t.TempDir()))
	assert.True(t, errors.Is(err, ErrNoShardFiles))
}

func TestBuildCorpusValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := BuildCorpus(context.Background(), BuildOptions{Kind: "notes", InputDir: "a", OutputDir: "b"})
	assert.Error(t, err)

	opts := newBuildOptions(t, KindComments, t.TempDir(), t.TempDir())
	opts.Segmenter = nil
	_, err = BuildCorpus(context.Background(), opts)
	assert.Error(t, err)
}

func TestBuildCorpusPreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	texts := []string{"好吃", "新鲜", "划算", "推荐", "满意", "喜欢", "实惠", "便宜", "方便", "干净"}
	rows := make([][]string, 0, len(texts)*20)
	for i := 0; i < 20; i++ {
		for _, s := range texts {
			rows = append(rows, []string{s})
		}
	}
	writeShard(t, in, "search_comments_2026-01-25_k.csv", []string{"content"}, rows...)

	opts := newBuildOptions(t, KindComments, in, out)
	opts.Concurrency = 8
	res, err := BuildCorpus(context.Background(), opts)
	require.NoError(t, err)

	tbl, err := fileutils.ReadTable(res.OutputPath)
	require.NoError(t, err)
	for i := range rows {
		require.Equal(t, rows[i][0], tbl.Value(i, ColumnCleanedText), "row %d", i)
		require.Equal(t, rows[i][0], tbl.Value(i, ColumnTokens), "row %d", i)
	}
}

func TestBuildCorporaSkipsMissingKinds(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	writeShard(t, in, "search_comments_2026-01-25_山姆.csv", []string{"text"}, []string{"好吃"})

	base := newBuildOptions(t, "", in, out)
	var asked []string
	results, err := BuildCorpora(context.Background(), Kinds, base, func(kind string) []string {
		asked = append(asked, kind)
		return []string{"text"}
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, KindComments, results[0].Kind)
	assert.Equal(t, FieldFound("text"), results[0].TextField)
	assert.ElementsMatch(t, Kinds, asked)

	_, err = BuildCorpora(context.Background(), Kinds, newBuildOptions(t, "", t.TempDir(), out), nil)
	assert.ErrorIs(t, err, ErrNoShardFiles)
}
