package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShardName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		ok      bool
		prefix  string
		kind    string
		date    string
		keyword string
	}{
		{name: "contents_2026-01-01_山姆.csv", ok: true, kind: "contents", date: "2026-01-01", keyword: "山姆"},
		{name: "search_comments_2026-01-25_山姆必买.csv", ok: true, prefix: "search", kind: "comments", date: "2026-01-25", keyword: "山姆必买"},
		{name: "search_contents_2026-01-25_山姆_会员店.CSV", ok: true, prefix: "search", kind: "contents", date: "2026-01-25", keyword: "山姆_会员店"},
		{name: "creator_contents_2026-01-25.csv", ok: false},
		{name: "contents_2026-13-40_山姆.csv", ok: false},
		{name: "notes_2026-01-01_山姆.csv", ok: false},
		{name: "contents_2026-01-01_山姆.json", ok: false},
		{name: "processed_all_contents.csv", ok: false},
		{name: "README.md", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sf, ok := ParseShardName(tc.name)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.prefix, sf.Prefix)
			assert.Equal(t, tc.kind, sf.Kind)
			assert.Equal(t, tc.date, sf.Date.Format(time.DateOnly))
			assert.Equal(t, tc.keyword, sf.Keyword)
		})
	}
}

func TestGroupKeyOfIsPureAndPathStable(t *testing.T) {
	t.Parallel()

	a, ok := GroupKeyOf("data/01_raw/contents_2026-01-01_山姆.csv")
	require.True(t, ok)
	b, ok := GroupKeyOf("./data/../data/01_raw//search_contents_2026-03-09_山姆.csv")
	require.True(t, ok)
	c, ok := GroupKeyOf(filepath.Join("/elsewhere", "contents_2025-12-31_山姆.csv"))
	require.True(t, ok)

	want := GroupKey{Kind: KindContents, Keyword: "山姆"}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
	assert.Equal(t, want, c)

	d, ok := GroupKeyOf("data/comments_2026-01-01_山姆.csv")
	require.True(t, ok)
	assert.NotEqual(t, want, d)

	_, ok = GroupKeyOf("data/not_a_shard.csv")
	assert.False(t, ok)
}

func TestGroupShardsOrdersByDateThenName(t *testing.T) {
	t.Parallel()

	groups := GroupShards([]string{
		"raw/contents_2026-01-03_山姆.csv",
		"raw/comments_2026-01-01_山姆.csv",
		"raw/search_contents_2026-01-01_山姆.csv",
		"raw/contents_2026-01-01_山姆.csv",
		"raw/contents_2026-01-02_盒马.csv",
		"raw/stray.csv",
	})
	require.Len(t, groups, 3)

	assert.Equal(t, GroupKey{Kind: KindComments, Keyword: "山姆"}, groups[0].Key)
	assert.Equal(t, GroupKey{Kind: KindContents, Keyword: "山姆"}, groups[1].Key)
	assert.Equal(t, GroupKey{Kind: KindContents, Keyword: "盒马"}, groups[2].Key)

	var names []string
	for _, m := range groups[1].Members {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{
		"contents_2026-01-01_山姆.csv",
		"search_contents_2026-01-01_山姆.csv",
		"contents_2026-01-03_山姆.csv",
	}, names)
	assert.Equal(t, filepath.Clean("raw/contents_2026-01-01_山姆.csv"), groups[1].Earliest().Path)
}

func TestKeywordFromFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "山姆必买", KeywordFromFilename("search_comments_2026-01-25_山姆必买.csv"))
	assert.Equal(t, "山姆_会员", KeywordFromFilename("/tmp/search_contents_2026-01-25_山姆_会员.csv"))
	assert.Equal(t, "unknown", KeywordFromFilename("processed_all_contents.csv"))
	assert.Equal(t, "unknown", KeywordFromFilename("notes.csv"))
	assert.Equal(t, "x_y", KeywordFromFilename("export_batch_one_x_y.csv"), "non-shard names use the segment rule")

	// Unprefixed shards are tagged with their grouping keyword.
	for _, name := range []string{"contents_2026-01-25_山姆.csv", "search_contents_2026-01-25_山姆.csv"} {
		key, ok := GroupKeyOf(name)
		require.True(t, ok)
		assert.Equal(t, key.Keyword, KeywordFromFilename(name), name)
		assert.Equal(t, "山姆", KeywordFromFilename(name), name)
	}
}
