package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizerClean(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultScriptSet())
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "blank", in: " \t\n", want: ""},
		{name: "plain", in: "山姆的瑞士卷很好吃", want: "山姆的瑞士卷很好吃"},
		{name: "markup", in: "<p>好吃</p><br/><b>推荐</b>", want: "好吃推荐"},
		{name: "escaped markup", in: "&lt;div&gt;新鲜&lt;/div&gt;", want: "新鲜"},
		{name: "script body", in: "好<script>var x = '坏';</script>吃", want: "好吃"},
		{name: "url", in: "看这里https://www.xiaohongshu.com/explore/abc?x=1 超划算", want: "看这里 超划算"},
		{name: "latin and digits", in: "Sam's Club 会员 258元/年!!", want: "会员 元 年"},
		{name: "fullwidth punctuation", in: "好吃！！！真的，推荐。", want: "好吃 真的 推荐"},
		{name: "emoji shortcode", in: "[笑哭R][笑哭R]太好吃了", want: "笑哭 笑哭 太好吃了"},
		{name: "entities", in: "价格&amp;质量&nbsp;都好", want: "价格 质量 都好"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, n.Clean(tc.in))
		})
	}
}

func TestNormalizerCleanAny(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultScriptSet())
	assert.Equal(t, "", n.CleanAny(nil))
	assert.Equal(t, "", n.CleanAny(42))
	assert.Equal(t, "好吃", n.CleanAny("好吃!"))
}

func TestNormalizerConfigurableScripts(t *testing.T) {
	t.Parallel()

	set, err := ParseScriptSet("Han, Latin, Nd")
	require.NoError(t, err)
	n := NewNormalizer(set)
	assert.Equal(t, "Sam s Club 会员 258元 年", n.Clean("Sam's Club 会员 258元/年"))

	// Full-width Latin folds to ASCII before filtering.
	assert.Equal(t, "Costco", n.Clean("Ｃｏｓｔｃｏ"))
}

func TestParseScriptSet(t *testing.T) {
	t.Parallel()

	set, err := ParseScriptSet("4E00-9FA5,3007")
	require.NoError(t, err)
	assert.True(t, set.Contains('好'))
	assert.True(t, set.Contains('〇'))
	assert.False(t, set.Contains('a'))
	assert.False(t, set.Contains('龦'))
	assert.Equal(t, "4E00-9FA5,3007", set.String())

	set, err = ParseScriptSet("U+20000-U+2A6DF")
	require.NoError(t, err)
	assert.True(t, set.Contains('\U00020000'))

	for _, bad := range []string{"", "Klingon", "9FA5-4E00", "zz-zz", ","} {
		_, err := ParseScriptSet(bad)
		assert.Error(t, err, bad)
	}
}
