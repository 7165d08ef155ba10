package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// domainResources skips the general dictionary so expectations only depend on the embedded
// domain words and rules.
func domainResources(t *testing.T) *LinguisticResources {
	t.Helper()
	empty := filepath.Join(t.TempDir(), "empty_dict.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	res, err := LoadLinguisticResources(ResourceOptions{BaseDictPath: empty})
	require.NoError(t, err)
	require.Zero(t, res.BaseWords)
	require.Positive(t, res.DomainWords)
	return res
}

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	seg, err := NewSegmenter(domainResources(t))
	require.NoError(t, err)
	return seg
}

func TestTokenizeFusesNegation(t *testing.T) {
	t.Parallel()

	seg := newTestSegmenter(t)

	toks := seg.Tokenize("不 好吃")
	assert.Contains(t, toks, "不好吃")
	assert.NotContains(t, toks, "好吃")

	toks = seg.Tokenize("这个瑞士卷不太新鲜 价格也不 划算")
	assert.Contains(t, toks, "瑞士卷")
	assert.Contains(t, toks, "不太新鲜")
	assert.Contains(t, toks, "不划算")
	assert.NotContains(t, toks, "新鲜")
	assert.NotContains(t, toks, "划算")
}

func TestTokenizeNegationNeedsAWholeTarget(t *testing.T) {
	t.Parallel()

	seg := newTestSegmenter(t)

	toks := seg.Tokenize("不好意思 让一下")
	assert.NotContains(t, toks, "不好")
	for _, tok := range toks {
		assert.NotContains(t, tok, "不好", "apology must not become a negated feature")
	}

	toks = seg.Tokenize("好不好吃 新不新鲜")
	assert.NotContains(t, toks, "不好吃")
	assert.NotContains(t, toks, "不新鲜")

	assert.Equal(t, []string{"一点都不好吃"}, seg.Tokenize("一点都不好吃"))
	assert.Equal(t, []string{"不错", "不贵"}, seg.Tokenize("不错 不贵"))
}

func TestTokenizeWithGeneralDictionary(t *testing.T) {
	t.Parallel()

	res, err := DefaultLinguisticResources()
	require.NoError(t, err)
	assert.Greater(t, res.BaseWords, 100000)
	seg, err := NewSegmenter(res)
	require.NoError(t, err)

	// Compound entries such as 服务态度 may come out whole, so check coverage rather than exact tokens.
	joined := strings.Join(seg.Tokenize("这家店的服务态度非常差 排队等了一个小时"), " ")
	for _, word := range []string{"服务", "态度", "排队", "小时"} {
		assert.Contains(t, joined, word)
	}

	toks := seg.Tokenize("价格也不 划算 面包不太新鲜")
	assert.Contains(t, toks, "不划算")
	assert.Contains(t, toks, "不太新鲜")
	assert.NotContains(t, toks, "划算")
}

func TestTokenizeFiltersStopwordsAndSingleRunes(t *testing.T) {
	t.Parallel()

	seg := newTestSegmenter(t)
	toks := seg.Tokenize("我们 觉得 山姆的烤鸡 真的 好吃 笑哭")
	assert.Equal(t, []string{"山姆", "烤鸡", "好吃"}, filterKnown(toks, "山姆", "烤鸡", "好吃"))
	for _, tok := range toks {
		assert.NotEqual(t, "我们", tok)
		assert.NotEqual(t, "真的", tok)
		assert.NotEqual(t, "笑哭", tok)
		assert.GreaterOrEqual(t, len([]rune(tok)), 2, tok)
	}

	assert.Nil(t, seg.Tokenize(""))
	assert.Nil(t, seg.Tokenize("   "))
}

func filterKnown(toks []string, keep ...string) []string {
	want := map[string]bool{}
	for _, k := range keep {
		want[k] = true
	}
	var out []string
	for _, t := range toks {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

func TestTokenizeKeepsLatinRunsTogether(t *testing.T) {
	t.Parallel()

	seg := newTestSegmenter(t)
	toks := seg.Tokenize("Costco 和 山姆 pk2026")
	assert.Equal(t, []string{"Costco", "山姆", "pk2026"}, toks)
}

func TestTokenizeIsDeterministicAndConcurrent(t *testing.T) {
	t.Parallel()

	seg := newTestSegmenter(t)
	text := "山姆会员店的榴莲千层非常好吃 但是排队太久 不推荐周末去"
	want := seg.Tokenize(text)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, seg.Tokenize(text))
		}()
	}
	wg.Wait()
	assert.Contains(t, want, "不推荐")
	assert.Contains(t, want, "山姆会员店")
}

func TestLoadLinguisticResourcesOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	user := filepath.Join(dir, "user_dict.txt")
	stop := filepath.Join(dir, "stopwords.txt")
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(user, []byte("鲜肉月饼 10 n\n# comment\n\n"), 0o644))
	require.NoError(t, os.WriteFile(stop, []byte("\ufeff山姆\n\n"), 0o644))
	require.NoError(t, os.WriteFile(rules, []byte("version: 7\nnegation_markers: [不]\nnegation_targets: [好吃]\nbuiltin_stopwords: [非常]\n"), 0o644))

	res, err := LoadLinguisticResources(ResourceOptions{UserDictPath: user, StopwordsPath: stop, ResourcesPath: rules})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Version)
	assert.Equal(t, 1, res.UserWords)
	assert.Equal(t, 1, res.FileStopwords)

	seg, err := NewSegmenter(res)
	require.NoError(t, err)
	assert.Equal(t, 7, seg.ResourceVersion())
	assert.Equal(t, []string{"鲜肉月饼", "不好吃"}, seg.Tokenize("山姆 鲜肉月饼 非常 不 好吃"))
}

func TestLoadLinguisticResourcesMissingFilesDegrade(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res, err := LoadLinguisticResources(ResourceOptions{
		BaseDictPath:  filepath.Join(dir, "missing_base.txt"),
		UserDictPath:  filepath.Join(dir, "missing_user.txt"),
		StopwordsPath: filepath.Join(dir, "missing_stop.txt"),
		ResourcesPath: filepath.Join(dir, "missing.yaml"),
	})
	require.NoError(t, err)
	assert.Positive(t, res.BaseWords, "missing base dictionary falls back to the general one")
	assert.Zero(t, res.UserWords)
	assert.Zero(t, res.FileStopwords)
	assert.NotEmpty(t, res.NegationMarkers)
}

func TestLoadLinguisticResourcesBadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("negation_markers: {not: [a list"), 0o644))
	_, err := LoadLinguisticResources(ResourceOptions{ResourcesPath: path})
	assert.Error(t, err)
}

func TestNewSegmenterNilResources(t *testing.T) {
	t.Parallel()

	_, err := NewSegmenter(nil)
	assert.Error(t, err)
}

func TestAddWordsKeepsTermsWhole(t *testing.T) {
	t.Parallel()

	res := domainResources(t)
	before, err := NewSegmenter(res)
	require.NoError(t, err)
	assert.NotContains(t, before.Tokenize("奥乐齐的牛奶"), "奥乐齐")

	res.AddWords("奥乐齐", " ", "奥")
	seg, err := NewSegmenter(res)
	require.NoError(t, err)
	assert.Contains(t, seg.Tokenize("奥乐齐的牛奶"), "奥乐齐")
}
