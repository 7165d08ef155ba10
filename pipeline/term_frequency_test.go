package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func TestTermFrequencies_CountsOccurrencesAndDocs(t *testing.T) {
	t.Parallel()

	tf := NewTermFrequencies()
	tf.AddTokenString("好吃 山姆 好吃")
	tf.Add([]string{"山姆", "瑞士卷", " "})
	tf.AddTokenString("")

	if tf.Records != 3 {
		t.Fatalf("Records=%d, want 3", tf.Records)
	}
	got := tf.Sorted()
	want := []TermCount{
		{Term: "好吃", Count: 2, Docs: 1},
		{Term: "山姆", Count: 2, Docs: 2},
		{Term: "瑞士卷", Count: 1, Docs: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("entries=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d=%+v, want %+v", i, got[i], want[i])
		}
	}

	// Counting after sorting must still hit the existing entry.
	tf.Add([]string{"瑞士卷"})
	if top := tf.Top(1); len(top) != 1 || top[0].Term != "好吃" {
		t.Fatalf("Top(1)=%v", top)
	}
	for _, e := range tf.Entries {
		if e.Term == "瑞士卷" && e.Count != 2 {
			t.Fatalf("瑞士卷 count=%d, want 2", e.Count)
		}
	}
}

func TestTermFrequencies_Cull(t *testing.T) {
	t.Parallel()

	tf := NewTermFrequencies()
	tf.AddTokenString("a1 a1 a1 b2 b2 c3")
	tf.Cull(2)
	if len(tf.Entries) != 2 {
		t.Fatalf("entries=%v, want 2", tf.Entries)
	}
	tf.Add([]string{"c3"})
	if len(tf.Entries) != 3 {
		t.Fatalf("culled term should be re-addable, entries=%v", tf.Entries)
	}
}

func TestSaveTermFrequencies(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats", "terms.json")
	tf := NewTermFrequencies()
	tf.AddTokenString("新鲜 划算 新鲜")
	if err := SaveTermFrequencies(path, tf); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got TermFrequencies
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[0].Term != "新鲜" {
		t.Fatalf("entries=%v", got.Entries)
	}
	if err := SaveTermFrequencies("", tf); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestCorpusTermFrequencies(t *testing.T) {
	t.Parallel()

	tf := CorpusTermFrequencies(fileutils.Table{
		Header: []string{"keyword", "tokens"},
		Rows:   [][]string{{"山姆", "好吃 新鲜"}, {"山姆", "好吃"}},
	})
	if tf.Records != 2 {
		t.Fatalf("Records=%d, want 2", tf.Records)
	}
	if top := tf.Top(1); top[0] != (TermCount{Term: "好吃", Count: 2, Docs: 2}) {
		t.Fatalf("Top(1)=%v", top)
	}

	empty := CorpusTermFrequencies(fileutils.Table{Header: []string{"content"}, Rows: [][]string{{"x"}}})
	if empty.Records != 0 || len(empty.Entries) != 0 {
		t.Fatalf("table without tokens should count nothing, got %+v", empty)
	}
}
