package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

// TermCount is one row of a term frequency table.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
	// Docs is the number of records the term appeared in at least once.
	Docs int `json:"docs"`
}

// TermFrequencies accumulates token counts across records.
type TermFrequencies struct {
	Version int         `json:"version"`
	Records int         `json:"records"`
	Entries []TermCount `json:"entries"`

	index map[string]int
}

func NewTermFrequencies() *TermFrequencies {
	return &TermFrequencies{Version: 1, Entries: []TermCount{}, index: map[string]int{}}
}

// Add folds in the tokens of one record.
func (tf *TermFrequencies) Add(tokens []string) {
	if tf.index == nil {
		tf.rebuildIndex()
	}
	tf.Records++
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		i, ok := tf.index[tok]
		if !ok {
			tf.Entries = append(tf.Entries, TermCount{Term: tok})
			i = len(tf.Entries) - 1
			tf.index[tok] = i
		}
		tf.Entries[i].Count++
		if _, dup := seen[tok]; !dup {
			seen[tok] = struct{}{}
			tf.Entries[i].Docs++
		}
	}
}

// AddTokenString folds in a whitespace-joined tokens cell.
func (tf *TermFrequencies) AddTokenString(s string) {
	tf.Add(strings.Fields(s))
}

// Sorted orders entries by count descending, then term, and returns them.
func (tf *TermFrequencies) Sorted() []TermCount {
	sort.SliceStable(tf.Entries, func(i, j int) bool {
		if tf.Entries[i].Count != tf.Entries[j].Count {
			return tf.Entries[i].Count > tf.Entries[j].Count
		}
		return tf.Entries[i].Term < tf.Entries[j].Term
	})
	tf.rebuildIndex()
	return tf.Entries
}

// Top returns at most n entries in Sorted order. n <= 0 returns all of them.
func (tf *TermFrequencies) Top(n int) []TermCount {
	all := tf.Sorted()
	if n <= 0 || n >= len(all) {
		return append([]TermCount(nil), all...)
	}
	return append([]TermCount(nil), all[:n]...)
}

// Cull drops terms seen fewer than minCount times.
func (tf *TermFrequencies) Cull(minCount int) {
	if minCount <= 1 {
		return
	}
	out := tf.Entries[:0]
	for _, e := range tf.Entries {
		if e.Count >= minCount {
			out = append(out, e)
		}
	}
	tf.Entries = out
	tf.rebuildIndex()
}

func (tf *TermFrequencies) rebuildIndex() {
	tf.index = make(map[string]int, len(tf.Entries))
	for i, e := range tf.Entries {
		tf.index[e.Term] = i
	}
}

// SaveTermFrequencies writes the table as sorted, indented JSON.
func SaveTermFrequencies(path string, tf *TermFrequencies) error {
	if path == "" {
		return errors.New("SaveTermFrequencies: path is empty")
	}
	tf.Sorted()
	if err := fileutils.WriteJSONFileAtomic(path, tf, true); err != nil {
		return fmt.Errorf("SaveTermFrequencies: %w", err)
	}
	return nil
}

// CorpusTermFrequencies counts the tokens column of t. A table without one yields an empty table.
func CorpusTermFrequencies(t fileutils.Table) *TermFrequencies {
	tf := NewTermFrequencies()
	if !t.Has(ColumnTokens) {
		return tf
	}
	for _, tok := range t.Column(ColumnTokens) {
		tf.AddTokenString(tok)
	}
	return tf
}

func TermsFileName(kind string) string { return "terms_" + kind + ".json" }
