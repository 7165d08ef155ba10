package pipeline

import (
	"fmt"
	"sync"

	"github.com/go-ego/gse"
)

// generalDictionary returns the words of gse's embedded simplified Chinese dictionary, a
// jieba-format word list. It is parsed once per process; callers must not modify the slice.
var generalDictionary = sync.OnceValues(func() ([]string, error) {
	seg := gse.Segmenter{SkipLog: true}
	if err := seg.LoadDictEmbed("zh_s"); err != nil {
		return nil, fmt.Errorf("load embedded dictionary: %w", err)
	}
	tokens := seg.Dict.Tokens
	words := make([]string, 0, len(tokens))
	for i := range tokens {
		words = append(words, tokens[i].Text())
	}
	return words, nil
})
