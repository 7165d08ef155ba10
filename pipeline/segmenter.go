package pipeline

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// fusion is a negation marker and its target, found in the raw text and emitted as one token.
type fusion struct {
	start, end int
	token      string
}

// Segmenter splits cleaned text into content tokens with forward maximum matching against a
// fixed vocabulary. It is read-only after construction and safe for concurrent use.
type Segmenter struct {
	vocab     map[string]struct{}
	stopwords map[string]struct{}
	maxRunes  int
	negation  *regexp.Regexp
	version   int
}

func NewSegmenter(res *LinguisticResources) (*Segmenter, error) {
	if res == nil {
		return nil, errors.New("NewSegmenter: nil resources")
	}
	s := &Segmenter{
		vocab:     make(map[string]struct{}, len(res.Vocabulary)),
		stopwords: make(map[string]struct{}, len(res.Stopwords)),
		maxRunes:  1,
		version:   res.Version,
	}
	for w := range res.Vocabulary {
		s.vocab[w] = struct{}{}
		if n := utf8.RuneCountInString(w); n > s.maxRunes {
			s.maxRunes = n
		}
	}
	for w := range res.Stopwords {
		s.stopwords[w] = struct{}{}
	}

	if len(res.NegationMarkers) > 0 && len(res.NegationTargets) > 0 {
		// Markers and targets arrive longest first and Go alternation is leftmost-first, so
		// "一点都不" wins over "不" and one pass never fuses inside an earlier fusion.
		s.negation = regexp.MustCompile("(" + alternation(res.NegationMarkers) + `)\s*(` +
			alternation(res.NegationTargets) + ")")
	}
	return s, nil
}

// ResourceVersion reports the rule-set version the segmenter was built from.
func (s *Segmenter) ResourceVersion() int { return s.version }

// Tokenize returns content tokens in text order. Stopwords, single-rune tokens and blanks are
// dropped; negated sentiment words survive as one fused token.
func (s *Segmenter) Tokenize(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	last := 0
	for _, f := range s.fusions(text) {
		out = s.appendSegments(out, text[last:f.start])
		if s.keep(f.token) {
			out = append(out, f.token)
		}
		last = f.end
	}
	return s.appendSegments(out, text[last:])
}

// TokenString is Tokenize joined with single spaces, the storage form of the tokens column.
func (s *Segmenter) TokenString(text string) string {
	return strings.Join(s.Tokenize(text), " ")
}

// fusions finds marker+target pairs left to right. A marker between two copies of the
// target's first rune is an A-not-A question ("好不好吃"), not a negation, and is skipped.
func (s *Segmenter) fusions(text string) []fusion {
	if s.negation == nil {
		return nil
	}
	var out []fusion
	for _, m := range s.negation.FindAllStringSubmatchIndex(text, -1) {
		marker, target := text[m[2]:m[3]], text[m[4]:m[5]]
		prev, size := utf8.DecodeLastRuneInString(text[:m[0]])
		first, _ := utf8.DecodeRuneInString(target)
		if size > 0 && prev == first {
			continue
		}
		out = append(out, fusion{start: m[0], end: m[1], token: marker + target})
	}
	return out
}

func (s *Segmenter) appendSegments(out []string, text string) []string {
	for _, run := range strings.Fields(text) {
		for _, tok := range s.segmentRun(run) {
			if s.keep(tok) {
				out = append(out, tok)
			}
		}
	}
	return out
}

func (s *Segmenter) segmentRun(run string) []string {
	runes := []rune(run)
	var out []string
	for i := 0; i < len(runes); {
		n := s.longestMatch(runes, i)
		if n == 0 {
			n = 1
			if isWordRune(runes[i]) && !unicode.Is(unicode.Han, runes[i]) {
				for i+n < len(runes) && isWordRune(runes[i+n]) && !unicode.Is(unicode.Han, runes[i+n]) {
					n++
				}
			}
		}
		out = append(out, string(runes[i:i+n]))
		i += n
	}
	return out
}

func (s *Segmenter) longestMatch(runes []rune, start int) int {
	limit := s.maxRunes
	if rest := len(runes) - start; rest < limit {
		limit = rest
	}
	for n := limit; n >= 2; n-- {
		if _, ok := s.vocab[string(runes[start:start+n])]; ok {
			return n
		}
	}
	return 0
}

func (s *Segmenter) keep(tok string) bool {
	if strings.TrimSpace(tok) == "" {
		return false
	}
	if utf8.RuneCountInString(tok) < 2 {
		return false
	}
	_, stop := s.stopwords[tok]
	return !stop
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}
