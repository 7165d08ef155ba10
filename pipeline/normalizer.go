package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/width"
)

// DefaultTargetScripts keeps the CJK Unified Ideographs basic block and nothing else.
const DefaultTargetScripts = "4E00-9FA5"

var urlPattern = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// ScriptSet is the set of runes the normalizer keeps. It is built from a comma separated list
// of hex ranges ("4E00-9FA5"), single code points ("3007") and Unicode script or category
// names ("Han", "Latin", "Nd").
type ScriptSet struct {
	expr   string
	tables []*unicode.RangeTable
}

func ParseScriptSet(expr string) (ScriptSet, error) {
	set := ScriptSet{expr: strings.TrimSpace(expr)}
	if set.expr == "" {
		return ScriptSet{}, fmt.Errorf("ParseScriptSet: empty script set")
	}
	for _, part := range strings.Split(set.expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, ok := unicode.Scripts[part]; ok {
			set.tables = append(set.tables, t)
			continue
		}
		if t, ok := unicode.Categories[part]; ok {
			set.tables = append(set.tables, t)
			continue
		}
		t, err := parseRuneRange(part)
		if err != nil {
			return ScriptSet{}, fmt.Errorf("ParseScriptSet %q: %w", expr, err)
		}
		set.tables = append(set.tables, t)
	}
	if len(set.tables) == 0 {
		return ScriptSet{}, fmt.Errorf("ParseScriptSet %q: no ranges", expr)
	}
	return set, nil
}

func DefaultScriptSet() ScriptSet {
	s, err := ParseScriptSet(DefaultTargetScripts)
	if err != nil {
		panic(err)
	}
	return s
}

func parseRuneRange(s string) (*unicode.RangeTable, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "U+"), "u+")
	lo, hi, isRange := strings.Cut(s, "-")
	loV, err := strconv.ParseUint(strings.TrimSpace(lo), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad code point %q", lo)
	}
	hiV := loV
	if isRange {
		hi = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hi), "U+"), "u+")
		hiV, err = strconv.ParseUint(hi, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad code point %q", hi)
		}
	}
	if hiV < loV || hiV > unicode.MaxRune {
		return nil, fmt.Errorf("bad range %q", s)
	}
	if hiV <= 0xFFFF {
		return &unicode.RangeTable{R16: []unicode.Range16{{Lo: uint16(loV), Hi: uint16(hiV), Stride: 1}}}, nil
	}
	return &unicode.RangeTable{R32: []unicode.Range32{{Lo: uint32(loV), Hi: uint32(hiV), Stride: 1}}}, nil
}

func (s ScriptSet) Contains(r rune) bool {
	for _, t := range s.tables {
		if unicode.Is(t, r) {
			return true
		}
	}
	return false
}

func (s ScriptSet) String() string { return s.expr }

// Normalizer turns scraped free text into whitespace separated runs of target-script runes.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	scripts ScriptSet
}

func NewNormalizer(scripts ScriptSet) *Normalizer {
	if len(scripts.tables) == 0 {
		scripts = DefaultScriptSet()
	}
	return &Normalizer{scripts: scripts}
}

func (n *Normalizer) Scripts() ScriptSet { return n.scripts }

// Clean never fails. Entities are decoded before tags are stripped, so escaped markup is
// removed too.
func (n *Normalizer) Clean(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = stripMarkup(text)
	text = width.Fold.String(text)
	text = urlPattern.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if n.scripts.Contains(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CleanAny cleans string values and maps anything else, nil included, to "".
func (n *Normalizer) CleanAny(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return n.Clean(s)
}

func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
