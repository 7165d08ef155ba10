package pipeline

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
)

//go:embed data/resources.yaml
var embeddedResources []byte

//go:embed data/domain_dict.txt
var embeddedDomainDict []byte

// ResourceFile is the on-disk shape of the versioned linguistic rule set.
type ResourceFile struct {
	Version          int      `yaml:"version"`
	NegationMarkers  []string `yaml:"negation_markers"`
	NegationTargets  []string `yaml:"negation_targets"`
	BuiltinStopwords []string `yaml:"builtin_stopwords"`
}

// ResourceOptions points at optional overrides. An empty BaseDictPath means the embedded
// general Chinese dictionary; an empty ResourcesPath means the embedded rule file. The user
// dictionary and stopword list have no default. The embedded retail domain dictionary is
// always added.
type ResourceOptions struct {
	BaseDictPath  string
	UserDictPath  string
	StopwordsPath string
	ResourcesPath string
	Logger        *zerolog.Logger
}

// LinguisticResources is everything a Segmenter needs. It is built once and handed to the
// segmenter explicitly. Only the read-only general word list is shared between instances.
type LinguisticResources struct {
	Version         int
	Vocabulary      map[string]struct{}
	Stopwords       map[string]struct{}
	NegationMarkers []string
	NegationTargets []string

	BaseWords     int
	DomainWords   int
	UserWords     int
	FileStopwords int
}

// LoadLinguisticResources assembles resources from the embedded defaults plus any override
// files. Override files that do not exist are logged and ignored. A rule file that exists
// but cannot be parsed is an error.
func LoadLinguisticResources(opts ResourceOptions) (*LinguisticResources, error) {
	log := observability.LoggerOrNop(opts.Logger)

	ruleData := embeddedResources
	if opts.ResourcesPath != "" {
		b, ok, err := readOptional(opts.ResourcesPath)
		if err != nil {
			return nil, fmt.Errorf("LoadLinguisticResources: %w", err)
		}
		if ok {
			ruleData = b
		} else {
			log.Warn().Str("file", opts.ResourcesPath).Msg("linguistic resource file missing, using built-in rules")
		}
	}
	var rules ResourceFile
	if err := yaml.Unmarshal(ruleData, &rules); err != nil {
		return nil, fmt.Errorf("LoadLinguisticResources: parse rules: %w", err)
	}

	res := &LinguisticResources{
		Version:    rules.Version,
		Vocabulary: map[string]struct{}{},
		Stopwords:  map[string]struct{}{},
	}

	baseLoaded := false
	if opts.BaseDictPath != "" {
		b, ok, err := readOptional(opts.BaseDictPath)
		if err != nil {
			return nil, fmt.Errorf("LoadLinguisticResources: %w", err)
		}
		if ok {
			res.BaseWords = res.addDictionary(b)
			baseLoaded = true
		} else {
			log.Warn().Str("file", opts.BaseDictPath).Msg("base dictionary missing, using built-in dictionary")
		}
	}
	if !baseLoaded {
		words, err := generalDictionary()
		if err != nil {
			return nil, fmt.Errorf("LoadLinguisticResources: %w", err)
		}
		for _, w := range words {
			res.addWord(w)
		}
		res.BaseWords = len(words)
	}
	res.DomainWords = res.addDictionary(embeddedDomainDict)

	if opts.UserDictPath != "" {
		b, ok, err := readOptional(opts.UserDictPath)
		if err != nil {
			return nil, fmt.Errorf("LoadLinguisticResources: %w", err)
		}
		if ok {
			res.UserWords = res.addDictionary(b)
		} else {
			log.Warn().Str("file", opts.UserDictPath).Msg("user dictionary missing, continuing without it")
		}
	}

	for _, w := range rules.BuiltinStopwords {
		if w = strings.TrimSpace(w); w != "" {
			res.Stopwords[w] = struct{}{}
		}
	}
	if opts.StopwordsPath != "" {
		b, ok, err := readOptional(opts.StopwordsPath)
		if err != nil {
			return nil, fmt.Errorf("LoadLinguisticResources: %w", err)
		}
		if ok {
			res.FileStopwords = res.addStopwords(b)
		} else {
			log.Warn().Str("file", opts.StopwordsPath).Msg("stopword list missing, using built-in stopwords only")
		}
	}

	res.NegationMarkers = cleanWordList(rules.NegationMarkers)
	res.NegationTargets = cleanWordList(rules.NegationTargets)
	for _, m := range res.NegationMarkers {
		res.addWord(m)
	}
	for _, t := range res.NegationTargets {
		res.addWord(t)
	}
	// Multi-rune stopwords must segment as units to be filtered as units.
	for w := range res.Stopwords {
		res.addWord(w)
	}

	log.Debug().Int("version", res.Version).Int("base_words", res.BaseWords).Int("domain_words", res.DomainWords).
		Int("user_words", res.UserWords).Int("stopwords", len(res.Stopwords)).Msg("linguistic resources loaded")
	return res, nil
}

// DefaultLinguisticResources loads only the embedded defaults.
func DefaultLinguisticResources() (*LinguisticResources, error) {
	return LoadLinguisticResources(ResourceOptions{})
}

// AddWords extends the vocabulary, e.g. with domain terms known only at run time.
func (r *LinguisticResources) AddWords(words ...string) {
	for _, w := range words {
		r.addWord(strings.TrimSpace(w))
	}
}

func (r *LinguisticResources) addWord(w string) {
	if utf8.RuneCountInString(w) < 2 {
		return
	}
	r.Vocabulary[w] = struct{}{}
}

// addDictionary reads jieba-style "word [freq] [tag]" lines and returns the number of
// entries it found.
func (r *LinguisticResources) addDictionary(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word := strings.Fields(line)[0]
		r.addWord(word)
		n++
	}
	return n
}

func (r *LinguisticResources) addStopwords(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})))
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w == "" {
			continue
		}
		r.Stopwords[w] = struct{}{}
		n++
	}
	return n
}

func readOptional(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// cleanWordList trims, dedupes and orders words longest first so that longer markers win.
func cleanWordList(words []string) []string {
	out := dedupeStrings(words)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
