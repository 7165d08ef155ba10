package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const bayesModelVersion = 1

// BayesModel is a two-class multinomial naive Bayes model over segmenter tokens.
type BayesModel struct {
	Version int `json:"version"`
	// ResourceVersion is the linguistic rule-set version the training text was tokenized with.
	ResourceVersion int                      `json:"resource_version"`
	Docs            map[Label]int            `json:"docs"`
	Totals          map[Label]int            `json:"totals"`
	Counts          map[Label]map[string]int `json:"counts"`
}

// LabeledText is one training document.
type LabeledText struct {
	Label Label
	Text  string
}

func NewBayesModel() *BayesModel {
	return &BayesModel{
		Version: bayesModelVersion,
		Docs:    map[Label]int{},
		Totals:  map[Label]int{},
		Counts:  map[Label]map[string]int{Positive: {}, Negative: {}},
	}
}

// Empty reports whether the model has seen no training documents.
func (m *BayesModel) Empty() bool {
	return m == nil || m.Docs[Positive]+m.Docs[Negative] == 0
}

// TrainBayes fits a model on docs. Neutral and unknown labels are skipped; Bayes here only
// separates positive from negative, neutrality comes from calibration.
func TrainBayes(docs []LabeledText, tokenize func(string) []string, resourceVersion int) *BayesModel {
	m := NewBayesModel()
	m.ResourceVersion = resourceVersion
	for _, d := range docs {
		if d.Label != Positive && d.Label != Negative {
			continue
		}
		toks := tokenize(d.Text)
		if len(toks) == 0 {
			continue
		}
		m.Docs[d.Label]++
		for _, tok := range toks {
			m.Counts[d.Label][tok]++
			m.Totals[d.Label]++
		}
	}
	return m
}

func LoadBayesModel(path string) (*BayesModel, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadBayesModel: %w", err)
	}
	m := NewBayesModel()
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("LoadBayesModel: unmarshal: %w", err)
	}
	if m.Version != bayesModelVersion {
		return nil, fmt.Errorf("LoadBayesModel: unsupported model version %d", m.Version)
	}
	for _, l := range []Label{Positive, Negative} {
		if m.Counts[l] == nil {
			m.Counts[l] = map[string]int{}
		}
	}
	return m, nil
}

// OpenBayesModel loads path, or logs a warning and returns an empty model when the file does
// not exist. An empty model classifies everything as neutral.
func OpenBayesModel(path string, logger *zerolog.Logger) (*BayesModel, error) {
	log := observability.LoggerOrNop(logger)
	if path == "" {
		log.Warn().Msg("no sentiment model configured, every record will be neutral")
		return NewBayesModel(), nil
	}
	m, err := LoadBayesModel(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("file", path).Msg("sentiment model missing, every record will be neutral")
			return NewBayesModel(), nil
		}
		return nil, err
	}
	return m, nil
}

func SaveBayesModel(path string, m *BayesModel) error {
	if path == "" {
		return errors.New("SaveBayesModel: path is empty")
	}
	if err := fileutils.WriteJSONFileAtomic(path, m, false); err != nil {
		return fmt.Errorf("SaveBayesModel: %w", err)
	}
	return nil
}

// ReadLabeledLines reads one training document per non-blank line.
func ReadLabeledLines(path string, label Label) ([]LabeledText, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadLabeledLines: %w", err)
	}
	defer f.Close()

	var out []LabeledText
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		out = append(out, LabeledText{Label: label, Text: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ReadLabeledLines %s: %w", path, err)
	}
	return out, nil
}

// BayesClassifier is the local Classifier backend.
type BayesClassifier struct {
	model      *BayesModel
	normalizer *Normalizer
	segmenter  *Segmenter
	vocabSize  int
}

// NewBayesClassifier tokenizes input with seg after cleaning it with norm. norm may be nil
// when input is already cleaned text.
func NewBayesClassifier(m *BayesModel, norm *Normalizer, seg *Segmenter) (*BayesClassifier, error) {
	if m == nil {
		m = NewBayesModel()
	}
	if seg == nil {
		return nil, errors.New("NewBayesClassifier: nil segmenter")
	}
	vocab := map[string]struct{}{}
	for _, counts := range m.Counts {
		for tok := range counts {
			vocab[tok] = struct{}{}
		}
	}
	return &BayesClassifier{model: m, normalizer: norm, segmenter: seg, vocabSize: len(vocab)}, nil
}

// Classify returns P(positive) folded into a label and a confidence of max(p, 1-p). Text with
// no token the model has seen is exactly neutral.
func (c *BayesClassifier) Classify(ctx context.Context, text string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	neutral := Prediction{Label: Neutral, Confidence: neutralScore}
	if c.model.Empty() {
		return neutral, nil
	}
	if c.normalizer != nil {
		text = c.normalizer.Clean(text)
	}

	m := c.model
	docs := float64(m.Docs[Positive] + m.Docs[Negative])
	logPos := math.Log((float64(m.Docs[Positive]) + 1) / (docs + 2))
	logNeg := math.Log((float64(m.Docs[Negative]) + 1) / (docs + 2))
	denomPos := float64(m.Totals[Positive] + c.vocabSize)
	denomNeg := float64(m.Totals[Negative] + c.vocabSize)

	known := 0
	for _, tok := range c.segmenter.Tokenize(text) {
		cp, cn := m.Counts[Positive][tok], m.Counts[Negative][tok]
		if cp == 0 && cn == 0 {
			continue
		}
		known++
		logPos += math.Log((float64(cp) + 1) / denomPos)
		logNeg += math.Log((float64(cn) + 1) / denomNeg)
	}
	if known == 0 {
		return neutral, nil
	}

	p := 1 / (1 + math.Exp(logNeg-logPos))
	switch {
	case p > neutralScore:
		return Prediction{Label: Positive, Confidence: p}, nil
	case p < neutralScore:
		return Prediction{Label: Negative, Confidence: 1 - p}, nil
	default:
		return neutral, nil
	}
}
