package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const StageAnalyze = "analyze"

// Columns added by the analyzer.
const (
	ColumnModelLabel      = "model_label"
	ColumnModelConfidence = "model_confidence"
	ColumnSentimentLabel  = "sentiment_label"
	ColumnSentimentScore  = "sentiment_score"
)

// DefaultAnalyzeTextColumns are tried in order to find the text to classify.
var DefaultAnalyzeTextColumns = []string{ColumnCleanedText, "desc", "content"}

const analyzedPrefix = "analyzed_"

type AnalyzeOptions struct {
	InputDir  string
	OutputDir string

	Calibrator *Calibrator

	// TextColumns overrides DefaultAnalyzeTextColumns.
	TextColumns []string

	Concurrency int
	FileMode    fs.FileMode

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

type AnalyzedFile struct {
	Input        string        `json:"input"`
	Output       string        `json:"output"`
	TextColumn   string        `json:"text_column"`
	Rows         int           `json:"rows"`
	Distribution map[Label]int `json:"distribution"`
}

type AnalyzeResult struct {
	Files    []AnalyzedFile `json:"files"`
	Skipped  []FileFailure  `json:"skipped,omitempty"`
	Failures []FileFailure  `json:"failures,omitempty"`
}

// AnalyzedName is the output name for a processed corpus file.
func AnalyzedName(name string) string { return analyzedPrefix + name }

// AnalyzeCorpus classifies every corpus file in InputDir and writes an analyzed copy with
// model_label, model_confidence, sentiment_label and sentiment_score appended. Only files
// whose names mention contents or comments are considered. Each file succeeds or fails on
// its own.
func AnalyzeCorpus(ctx context.Context, opts AnalyzeOptions) (AnalyzeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var res AnalyzeResult
	if opts.InputDir == "" || opts.OutputDir == "" {
		return res, errors.New("AnalyzeCorpus: input and output dirs are required")
	}
	if opts.Calibrator == nil {
		return res, errors.New("AnalyzeCorpus: calibrator is required")
	}
	log := observability.LoggerOrNop(opts.Logger).With().Str("stage", StageAnalyze).Logger()

	files, err := corpusFiles(opts.InputDir)
	if err != nil {
		return res, fmt.Errorf("AnalyzeCorpus: %w", err)
	}
	if len(files) == 0 {
		log.Warn().Str("dir", opts.InputDir).Msg("no corpus files to analyze")
		return res, ErrNoShardFiles
	}

	cols := opts.TextColumns
	if len(cols) == 0 {
		cols = DefaultAnalyzeTextColumns
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		flog := log.With().Str("file", path).Logger()

		t, err := fileutils.ReadTable(path)
		if err != nil {
			flog.Error().Err(err).Msg("corpus file unreadable, skipped")
			res.Failures = append(res.Failures, FileFailure{File: path, Op: "read", Error: err.Error()})
			opts.Metrics.FileFailed(StageAnalyze, "read")
			continue
		}
		opts.Metrics.FileRead(StageAnalyze)

		field := SelectTextField(t.Header, cols)
		if !field.Found {
			flog.Warn().Strs("candidates", cols).Msg("no text column, file skipped")
			res.Skipped = append(res.Skipped, FileFailure{File: path, Op: "select", Error: "no text column"})
			continue
		}

		results, err := classifyRows(ctx, t.Column(field.Name), opts)
		if err != nil {
			return res, fmt.Errorf("AnalyzeCorpus: %w", err)
		}
		dist := applySentiment(&t, results)

		out := filepath.Join(opts.OutputDir, AnalyzedName(filepath.Base(path)))
		if err := fileutils.WriteTableAtomic(out, t, opts.FileMode); err != nil {
			flog.Error().Err(err).Msg("analyzed file not written")
			res.Failures = append(res.Failures, FileFailure{File: out, Op: "write", Error: err.Error()})
			opts.Metrics.FileFailed(StageAnalyze, "write")
			continue
		}

		kind := kindOfName(filepath.Base(path))
		opts.Metrics.AddRows(StageAnalyze, kind, t.Len())
		for _, r := range results {
			opts.Metrics.Label(string(r.CalibratedLabel))
		}
		res.Files = append(res.Files, AnalyzedFile{
			Input: path, Output: out, TextColumn: field.Name, Rows: t.Len(), Distribution: dist,
		})

		ev := flog.Info().Str("output", out).Str("text_column", field.Name).Int("rows", t.Len())
		for _, l := range Labels {
			ev = ev.Int(strings.ToLower(string(l)), dist[l])
		}
		ev.Msg("sentiment analysis complete")
	}
	return res, nil
}

func corpusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		if kindOfName(name) == "" || strings.HasPrefix(name, analyzedPrefix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// kindOfName returns the record kind a file name mentions, comments taking precedence.
func kindOfName(name string) string {
	switch {
	case strings.Contains(name, KindComments):
		return KindComments
	case strings.Contains(name, KindContents):
		return KindContents
	}
	return ""
}

func classifyRows(ctx context.Context, texts []string, opts AnalyzeOptions) ([]SentimentResult, error) {
	out := make([]SentimentResult, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(opts.Concurrency))
	for i := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = opts.Calibrator.Classify(gctx, texts[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func applySentiment(t *fileutils.Table, results []SentimentResult) map[Label]int {
	n := len(results)
	modelLabel := make([]string, n)
	modelConf := make([]string, n)
	label := make([]string, n)
	score := make([]string, n)
	dist := map[Label]int{}
	for i, r := range results {
		modelLabel[i] = string(r.RawLabel)
		modelConf[i] = formatScore(r.RawConfidence)
		label[i] = string(r.CalibratedLabel)
		score[i] = formatScore(r.CalibratedScore)
		dist[r.CalibratedLabel]++
	}
	// Lengths match the table by construction.
	_ = t.SetColumn(ColumnModelLabel, modelLabel)
	_ = t.SetColumn(ColumnModelConfidence, modelConf)
	_ = t.SetColumn(ColumnSentimentLabel, label)
	_ = t.SetColumn(ColumnSentimentScore, score)
	return dist
}

func formatScore(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
