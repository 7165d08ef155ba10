package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const StageBuild = "build"

// Columns added by the corpus builder.
const (
	ColumnKeyword     = "keyword"
	ColumnCleanedText = "cleaned_text"
	ColumnTokens      = "tokens"
	ColumnCreatedAt   = "created_at"
	ColumnCreateTime  = "create_time"
	ColumnDate        = "date"
)

// ErrNoShardFiles is returned when a stage finds no input of the requested kind.
var ErrNoShardFiles = errors.New("no shard files found")

// DefaultCandidateFields are the text columns tried per kind, in order.
var DefaultCandidateFields = map[string][]string{
	KindContents: {"desc", "description", "content"},
	KindComments: {"content"},
}

// FieldSelection is the resolved text column of a corpus.
type FieldSelection struct {
	Found bool   `json:"found"`
	Name  string `json:"name,omitempty"`
}

func FieldFound(name string) FieldSelection { return FieldSelection{Found: true, Name: name} }

var FieldMissing = FieldSelection{}

// SelectTextField returns the first candidate present in header.
func SelectTextField(header []string, candidates []string) FieldSelection {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := present[c]; ok {
			return FieldFound(c)
		}
	}
	return FieldMissing
}

// OutputNameForKind is the canonical corpus file name for kind.
func OutputNameForKind(kind string) string { return "processed_all_" + kind + ".csv" }

type BuildOptions struct {
	Kind      string
	InputDir  string
	OutputDir string

	// OutputName overrides OutputNameForKind(Kind).
	OutputName string

	// CandidateFields overrides DefaultCandidateFields[Kind].
	CandidateFields []string

	Normalizer *Normalizer
	Segmenter  *Segmenter

	// Location interprets naive date cells. Nil means UTC.
	Location *time.Location

	// Concurrency bounds the row workers. Zero means GOMAXPROCS.
	Concurrency int
	FileMode    fs.FileMode

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

type BuildResult struct {
	Kind       string         `json:"kind"`
	OutputPath string         `json:"output_path,omitempty"`
	Files      []string       `json:"files"`
	Failures   []FileFailure  `json:"failures,omitempty"`
	Rows       int            `json:"rows"`
	TextField  FieldSelection `json:"text_field"`
	Keywords   map[string]int `json:"keywords,omitempty"`
}

// BuildCorpus fuses every shard of one kind in InputDir into a single corpus file with keyword,
// cleaned_text, tokens and created_at columns. A file that cannot be read is logged and left
// out; the stage itself only fails when the directories are unusable.
func BuildCorpus(ctx context.Context, opts BuildOptions) (BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := BuildResult{Kind: opts.Kind}
	if err := opts.validate(); err != nil {
		return res, err
	}
	log := observability.LoggerOrNop(opts.Logger).With().Str("stage", StageBuild).Str("kind", opts.Kind).Logger()

	files, err := shardFilesOfKind(opts.InputDir, opts.Kind)
	if err != nil {
		return res, fmt.Errorf("BuildCorpus: %w", err)
	}
	if len(files) == 0 {
		log.Warn().Str("dir", opts.InputDir).Msg("no shard files for kind")
		return res, ErrNoShardFiles
	}

	var (
		tables   []fileutils.Table
		keywords []string
	)
	res.Keywords = map[string]int{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t, err := fileutils.ReadTable(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
			res.Failures = append(res.Failures, FileFailure{File: path, Op: "read", Error: err.Error()})
			opts.Metrics.FileFailed(StageBuild, "read")
			continue
		}
		opts.Metrics.FileRead(StageBuild)
		kw := KeywordFromFilename(path)
		for range t.Rows {
			keywords = append(keywords, kw)
		}
		res.Keywords[kw] += t.Len()
		res.Files = append(res.Files, path)
		tables = append(tables, t)
		log.Debug().Str("file", path).Str("keyword", kw).Int("rows", t.Len()).Msg("loaded shard")
	}
	if len(tables) == 0 {
		log.Warn().Int("failed", len(res.Failures)).Msg("no readable files, corpus not written")
		return res, nil
	}

	corpus := fileutils.ConcatTables(tables...)
	if err := corpus.SetColumn(ColumnKeyword, keywords); err != nil {
		return res, fmt.Errorf("BuildCorpus: %w", err)
	}

	candidates := opts.CandidateFields
	if len(candidates) == 0 {
		candidates = DefaultCandidateFields[opts.Kind]
	}
	res.TextField = SelectTextField(corpus.Header, candidates)

	if res.TextField.Found {
		cleaned, tokens, err := normalizeRows(ctx, corpus.Column(res.TextField.Name), opts)
		if err != nil {
			return res, fmt.Errorf("BuildCorpus: %w", err)
		}
		if err := corpus.SetColumn(ColumnCleanedText, cleaned); err != nil {
			return res, fmt.Errorf("BuildCorpus: %w", err)
		}
		if err := corpus.SetColumn(ColumnTokens, tokens); err != nil {
			return res, fmt.Errorf("BuildCorpus: %w", err)
		}
	} else {
		log.Warn().Strs("candidates", candidates).Msg("no text column found, tagging keywords only")
	}

	createdAt := make([]string, corpus.Len())
	createTimes := corpus.Column(ColumnCreateTime)
	dates := corpus.Column(ColumnDate)
	for i := range createdAt {
		createdAt[i] = CreatedAt(createTimes[i], dates[i], opts.Location)
	}
	if err := corpus.SetColumn(ColumnCreatedAt, createdAt); err != nil {
		return res, fmt.Errorf("BuildCorpus: %w", err)
	}

	name := opts.OutputName
	if name == "" {
		name = OutputNameForKind(opts.Kind)
	}
	out := filepath.Join(opts.OutputDir, name)
	if err := fileutils.WriteTableAtomic(out, corpus, opts.FileMode); err != nil {
		opts.Metrics.FileFailed(StageBuild, "write")
		return res, fmt.Errorf("BuildCorpus: %w", err)
	}
	res.OutputPath = out
	res.Rows = corpus.Len()
	opts.Metrics.AddRows(StageBuild, opts.Kind, res.Rows)

	log.Info().Str("file", out).Int("rows", res.Rows).Int("files", len(res.Files)).
		Str("text_field", res.TextField.Name).Msg("corpus written")
	return res, nil
}

// BuildCorpora runs BuildCorpus for each kind with a shared base configuration. fields, when
// non-nil, supplies the candidate list per kind. A kind with no shards is skipped; the call
// fails with ErrNoShardFiles only when no kind had any.
func BuildCorpora(ctx context.Context, kinds []string, base BuildOptions, fields func(kind string) []string) ([]BuildResult, error) {
	log := observability.LoggerOrNop(base.Logger)
	var out []BuildResult
	for _, kind := range kinds {
		opts := base
		opts.Kind = kind
		if fields != nil {
			opts.CandidateFields = fields(kind)
		}
		res, err := BuildCorpus(ctx, opts)
		if errors.Is(err, ErrNoShardFiles) {
			log.Warn().Str("kind", kind).Msg("kind skipped, no shards")
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, ErrNoShardFiles
	}
	return out, nil
}

func (o BuildOptions) validate() error {
	if o.Kind != KindContents && o.Kind != KindComments {
		return fmt.Errorf("BuildCorpus: unknown kind %q", o.Kind)
	}
	if o.InputDir == "" || o.OutputDir == "" {
		return errors.New("BuildCorpus: input and output dirs are required")
	}
	if o.Normalizer == nil || o.Segmenter == nil {
		return errors.New("BuildCorpus: normalizer and segmenter are required")
	}
	return nil
}

// shardFilesOfKind lists shard files of kind in dir, sorted by name.
func shardFilesOfKind(dir, kind string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sf, ok := ParseShardName(e.Name())
		if !ok || sf.Kind != kind {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// normalizeRows cleans and tokenizes texts on a bounded worker pool. Results are written by
// index so output order matches input order.
func normalizeRows(ctx context.Context, texts []string, opts BuildOptions) ([]string, []string, error) {
	cleaned := make([]string, len(texts))
	tokens := make([]string, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(opts.Concurrency))
	for i := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cleaned[i] = opts.Normalizer.Clean(texts[i])
			tokens[i] = opts.Segmenter.TokenString(cleaned[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cleaned, tokens, nil
}

func workerLimit(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
