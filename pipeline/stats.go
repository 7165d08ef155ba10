package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const StageStats = "stats"

// ShardRowCounts tallies rows per kind across a raw shard directory.
type ShardRowCounts struct {
	Dir      string         `json:"dir"`
	Files    int            `json:"files"`
	Contents int            `json:"contents"`
	Comments int            `json:"comments"`
	Unknown  map[string]int `json:"unknown,omitempty"`
	Failures []FileFailure  `json:"failures,omitempty"`
}

func (c ShardRowCounts) Total() int {
	n := c.Contents + c.Comments
	for _, v := range c.Unknown {
		n += v
	}
	return n
}

// CountShardRows counts data rows in every CSV file of dir. Files are attributed to a kind by
// name; files naming neither kind are listed under Unknown.
func CountShardRows(dir string) (ShardRowCounts, error) {
	res := ShardRowCounts{Dir: dir, Unknown: map[string]int{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("CountShardRows: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		t, err := fileutils.ReadTable(path)
		if err != nil {
			res.Failures = append(res.Failures, FileFailure{File: path, Op: "read", Error: err.Error()})
			continue
		}
		res.Files++
		switch kindOfName(e.Name()) {
		case KindComments:
			res.Comments += t.Len()
		case KindContents:
			res.Contents += t.Len()
		default:
			res.Unknown[e.Name()] = t.Len()
		}
	}
	return res, nil
}

// DayCount is the number of records created on one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// CorpusStats are the aggregates renderers draw from.
type CorpusStats struct {
	Kind        string         `json:"kind"`
	File        string         `json:"file"`
	Rows        int            `json:"rows"`
	Keywords    map[string]int `json:"keywords"`
	Sentiment   map[Label]int  `json:"sentiment,omitempty"`
	MeanScore   *float64       `json:"mean_score,omitempty"`
	Timed       int            `json:"timed"`
	Daily       []DayCount     `json:"daily"`
	Hourly      [24]int        `json:"hourly"`
	TopTerms    []TermCount    `json:"top_terms"`
	TermRecords int            `json:"term_records"`
}

type StatsOptions struct {
	// TopN bounds TopTerms. Zero keeps all terms.
	TopN int
	// Location buckets days and hours. Nil means UTC.
	Location *time.Location
}

// ComputeCorpusStats aggregates a processed or analyzed corpus. Missing columns simply leave
// their aggregates empty.
func ComputeCorpusStats(kind, file string, t fileutils.Table, opts StatsOptions) CorpusStats {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	st := CorpusStats{
		Kind:     kind,
		File:     file,
		Rows:     t.Len(),
		Keywords: map[string]int{},
	}

	kwIdx := t.ColumnIndex(ColumnKeyword)
	labelIdx := t.ColumnIndex(ColumnSentimentLabel)
	scoreIdx := t.ColumnIndex(ColumnSentimentScore)
	tokIdx := t.ColumnIndex(ColumnTokens)
	createdIdx := t.ColumnIndex(ColumnCreatedAt)
	createTimeIdx := t.ColumnIndex(ColumnCreateTime)
	dateIdx := t.ColumnIndex(ColumnDate)

	if labelIdx >= 0 {
		st.Sentiment = map[Label]int{}
	}
	var scoreSum float64
	var scored int
	days := map[string]int{}
	tf := NewTermFrequencies()

	cell := func(row []string, idx int) string {
		if idx < 0 {
			return ""
		}
		return row[idx]
	}

	for _, row := range t.Rows {
		if kwIdx >= 0 {
			st.Keywords[row[kwIdx]]++
		}
		if labelIdx >= 0 {
			if l, ok := ParseLabel(row[labelIdx]); ok {
				st.Sentiment[l]++
			}
		}
		if scoreIdx >= 0 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[scoreIdx]), 64); err == nil {
				scoreSum += v
				scored++
			}
		}
		if tokIdx >= 0 {
			tf.AddTokenString(row[tokIdx])
		}

		ts, ok := ParseCreatedAt(cell(row, createdIdx))
		if !ok {
			ts, ok = RecordTime(cell(row, createTimeIdx), cell(row, dateIdx), loc)
		}
		if ok {
			ts = ts.In(loc)
			st.Timed++
			days[ts.Format(shardDateLayout)]++
			st.Hourly[ts.Hour()]++
		}
	}

	if scored > 0 {
		mean := scoreSum / float64(scored)
		st.MeanScore = &mean
	}
	st.Daily = make([]DayCount, 0, len(days))
	for d, n := range days {
		st.Daily = append(st.Daily, DayCount{Day: d, Count: n})
	}
	sort.Slice(st.Daily, func(i, j int) bool { return st.Daily[i].Day < st.Daily[j].Day })
	st.TopTerms = tf.Top(opts.TopN)
	st.TermRecords = tf.Records
	return st
}

type StatsRunOptions struct {
	// RawDir is counted with CountShardRows when set.
	RawDir string
	// CorpusDir holds processed or analyzed corpus files.
	CorpusDir string

	Stats StatsOptions

	// OnCorpus, when set, sees every corpus table after its stats are computed. An error
	// from it fails the run.
	OnCorpus func(ctx context.Context, st CorpusStats, t fileutils.Table) error

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

type StatsReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Raw         *ShardRowCounts `json:"raw,omitempty"`
	Corpora     []CorpusStats   `json:"corpora"`
	Failures    []FileFailure   `json:"failures,omitempty"`
}

// CollectStats computes CorpusStats for every corpus file in CorpusDir, plus raw shard counts
// when RawDir is set. Unreadable corpus files are reported and skipped.
func CollectStats(ctx context.Context, opts StatsRunOptions) (StatsReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rep := StatsReport{GeneratedAt: time.Now().UTC()}
	if opts.CorpusDir == "" {
		return rep, errors.New("CollectStats: corpus dir is required")
	}
	log := observability.LoggerOrNop(opts.Logger).With().Str("stage", StageStats).Logger()

	if opts.RawDir != "" {
		counts, err := CountShardRows(opts.RawDir)
		if err != nil {
			log.Warn().Err(err).Str("dir", opts.RawDir).Msg("raw shard counts unavailable")
		} else {
			rep.Raw = &counts
			log.Info().Int("contents", counts.Contents).Int("comments", counts.Comments).
				Int("total", counts.Total()).Msg("raw shard rows counted")
		}
	}

	files, err := statsFiles(opts.CorpusDir)
	if err != nil {
		return rep, fmt.Errorf("CollectStats: %w", err)
	}
	if len(files) == 0 {
		return rep, ErrNoShardFiles
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		t, err := fileutils.ReadTable(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("corpus file unreadable, skipped")
			rep.Failures = append(rep.Failures, FileFailure{File: path, Op: "read", Error: err.Error()})
			opts.Metrics.FileFailed(StageStats, "read")
			continue
		}
		opts.Metrics.FileRead(StageStats)

		name := filepath.Base(path)
		st := ComputeCorpusStats(kindOfName(name), name, t, opts.Stats)
		if opts.OnCorpus != nil {
			if err := opts.OnCorpus(ctx, st, t); err != nil {
				return rep, fmt.Errorf("CollectStats %s: %w", name, err)
			}
		}
		rep.Corpora = append(rep.Corpora, st)
		log.Info().Str("file", path).Str("kind", st.Kind).Int("rows", st.Rows).
			Int("keywords", len(st.Keywords)).Int("timed", st.Timed).Msg("corpus stats computed")
	}
	return rep, nil
}

// statsFiles lists the corpus files of dir. When analyzed copies are present only those are
// used, so a directory holding both generations is not counted twice.
func statsFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var plain, analyzed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") || kindOfName(name) == "" {
			continue
		}
		if strings.HasPrefix(name, analyzedPrefix) {
			analyzed = append(analyzed, filepath.Join(dir, name))
		} else {
			plain = append(plain, filepath.Join(dir, name))
		}
	}
	out := plain
	if len(analyzed) > 0 {
		out = analyzed
	}
	sort.Strings(out)
	return out, nil
}
