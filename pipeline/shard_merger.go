package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const StageMerge = "merge"

type MergeOptions struct {
	// DryRun plans every group and reads every member but writes and deletes nothing.
	DryRun bool

	// FileMode for merged outputs. Zero means 0644.
	FileMode fs.FileMode

	RunID   string
	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// FileFailure records a file a stage had to skip.
type FileFailure struct {
	File  string `json:"file"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

type MemberRows struct {
	File string `json:"file"`
	Rows int    `json:"rows"`
}

type GroupMergeResult struct {
	Kind        string        `json:"kind"`
	Keyword     string        `json:"keyword"`
	Members     []string      `json:"members"`
	Output      string        `json:"output,omitempty"`
	MemberRows  []MemberRows  `json:"member_rows"`
	RowsWritten int           `json:"rows_written"`
	Deleted     []string      `json:"deleted,omitempty"`
	Failures    []FileFailure `json:"failures,omitempty"`
}

type MergeReport struct {
	RunID           string             `json:"run_id"`
	Dir             string             `json:"dir"`
	DryRun          bool               `json:"dry_run,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	ShardsMatched   int                `json:"shards_matched"`
	GroupsUntouched int                `json:"groups_untouched"`
	GroupsMerged    int                `json:"groups_merged"`
	RowsWritten     int                `json:"rows_written"`
	FilesDeleted    int                `json:"files_deleted"`
	Groups          []GroupMergeResult `json:"groups,omitempty"`
	Failures        []FileFailure      `json:"failures,omitempty"`
}

// MergeShardGroups fuses every multi-member shard group in dir into one file at the earliest
// member's path, then removes the other members. Single-member groups are left alone, so a
// second run over the same directory changes nothing.
//
// Unreadable members are reported, excluded from the merge and never deleted or overwritten:
// a group whose earliest member cannot be read is not merged at all. Nothing is deleted unless
// the merged file was written first.
func MergeShardGroups(ctx context.Context, dir string, opts MergeOptions) (MergeReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := observability.LoggerOrNop(opts.Logger)
	rep := MergeReport{
		RunID:     opts.RunID,
		Dir:       dir,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	if rep.RunID == "" {
		rep.RunID = uuid.NewString()
	}
	if dir == "" {
		return rep, errors.New("MergeShardGroups: empty dir")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return rep, fmt.Errorf("MergeShardGroups: read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	groups := GroupShards(paths)
	for _, g := range groups {
		rep.ShardsMatched += len(g.Members)
	}
	log.Info().Str("stage", StageMerge).Str("run_id", rep.RunID).Str("dir", dir).
		Int("shards", rep.ShardsMatched).Int("groups", len(groups)).Msg("scanned shard directory")

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if len(g.Members) < 2 {
			rep.GroupsUntouched++
			continue
		}

		res := mergeGroup(g, opts, log)
		rep.Groups = append(rep.Groups, res)
		rep.Failures = append(rep.Failures, res.Failures...)
		if res.Output != "" {
			rep.GroupsMerged++
			rep.RowsWritten += res.RowsWritten
			rep.FilesDeleted += len(res.Deleted)
			if !opts.DryRun {
				opts.Metrics.GroupMerged(len(res.Deleted))
			}
		}
	}
	return rep, nil
}

func mergeGroup(g ShardGroup, opts MergeOptions, log zerolog.Logger) GroupMergeResult {
	target := g.Earliest().Path
	res := GroupMergeResult{Kind: g.Key.Kind, Keyword: g.Key.Keyword}
	glog := log.With().Str("stage", StageMerge).Str("kind", g.Key.Kind).Str("keyword", g.Key.Keyword).Logger()

	var (
		tables   []fileutils.Table
		readable []string
	)
	for _, m := range g.Members {
		res.Members = append(res.Members, m.Path)
		t, err := fileutils.ReadTable(m.Path)
		if err != nil {
			glog.Warn().Err(err).Str("file", m.Path).Msg("skipping unreadable shard")
			res.Failures = append(res.Failures, FileFailure{File: m.Path, Op: "read", Error: err.Error()})
			opts.Metrics.FileFailed(StageMerge, "read")
			continue
		}
		opts.Metrics.FileRead(StageMerge)
		tables = append(tables, t)
		readable = append(readable, m.Path)
		res.MemberRows = append(res.MemberRows, MemberRows{File: m.Path, Rows: t.Len()})
	}
	if len(tables) == 0 {
		glog.Warn().Int("members", len(g.Members)).Msg("no readable shard in group, nothing merged")
		return res
	}
	if readable[0] != target {
		// The output path is the earliest member; writing there would destroy its unread rows.
		glog.Warn().Str("file", target).Msg("earliest shard unreadable, group left untouched")
		res.Failures = append(res.Failures, FileFailure{File: target, Op: "merge", Error: "earliest member unreadable, group not merged"})
		return res
	}

	merged := fileutils.ConcatTables(tables...)
	res.RowsWritten = merged.Len()

	if opts.DryRun {
		res.Output = target
		for _, p := range readable {
			if p != target {
				res.Deleted = append(res.Deleted, p)
			}
		}
		glog.Info().Str("file", target).Int("rows", res.RowsWritten).Msg("dry run: would merge group")
		return res
	}

	if err := fileutils.WriteTableAtomic(target, merged, opts.FileMode); err != nil {
		glog.Error().Err(err).Str("file", target).Msg("merged shard not written, members kept")
		res.Failures = append(res.Failures, FileFailure{File: target, Op: "write", Error: err.Error()})
		opts.Metrics.FileFailed(StageMerge, "write")
		res.RowsWritten = 0
		return res
	}
	res.Output = target
	opts.Metrics.AddRows(StageMerge, g.Key.Kind, res.RowsWritten)

	for _, p := range readable {
		if p == target {
			continue
		}
		if err := os.Remove(p); err != nil {
			glog.Warn().Err(err).Str("file", p).Msg("merged shard not removed")
			res.Failures = append(res.Failures, FileFailure{File: p, Op: "delete", Error: err.Error()})
			opts.Metrics.FileFailed(StageMerge, "delete")
			continue
		}
		res.Deleted = append(res.Deleted, p)
	}
	glog.Info().Str("file", target).Int("members", len(g.Members)).Int("rows", res.RowsWritten).
		Int("deleted", len(res.Deleted)).Msg("merged shard group")
	return res
}
