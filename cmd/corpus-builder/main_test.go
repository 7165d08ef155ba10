package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("corpus-builder", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{
		"-in", "raw",
		"-out", "processed",
		"-kind", "comments",
		"-scripts", "Han",
		"-comments-fields", "text,content",
		"-concurrency", "4",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "raw", cfg.InDir)
	assert.Equal(t, "processed", cfg.OutDir)
	assert.Equal(t, "Han", cfg.Env.Text.TargetScripts)
	assert.Equal(t, []string{"text", "content"}, cfg.Env.CandidateFields(pipeline.KindComments))
	assert.Equal(t, 4, cfg.Env.Concurrency)

	kinds, err := cfg.Kinds()
	require.NoError(t, err)
	assert.Equal(t, []string{pipeline.KindComments}, kinds)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(config.Defaults())
	require.NoError(t, cfg.Validate())
	kinds, err := cfg.Kinds()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Kinds, kinds)

	bad := cfg
	bad.Kind = "creators"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Env.Text.TargetScripts = "nope!"
	assert.Error(t, bad.Validate())
}

func TestRunBuildsEachKind(t *testing.T) {
	t.Parallel()

	in, out := t.TempDir(), t.TempDir()
	write := func(name string, header []string, rows ...[]string) {
		require.NoError(t, fileutils.WriteTableAtomic(filepath.Join(in, name), fileutils.Table{Header: header, Rows: rows}, 0o644))
	}
	write("search_contents_2026-01-25_山姆.csv", []string{"desc", "create_time"}, []string{"山姆的瑞士卷<br>好吃", "1769300000000"})
	write("search_comments_2026-01-25_山姆.csv", []string{"content"}, []string{"不 好吃"})

	cfg := defaultConfig(config.Defaults())
	cfg.InDir, cfg.OutDir = in, out
	require.NoError(t, run(context.Background(), cfg, zerolog.Nop()))

	contents, err := fileutils.ReadTable(filepath.Join(out, "processed_all_contents.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"山姆"}, contents.Column(pipeline.ColumnKeyword))
	assert.Equal(t, []string{"山姆的瑞士卷好吃"}, contents.Column(pipeline.ColumnCleanedText))
	assert.NotEmpty(t, contents.Column(pipeline.ColumnCreatedAt)[0])

	comments, err := fileutils.ReadTable(filepath.Join(out, "processed_all_comments.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"不好吃"}, comments.Column(pipeline.ColumnTokens))
}
