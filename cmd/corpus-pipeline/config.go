package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
)

var allStages = []string{pipeline.StageMerge, pipeline.StageBuild, pipeline.StageAnalyze, pipeline.StageStats}

type Config struct {
	BaseDir   string
	ImportDir string

	FromStage string
	OnlyStage string

	DryRun    bool
	Overwrite bool

	TopN       int
	SQLitePath string

	Env config.Config
}

// layout is the stage directory tree under BaseDir.
type layout struct {
	Raw       string
	Processed string
	Analyzed  string
	Stats     string
}

func (c Config) layout() layout {
	base := filepath.Clean(c.BaseDir)
	return layout{
		Raw:       filepath.Join(base, "01_raw"),
		Processed: filepath.Join(base, "02_processed"),
		Analyzed:  filepath.Join(base, "03_analyzed"),
		Stats:     filepath.Join(base, "04_stats"),
	}
}

func (c Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New("missing --base-dir")
	}
	if c.OnlyStage != "" && c.FromStage != "" {
		return errors.New("use only one of --only-stage or --from-stage")
	}
	if _, err := c.stages(); err != nil {
		return err
	}
	if c.TopN < 0 {
		return errors.New("top must be >= 0")
	}
	return c.Env.Validate()
}

// stages resolves --only-stage / --from-stage into the ordered stages to run.
func (c Config) stages() ([]string, error) {
	if c.OnlyStage != "" {
		s := strings.ToLower(strings.TrimSpace(c.OnlyStage))
		if !isStage(s) {
			return nil, fmt.Errorf("unknown stage %q (want %s)", c.OnlyStage, strings.Join(allStages, "|"))
		}
		return []string{s}, nil
	}
	if c.FromStage != "" {
		s := strings.ToLower(strings.TrimSpace(c.FromStage))
		if !isStage(s) {
			return nil, fmt.Errorf("unknown stage %q (want %s)", c.FromStage, strings.Join(allStages, "|"))
		}
		return stagesFrom(allStages, s), nil
	}
	return allStages, nil
}

func isStage(s string) bool {
	for _, st := range allStages {
		if st == s {
			return true
		}
	}
	return false
}

func stagesFrom(stages []string, from string) []string {
	for i, s := range stages {
		if s == from {
			return stages[i:]
		}
	}
	return stages
}

func defaultConfig(env config.Config) Config {
	return Config{
		BaseDir: env.DataDir,
		TopN:    20,
		Env:     env,
	}
}
