package main

import (
	"errors"
	"path/filepath"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
)

type Config struct {
	RawDir     string
	CorpusDir  string
	OutPath    string
	SQLitePath string
	TermsDir   string
	MinCount   int
	TopN       int
	Pretty     bool

	Env config.Config
}

func (c Config) Validate() error {
	if c.CorpusDir == "" {
		return errors.New("missing -in")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	if c.TopN < 0 {
		return errors.New("top must be >= 0")
	}
	if c.MinCount < 0 {
		return errors.New("min-count must be >= 0")
	}
	return c.Env.ValidateRun()
}

func defaultConfig(env config.Config) Config {
	return Config{
		RawDir:    filepath.Join(env.DataDir, "01_raw"),
		CorpusDir: filepath.Join(env.DataDir, "03_analyzed"),
		OutPath:   filepath.Join(env.DataDir, "04_stats", "stats.json"),
		TopN:      20,
		Pretty:    true,
		Env:       env,
	}
}
