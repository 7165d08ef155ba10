package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
)

type Config struct {
	InDir  string
	OutDir string
	Kind   string

	Env config.Config
}

func (c Config) Validate() error {
	if c.InDir == "" {
		return errors.New("missing -in")
	}
	if c.OutDir == "" {
		return errors.New("missing -out")
	}
	if _, err := c.Kinds(); err != nil {
		return err
	}
	if err := c.Env.ValidateRun(); err != nil {
		return err
	}
	return c.Env.Text.Validate()
}

// Kinds expands -kind into the kinds to build.
func (c Config) Kinds() ([]string, error) {
	switch c.Kind {
	case "", "all":
		return pipeline.Kinds, nil
	case pipeline.KindContents, pipeline.KindComments:
		return []string{c.Kind}, nil
	}
	return nil, fmt.Errorf("unknown -kind %q (want contents|comments|all)", c.Kind)
}

func defaultConfig(env config.Config) Config {
	return Config{
		InDir:  filepath.Join(env.DataDir, "01_raw"),
		OutDir: filepath.Join(env.DataDir, "02_processed"),
		Kind:   "all",
		Env:    env,
	}
}
