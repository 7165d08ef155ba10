package main

import (
	"errors"
	"path/filepath"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
)

type Config struct {
	Dir        string
	ReportPath string
	DryRun     bool
	Pretty     bool

	Env config.Config
}

func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("missing -dir")
	}
	return c.Env.ValidateRun()
}

func defaultConfig(env config.Config) Config {
	return Config{
		Dir: filepath.Join(env.DataDir, "01_raw"),
		Env: env,
	}
}
