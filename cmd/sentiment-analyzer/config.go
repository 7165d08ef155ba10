package main

import (
	"errors"
	"path/filepath"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
)

type Config struct {
	InDir       string
	OutDir      string
	TextColumns []string

	Env config.Config
}

func (c Config) Validate() error {
	if c.InDir == "" {
		return errors.New("missing -in")
	}
	if c.OutDir == "" {
		return errors.New("missing -out")
	}
	if err := c.Env.Validate(); err != nil {
		return err
	}
	return nil
}

func defaultConfig(env config.Config) Config {
	return Config{
		InDir:  filepath.Join(env.DataDir, "02_processed"),
		OutDir: filepath.Join(env.DataDir, "03_analyzed"),
		Env:    env,
	}
}
