package main

import (
	"errors"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
)

type Config struct {
	PosPath string
	NegPath string

	// CSVPath is a labeled table; LabelColumn and TextColumn name its columns.
	CSVPath     string
	LabelColumn string
	TextColumn  string

	OutPath string

	Env config.Config
}

func (c Config) Validate() error {
	if c.PosPath == "" && c.NegPath == "" && c.CSVPath == "" {
		return errors.New("need -pos/-neg or -csv")
	}
	if c.CSVPath != "" && (c.LabelColumn == "" || c.TextColumn == "") {
		return errors.New("-csv needs -label-column and -text-column")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	return c.Env.Text.Validate()
}

func defaultConfig(env config.Config) Config {
	return Config{
		LabelColumn: "label",
		TextColumn:  "text",
		OutPath:     env.Sentiment.BayesModelPath,
		Env:         env,
	}
}
