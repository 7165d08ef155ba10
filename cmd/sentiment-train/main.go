package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	log := cfg.Env.Logger()
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("sentiment-train failed")
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	env, err := config.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := defaultConfig(env)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.PosPath, "pos", "", "Positive examples, one per line")
	fs.StringVar(&cfg.NegPath, "neg", "", "Negative examples, one per line")
	fs.StringVar(&cfg.CSVPath, "csv", "", "Labeled CSV of examples")
	fs.StringVar(&cfg.LabelColumn, "label-column", cfg.LabelColumn, "Label column in -csv (positive|negative|neutral)")
	fs.StringVar(&cfg.TextColumn, "text-column", cfg.TextColumn, "Text column in -csv")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Model JSON output path")
	fs.StringVar(&cfg.Env.LogLevel, "log-level", cfg.Env.LogLevel, "Log level: debug|info|warn|error")
	config.RegisterTextFlags(fs, &cfg.Env.Text)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	return cfg, nil
}

func run(cfg Config, log zerolog.Logger) error {
	docs, err := loadDocs(cfg)
	if err != nil {
		return err
	}
	norm, seg, err := config.TextPipeline(cfg.Env, &log)
	if err != nil {
		return err
	}

	m := pipeline.TrainBayes(docs, func(s string) []string { return seg.Tokenize(norm.Clean(s)) }, seg.ResourceVersion())
	if m.Empty() {
		return fmt.Errorf("no positive or negative examples in %d documents", len(docs))
	}
	if err := pipeline.SaveBayesModel(cfg.OutPath, m); err != nil {
		return err
	}
	log.Info().Str("file", cfg.OutPath).
		Int("positive_docs", m.Docs[pipeline.Positive]).
		Int("negative_docs", m.Docs[pipeline.Negative]).
		Int("resource_version", m.ResourceVersion).
		Msg("bayes model written")
	return nil
}

func loadDocs(cfg Config) ([]pipeline.LabeledText, error) {
	var docs []pipeline.LabeledText
	for _, src := range []struct {
		path  string
		label pipeline.Label
	}{{cfg.PosPath, pipeline.Positive}, {cfg.NegPath, pipeline.Negative}} {
		if src.path == "" {
			continue
		}
		d, err := pipeline.ReadLabeledLines(src.path, src.label)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d...)
	}
	if cfg.CSVPath == "" {
		return docs, nil
	}

	t, err := fileutils.ReadTable(cfg.CSVPath)
	if err != nil {
		return nil, err
	}
	if !t.Has(cfg.LabelColumn) || !t.Has(cfg.TextColumn) {
		return nil, fmt.Errorf("%s: missing %q or %q column", cfg.CSVPath, cfg.LabelColumn, cfg.TextColumn)
	}
	labels, texts := t.Column(cfg.LabelColumn), t.Column(cfg.TextColumn)
	for i := range labels {
		l, ok := pipeline.ParseLabel(labels[i])
		if !ok {
			continue
		}
		docs = append(docs, pipeline.LabeledText{Label: l, Text: texts[i]})
	}
	return docs, nil
}
