// Package config holds the knobs shared by every pipeline binary. Values come from the
// environment (optionally seeded from a .env file) and can be overridden per run with flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/provider"
)

const (
	ClassifierBayes  = "bayes"
	ClassifierOpenAI = "openai"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"0"`
	MetricsFile string `env:"METRICS_TEXTFILE"`
	Timezone    string `env:"TIMEZONE" envDefault:"UTC"`

	Text      TextSettings      `envPrefix:"TEXT_"`
	Sentiment SentimentSettings `envPrefix:"SENTIMENT_"`
	Fields    FieldSettings     `envPrefix:"FIELDS_"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
}

type TextSettings struct {
	BaseDictPath  string `env:"DICT"`
	UserDictPath  string `env:"USER_DICT"`
	StopwordsPath string `env:"STOPWORDS"`
	ResourcesPath string `env:"RESOURCES"`
	TargetScripts string `env:"SCRIPTS" envDefault:"4E00-9FA5"`
	// Words are extra vocabulary entries, typically the crawl keywords.
	Words []string `env:"WORDS" envSeparator:","`
}

type SentimentSettings struct {
	Classifier     string  `env:"CLASSIFIER" envDefault:"bayes"`
	BayesModelPath string  `env:"BAYES_MODEL" envDefault:"models/bayes.json"`
	OpenAIModel    string  `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`
	Threshold      float64 `env:"THRESHOLD" envDefault:"0.56"`
	MaxTextRunes   int     `env:"MAX_TEXT_RUNES" envDefault:"512"`
}

type FieldSettings struct {
	Contents []string `env:"CONTENTS" envSeparator:"," envDefault:"desc,description,content"`
	Comments []string `env:"COMMENTS" envSeparator:"," envDefault:"content"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the envDefault values without consulting the environment.
func Defaults() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks everything. Binaries that only use part of the config call the narrower
// validators instead.
func (c Config) Validate() error {
	if err := c.ValidateRun(); err != nil {
		return err
	}
	if err := c.Text.Validate(); err != nil {
		return err
	}
	return c.Sentiment.Validate(c.OpenAIAPIKey)
}

// ValidateRun checks the run-wide settings.
func (c Config) ValidateRun() error {
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	_, err := c.Location()
	return err
}

func (t TextSettings) Validate() error {
	if _, err := pipeline.ParseScriptSet(t.TargetScripts); err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	return nil
}

func (s SentimentSettings) Validate(apiKey string) error {
	if err := pipeline.ValidateThreshold(s.Threshold); err != nil {
		return err
	}
	if s.MaxTextRunes <= 0 {
		return errors.New("max-text-runes must be > 0")
	}
	switch s.Classifier {
	case ClassifierBayes:
		if s.BayesModelPath == "" {
			return errors.New("missing -bayes-model")
		}
	case ClassifierOpenAI:
		if strings.TrimSpace(apiKey) == "" {
			return errors.New("classifier openai requires OPENAI_API_KEY")
		}
		if s.OpenAIModel == "" {
			return errors.New("missing -openai-model")
		}
	default:
		return fmt.Errorf("unknown classifier %q (want %s or %s)", s.Classifier, ClassifierBayes, ClassifierOpenAI)
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// CandidateFields returns the ordered text-column candidates for kind.
func (c Config) CandidateFields(kind string) []string {
	switch kind {
	case pipeline.KindContents:
		return c.Fields.Contents
	case pipeline.KindComments:
		return c.Fields.Comments
	}
	return nil
}

func (c Config) Logger() zerolog.Logger {
	return observability.NewLogger(c.AppEnv, c.LogLevel)
}

// RegisterCommonFlags binds the run-wide settings to fs. Current values become the flag defaults.
func RegisterCommonFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "Row workers per file (0 = GOMAXPROCS)")
	fs.StringVar(&c.MetricsFile, "metrics-file", c.MetricsFile, "Write Prometheus metrics to this textfile when the run ends")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "IANA zone for naive dates and day/hour buckets")
}

func RegisterTextFlags(fs *flag.FlagSet, t *TextSettings) {
	fs.StringVar(&t.BaseDictPath, "dict", t.BaseDictPath, "Base dictionary (word [freq] [tag] per line); empty uses the embedded general Chinese dictionary")
	fs.StringVar(&t.UserDictPath, "user-dict", t.UserDictPath, "Additional user dictionary")
	fs.StringVar(&t.StopwordsPath, "stopwords", t.StopwordsPath, "Stopword list, one per line")
	fs.StringVar(&t.ResourcesPath, "resources", t.ResourcesPath, "Linguistic resource YAML overriding the built-in rules")
	fs.StringVar(&t.TargetScripts, "scripts", t.TargetScripts, "Runes kept by the normalizer, e.g. 4E00-9FA5 or Han,Latin")
	fs.Var((*listValue)(&t.Words), "words", "Comma-separated extra words the segmenter keeps whole")
}

func RegisterSentimentFlags(fs *flag.FlagSet, s *SentimentSettings) {
	fs.StringVar(&s.Classifier, "classifier", s.Classifier, "Polarity backend: bayes|openai")
	fs.StringVar(&s.BayesModelPath, "bayes-model", s.BayesModelPath, "Bayes model JSON (missing file = always neutral)")
	fs.StringVar(&s.OpenAIModel, "openai-model", s.OpenAIModel, "OpenAI model for -classifier openai (uses OPENAI_API_KEY)")
	fs.Float64Var(&s.Threshold, "threshold", s.Threshold, "Confidence below which a label becomes Neutral")
	fs.IntVar(&s.MaxTextRunes, "max-text-runes", s.MaxTextRunes, "Truncate text to this many runes before classification")
}

// RegisterFieldFlags binds the candidate lists as comma-separated flags.
func RegisterFieldFlags(fs *flag.FlagSet, f *FieldSettings) {
	fs.Var((*listValue)(&f.Contents), "contents-fields", "Ordered text-column candidates for contents")
	fs.Var((*listValue)(&f.Comments), "comments-fields", "Ordered text-column candidates for comments")
}

type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return errors.New("empty field list")
	}
	*l = out
	return nil
}

// TextPipeline builds the normalizer and segmenter described by c.
func TextPipeline(c Config, logger *zerolog.Logger) (*pipeline.Normalizer, *pipeline.Segmenter, error) {
	scripts, err := pipeline.ParseScriptSet(c.Text.TargetScripts)
	if err != nil {
		return nil, nil, fmt.Errorf("scripts: %w", err)
	}
	res, err := pipeline.LoadLinguisticResources(pipeline.ResourceOptions{
		BaseDictPath:  c.Text.BaseDictPath,
		UserDictPath:  c.Text.UserDictPath,
		StopwordsPath: c.Text.StopwordsPath,
		ResourcesPath: c.Text.ResourcesPath,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	res.AddWords(c.Text.Words...)
	seg, err := pipeline.NewSegmenter(res)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.NewNormalizer(scripts), seg, nil
}

// NewClassifier returns the polarity backend selected by c.Sentiment.Classifier.
func NewClassifier(c Config, norm *pipeline.Normalizer, seg *pipeline.Segmenter, logger *zerolog.Logger) (pipeline.Classifier, error) {
	switch c.Sentiment.Classifier {
	case ClassifierOpenAI:
		return provider.NewOpenAIClassifier(c.OpenAIAPIKey, c.Sentiment.OpenAIModel)
	case ClassifierBayes, "":
		m, err := pipeline.OpenBayesModel(c.Sentiment.BayesModelPath, logger)
		if err != nil {
			return nil, err
		}
		if m.ResourceVersion != 0 && m.ResourceVersion != seg.ResourceVersion() {
			l := observability.LoggerOrNop(logger)
			l.Warn().
				Int("model_resources", m.ResourceVersion).
				Int("resources", seg.ResourceVersion()).
				Msg("bayes model was trained with different linguistic resources")
		}
		return pipeline.NewBayesClassifier(m, norm, seg)
	}
	return nil, fmt.Errorf("unknown classifier %q", c.Sentiment.Classifier)
}

func NewCalibrator(c Config, norm *pipeline.Normalizer, seg *pipeline.Segmenter, logger *zerolog.Logger, metrics *observability.Metrics) (*pipeline.Calibrator, error) {
	cl, err := NewClassifier(c, norm, seg, logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewCalibrator(cl, pipeline.CalibratorOptions{
		Threshold: c.Sentiment.Threshold,
		MaxRunes:  c.Sentiment.MaxTextRunes,
		Logger:    logger,
		Metrics:   metrics,
	})
}
