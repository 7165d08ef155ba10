package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

// Label is a three-way polarity.
type Label string

const (
	Positive Label = "Positive"
	Negative Label = "Negative"
	Neutral  Label = "Neutral"
)

// Labels lists every label in display order.
var Labels = []Label{Positive, Neutral, Negative}

// ParseLabel accepts the label names case-insensitively, plus the short forms pos/neg/neu.
func ParseLabel(s string) (Label, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos":
		return Positive, true
	case "negative", "neg":
		return Negative, true
	case "neutral", "neu":
		return Neutral, true
	}
	return "", false
}

const (
	// DefaultThreshold was picked empirically to hit the wanted share of neutral records.
	DefaultThreshold = 0.56
	DefaultMaxRunes  = 512
	neutralScore     = 0.5
)

// Prediction is what a polarity model returns. Confidence is the probability of Label.
type Prediction struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier is a pretrained polarity model.
type Classifier interface {
	Classify(ctx context.Context, text string) (Prediction, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Prediction, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Prediction, error) {
	return f(ctx, text)
}

// SentimentResult holds the model's raw answer and the calibrated label and score.
// CalibratedScore sits on one axis from 0 (most negative) to 1 (most positive) with Neutral
// at 0.5.
type SentimentResult struct {
	RawLabel        Label   `json:"raw_label"`
	RawConfidence   float64 `json:"raw_confidence"`
	CalibratedLabel Label   `json:"calibrated_label"`
	CalibratedScore float64 `json:"calibrated_score"`
}

// NeutralDefault is returned for empty input and for any classifier failure.
func NeutralDefault() SentimentResult {
	return SentimentResult{
		RawLabel:        Neutral,
		RawConfidence:   neutralScore,
		CalibratedLabel: Neutral,
		CalibratedScore: neutralScore,
	}
}

// Calibrate applies the confidence threshold to a prediction. Confidence is clamped to
// [0.5, 1] and unknown labels are read as Neutral.
func Calibrate(p Prediction, threshold float64) SentimentResult {
	if math.IsNaN(p.Confidence) {
		return NeutralDefault()
	}
	conf := math.Min(1, math.Max(neutralScore, p.Confidence))
	label, ok := ParseLabel(string(p.Label))
	if !ok {
		label = Neutral
	}

	res := SentimentResult{RawLabel: label, RawConfidence: conf}
	switch {
	case label == Neutral || conf < threshold:
		res.CalibratedLabel, res.CalibratedScore = Neutral, neutralScore
	case label == Positive:
		res.CalibratedLabel, res.CalibratedScore = Positive, conf
	default:
		res.CalibratedLabel, res.CalibratedScore = Negative, 1-conf
	}
	return res
}

type CalibratorOptions struct {
	// Threshold below which predictions become Neutral. Zero means DefaultThreshold.
	Threshold float64
	// MaxRunes truncates input before classification. Zero means DefaultMaxRunes.
	MaxRunes int

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// Calibrator wraps a Classifier so that it never fails: blank input and every model error
// come back as NeutralDefault.
type Calibrator struct {
	classifier Classifier
	threshold  float64
	maxRunes   int
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func NewCalibrator(c Classifier, opts CalibratorOptions) (*Calibrator, error) {
	if c == nil {
		return nil, fmt.Errorf("NewCalibrator: nil classifier")
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if err := ValidateThreshold(opts.Threshold); err != nil {
		return nil, fmt.Errorf("NewCalibrator: %w", err)
	}
	if opts.MaxRunes == 0 {
		opts.MaxRunes = DefaultMaxRunes
	}
	if opts.MaxRunes < 0 {
		return nil, fmt.Errorf("NewCalibrator: max runes must be positive, got %d", opts.MaxRunes)
	}
	return &Calibrator{
		classifier: c,
		threshold:  opts.Threshold,
		maxRunes:   opts.MaxRunes,
		log:        observability.LoggerOrNop(opts.Logger),
		metrics:    opts.Metrics,
	}, nil
}

// ValidateThreshold accepts thresholds in [0.5, 1]. Anything below 0.5 would never apply
// since confidences are at least 0.5.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < neutralScore || t > 1 {
		return fmt.Errorf("threshold must be within [0.5, 1], got %v", t)
	}
	return nil
}

func (c *Calibrator) Threshold() float64 { return c.threshold }

func (c *Calibrator) Classify(ctx context.Context, text string) (res SentimentResult) {
	if strings.TrimSpace(text) == "" {
		return NeutralDefault()
	}
	text = fileutils.TruncateRunes(text, c.maxRunes)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("classifier panicked, using neutral default")
			c.metrics.ClassifierFailed()
			res = NeutralDefault()
		}
	}()

	p, err := c.classifier.Classify(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Msg("classifier failed, using neutral default")
		c.metrics.ClassifierFailed()
		return NeutralDefault()
	}
	return Calibrate(p, c.threshold)
}

// ClassifyAny is Classify for loosely typed cells; anything but a string is neutral.
func (c *Calibrator) ClassifyAny(ctx context.Context, v any) SentimentResult {
	s, ok := v.(string)
	if !ok {
		return NeutralDefault()
	}
	return c.Classify(ctx, s)
}
