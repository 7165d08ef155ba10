package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const DefaultModel = "gpt-4.1-mini"

const classifierInstructions = `You label the polarity of short Chinese social-media posts and comments about retail products.
Answer with exactly one label: positive, negative or neutral.
confidence is your probability for that label, between 0.5 and 1.
Slang, sarcasm and emoji count. Complaints about price, queues or freshness are negative.`

// classificationResponse is the strict JSON shape the model must return.
type classificationResponse struct {
	Label      string  `json:"label" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Confidence float64 `json:"confidence"`
}

var classificationSchema = GenerateSchema[classificationResponse]()

// OpenAIClassifier is a pipeline.Classifier backed by the Responses API.
type OpenAIClassifier struct {
	client          *openai.Client
	model           string
	maxOutputTokens int64
}

func NewOpenAIClassifier(apiKey, model string) (*OpenAIClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("NewOpenAIClassifier: api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClassifier{client: &client, model: model, maxOutputTokens: 200}, nil
}

func (c *OpenAIClassifier) Model() string { return c.model }

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (pipeline.Prediction, error) {
	if c == nil || c.client == nil {
		return pipeline.Prediction{}, errors.New("OpenAIClassifier: client is nil")
	}

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "SentimentLabel",
			Schema:      classificationSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Polarity label JSON"),
			Type:        "json_schema",
		},
	}
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Instructions:    openai.String(classifierInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := CallWithRetry(ctx, c.client, params)
	if err != nil {
		return pipeline.Prediction{}, err
	}
	return parsePrediction(resp.OutputText())
}

func parsePrediction(outputText string) (pipeline.Prediction, error) {
	var out classificationResponse
	if err := fileutils.DecodeModelJSON(outputText, &out); err != nil {
		return pipeline.Prediction{}, fmt.Errorf("unmarshal classification: %w", err)
	}
	label, ok := pipeline.ParseLabel(out.Label)
	if !ok {
		return pipeline.Prediction{}, fmt.Errorf("unknown label %q", out.Label)
	}
	return pipeline.Prediction{Label: label, Confidence: out.Confidence}, nil
}

var (
	rateLimitWaitTimes   = []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second}
	serverErrorWaitTimes = []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second}
)

// CallWithRetry retries rate-limit and server errors with fixed backoff. Waiting stops as soon
// as ctx is done.
func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		var wait time.Duration
		switch {
		case isRateLimitError(err):
			wait = rateLimitWaitTimes[attempt]
		case isServerError(err):
			wait = serverErrorWaitTimes[attempt]
		default:
			return nil, err
		}
		if attempt == maxRetries-1 {
			return nil, err
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts due to OpenAI API issues", maxRetries)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

// GenerateSchema reflects T into a JSON schema that strict structured output accepts: every
// object closed and every property required.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	m, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	ensureStrictObjects(m)
	return m
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func ensureStrictObjects(schema map[string]any) {
	properties, _ := schema["properties"].(map[string]any)
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if len(properties) > 0 {
			required := make([]string, 0, len(properties))
			for name := range properties {
				required = append(required, name)
			}
			sort.Strings(required)
			schema["required"] = required
		}
	}
	for _, prop := range properties {
		if pm, ok := prop.(map[string]any); ok {
			ensureStrictObjects(pm)
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrictObjects(items)
	}
}
