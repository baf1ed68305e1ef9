package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"concurseiro-backend/internal/config"
	"concurseiro-backend/internal/models"
)

type GeminiGenerator struct {
	client   *genai.Client
	models   map[Tier]string
	limiter  *rate.Limiter
	timeout  time.Duration
	rateChan chan struct{} // Token bucket
	log      *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg config.LLMConfig, log *zap.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:   client,
		models:   tierModels(cfg),
		limiter:  newRPMLimiter(cfg.RequestsPerMin),
		timeout:  cfg.RequestTimeout,
		rateChan: newTokenBucket(cfg.ConcurrentReqs),
		log:      log,
	}, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	if err := acquireRate(ctx, g.rateChan); err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}
	defer releaseRate(g.rateChan)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}

	ctx, cancel := withCallTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.models[req.Tier])
	model.SetTemperature(req.Temperature)
	if schema := geminiSchema(req.Shape); schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = schema
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			g.log.Warn("gemini stopped early",
				zap.String("op", req.Op),
				zap.Int("candidate", i),
				zap.String("finish_reason", cand.FinishReason.String()),
				zap.Int32("tokens", cand.TokenCount))
		}
	}

	return &Generation{Text: extractText(resp), Sources: citationSources(resp)}, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func citationSources(resp *genai.GenerateContentResponse) []models.Source {
	var sources []models.Source
	seen := map[string]bool{}
	for _, cand := range resp.Candidates {
		if cand.CitationMetadata == nil {
			continue
		}
		for _, src := range cand.CitationMetadata.CitationSources {
			if src == nil || src.URI == nil || seen[*src.URI] {
				continue
			}
			seen[*src.URI] = true
			sources = append(sources, models.Source{Title: sourceTitle(*src.URI), URI: *src.URI})
		}
	}
	return sources
}

func sourceTitle(uri string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(uri, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return "Fonte Web"
	}
	return host
}

func geminiSchema(shape Shape) *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}

	switch shape {
	case ShapeQuestions:
		return &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":                 str,
					"text":               {Type: genai.TypeString, Description: "The question stem"},
					"options":            {Type: genai.TypeArray, Items: str, Description: "Exactly 5 options (A, B, C, D, E)"},
					"correctOptionIndex": {Type: genai.TypeInteger, Description: "0-based index of correct option"},
					"explanation":        {Type: genai.TypeString, Description: "Brief explanation of the answer"},
					"topic":              {Type: genai.TypeString, Description: "The specific topic this question covers"},
				},
				Required: []string{"id", "text", "options", "correctOptionIndex", "explanation", "topic"},
			},
		}
	case ShapePlan:
		activities := make([]string, len(models.ActivityTypes))
		for i, a := range models.ActivityTypes {
			activities[i] = string(a)
		}
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"slots": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"id":              str,
							"subject":         str,
							"topic":           str,
							"activityType":    {Type: genai.TypeString, Enum: activities},
							"durationMinutes": {Type: genai.TypeInteger},
							"notes":           {Type: genai.TypeString, Description: "Brief advice for this slot"},
						},
						Required: []string{"subject", "topic", "activityType", "durationMinutes"},
					},
				},
			},
		}
	case ShapeSubjects:
		return &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name": str,
					"importance": {
						Type: genai.TypeString,
						Enum: []string{string(models.ImportanceHigh), string(models.ImportanceMedium), string(models.ImportanceLow)},
					},
					"topics":        {Type: genai.TypeArray, Items: str},
					"questionCount": str,
				},
				Required: []string{"name", "importance", "topics"},
			},
		}
	}
	return nil
}

func tierModels(cfg config.LLMConfig) map[Tier]string {
	return map[Tier]string{
		TierSearch:     cfg.SearchModel,
		TierSimulation: cfg.SimulationModel,
		TierPrecision:  cfg.PrecisionModel,
	}
}

func newTokenBucket(n int) chan struct{} {
	if n <= 0 {
		n = 1
	}
	ch := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		ch <- struct{}{}
	}
	return ch
}

func newRPMLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

// acquireRate blocks until a concurrency slot is available
func acquireRate(ctx context.Context, bucket chan struct{}) error {
	select {
	case <-bucket:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for a model slot")
	}
}

// withCallTimeout bounds one model call; d <= 0 leaves ctx as is.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func releaseRate(bucket chan struct{}) {
	bucket <- struct{}{}
}
