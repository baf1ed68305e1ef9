package services

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"concurseiro-backend/internal/config"
)

// OpenAIGenerator talks to any OpenAI-compatible chat completion endpoint.
// Structured shapes are requested as JSON objects, so array shapes come back
// wrapped and are unwrapped by the content service.
type OpenAIGenerator struct {
	client   *openai.Client
	models   map[Tier]string
	limiter  *rate.Limiter
	timeout  time.Duration
	rateChan chan struct{}
	log      *zap.Logger
}

func NewOpenAIGenerator(cfg config.LLMConfig, log *zap.Logger) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:   openai.NewClientWithConfig(clientCfg),
		models:   tierModels(cfg),
		limiter:  newRPMLimiter(cfg.RequestsPerMin),
		timeout:  cfg.RequestTimeout,
		rateChan: newTokenBucket(cfg.ConcurrentReqs),
		log:      log,
	}
}

func (g *OpenAIGenerator) Close() error { return nil }

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	if err := acquireRate(ctx, g.rateChan); err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}
	defer releaseRate(g.rateChan)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}

	ctx, cancel := withCallTimeout(ctx, g.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: g.models[req.Tier],
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
	}
	if req.Shape != ShapeText {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ServiceUnavailableError{Op: req.Op, Err: fmt.Errorf("no choices returned")}
	}

	choice := resp.Choices[0]
	if choice.FinishReason != openai.FinishReasonStop {
		g.log.Warn("chat completion stopped early",
			zap.String("op", req.Op),
			zap.String("finish_reason", string(choice.FinishReason)))
	}

	return &Generation{Text: choice.Message.Content}, nil
}
