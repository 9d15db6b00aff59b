package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/pkg/circuitbreaker"
	"github.com/research-agent/backend/pkg/logger"
	"github.com/research-agent/backend/pkg/retry"
)

type Client struct {
	client      *openai.Client
	provider    string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type ClientConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

var _ Generator = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("llm-"+cfg.Provider, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Operation:      "llm-" + cfg.Provider,
		OnRetry: func(int, error) {
			metrics.UpstreamRetries.WithLabelValues("llm-" + cfg.Provider).Inc()
		},
		Logger: logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("provider", cfg.Provider),
		zap.Bool("custom_base_url", cfg.BaseURL != ""),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		provider:    cfg.Provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Stream(ctx context.Context, req GenerateRequest) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	chatReq := c.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			s, err := c.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return classify(fmt.Errorf("failed to open completion stream: %w", err))
			}
			stream = s
			return nil
		})
	})
	if err != nil {
		cancel()
		return nil, err
	}

	logger.Debug("LLM stream opened",
		zap.String("provider", c.provider),
		zap.String("model", req.Model),
		zap.Int("messages", len(chatReq.Messages)),
		zap.Int("tools", len(chatReq.Tools)),
	)

	return &openaiStream{stream: stream, cancel: cancel}, nil
}

func (c *Client) Complete(ctx context.Context, req GenerateRequest) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatReq := c.buildRequest(req)

	var result *Completion
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return classify(fmt.Errorf("failed to create completion: %w", err))
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(ErrEmptyCompletion)
			}

			logger.Debug("LLM completion generated",
				zap.String("model", req.Model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &Completion{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) buildRequest(req GenerateRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.System, req.Messages),
	}

	if !req.Reasoning {
		chatReq.Temperature = req.Temperature
		if chatReq.Temperature == 0 {
			chatReq.Temperature = c.temperature
		}
		chatReq.MaxTokens = req.MaxTokens
		if chatReq.MaxTokens == 0 {
			chatReq.MaxTokens = c.maxTokens
		}
	}

	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return chatReq
}

func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleData:
			continue
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// classify marks client errors other than rate limiting as not retryable.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *openaiStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("failed to receive completion chunk: %w", err)
	}

	var chunk Chunk
	if resp.Usage != nil {
		chunk.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return chunk, nil
	}

	choice := resp.Choices[0]
	chunk.TextDelta = choice.Delta.Content
	chunk.FinishReason = mapFinishReason(choice.FinishReason)
	for i, tc := range choice.Delta.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			ArgsDelta: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

func (s *openaiStream) Close() error {
	defer s.cancel()
	return s.stream.Close()
}

func mapFinishReason(r openai.FinishReason) string {
	switch r {
	case "":
		return ""
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter:
		return FinishContentFilter
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	default:
		return FinishOther
	}
}
