package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// Page is one rasterised statement page.
type Page struct {
	Number       int
	PNG          []byte
	PreviousDate string
}

type Extractor interface {
	Extract(ctx context.Context, page Page) (types.PageResult, error)
	Model() string
}

var _ Extractor = (*Vision)(nil)

// Vision extracts entries with an OpenAI vision model.
type Vision struct {
	client      openai.Client
	model       string
	maxTokens   int64
	maxRetries  uint64
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
	requestOpts []option.RequestOption
}

type Option func(v *Vision)

func WithBackOff(factory func() backoff.BackOff) Option {
	return func(v *Vision) {
		v.newBackOff = factory
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Vision) {
		v.logger = logger
	}
}

func WithUserAgent(ua string) Option {
	return func(v *Vision) {
		if ua != "" {
			v.requestOpts = append(v.requestOpts, option.WithHeader("User-Agent", ua))
		}
	}
}

// NewVision builds a client for apiKey. The SDK's own retries are disabled so that
// maxRetries is the only retry budget.
func NewVision(apiKey string, cfg config.OpenAI, maxRetries int, opts ...Option) *Vision {
	v := &Vision{
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: uint64(max(maxRetries, 0)),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "vision", "model", v.model)

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, v.requestOpts...)
	v.client = openai.NewClient(clientOpts...)

	return v
}

func (v *Vision) Model() string {
	return v.model
}

func (v *Vision) Extract(ctx context.Context, page Page) (types.PageResult, error) {
	params := v.params(page)

	var reply string
	attempt := 0
	op := func() error {
		attempt++
		resp, err := v.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if retryable(ctx, err) {
				v.logger.Warn("vision request failed, retrying", "page", page.Number, "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("no choices returned"))
		}
		reply = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(v.newBackOff(), v.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return types.PageResult{}, describe(err)
	}

	return Parse(page.Number, reply)
}

func (v *Vision) params(page Page) openai.ChatCompletionNewParams {
	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.PNG)

	return openai.ChatCompletionNewParams{
		Model: v.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(UserMessage(page.Number, page.PreviousDate)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    image,
					Detail: "high",
				}),
			}),
		},
		MaxTokens:   openai.Int(v.maxTokens),
		Temperature: openai.Float(0),
	}
}

// retryable reports rate limiting, server side failures and transport errors.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func describe(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return fmt.Errorf("API %d: %s", apiErr.StatusCode, msg)
	}
	return err
}

// DisplayName is the model name as shown to users, e.g. GPT-4o.
func DisplayName(model string) string {
	if rest, ok := strings.CutPrefix(model, "gpt"); ok {
		return "GPT" + rest
	}
	return model
}
