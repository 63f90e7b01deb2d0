package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultMaxTokens = 8192

// Anthropic translates through the Anthropic Messages API. Retries and
// Retry-After handling are left to the SDK client.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	temp      float64
	chunk     int
}

func NewAnthropic(cfg ChatConfig, httpClient *http.Client) *Anthropic {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChatChunkSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		temp:      cfg.Temperature,
		chunk:     cfg.ChunkSize,
	}
}

func (a *Anthropic) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	return chunked(texts, a.chunk, func(part []string) ([]string, error) {
		user, err := json.Marshal(part)
		if err != nil {
			return nil, err
		}
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(a.model),
			MaxTokens:   a.maxTokens,
			Temperature: anthropic.Float(a.temp),
			System:      []anthropic.TextBlockParam{{Text: systemPrompt(sourceLang, targetLang)}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(string(user))),
			},
		})
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return nil, err
		}
		var reply strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				reply.WriteString(block.Text)
			}
		}
		return parseTranslations(reply.String(), len(part))
	})
}
