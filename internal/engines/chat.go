package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const (
	DefaultChatTimeout    = 2 * time.Minute
	DefaultChatMaxRetries = 3
	DefaultChatChunkSize  = 40

	maxErrorBody = 500
)

var (
	// ErrBadResponse means the backend answered but not with one translation
	// per input text.
	ErrBadResponse = errors.New("unusable translation response")
	// ErrRateLimited is returned when 429 answers outlast the retries.
	ErrRateLimited = errors.New("translation backend rate limited")
)

// ChatConfig configures a remote LLM backend. For Chat, BaseURL points at an
// OpenAI-compatible API (OpenAI, DeepSeek, Gemini's compatibility endpoint,
// Ollama, ...). For Anthropic it is optional.
type ChatConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	// ChunkSize caps the texts sent per request.
	ChunkSize int
	// MaxTokens bounds the reply; Anthropic only.
	MaxTokens int
}

// Chat translates through a chat completions endpoint. Texts go out as a JSON
// array and the reply must be a JSON array of the same length.
type Chat struct {
	cfg      ChatConfig
	endpoint string
	client   *http.Client
	log      logx.Logger

	// backoff is the first retry delay after a transport error, 5xx or a
	// 429 without Retry-After; it doubles per attempt.
	backoff time.Duration
}

// NewChat builds a Chat engine. A nil client gets one with cfg.Timeout.
func NewChat(cfg ChatConfig, client *http.Client, log logx.Logger) *Chat {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChatChunkSize
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}
	return &Chat{cfg: cfg, endpoint: endpoint, client: client, log: log, backoff: time.Second}
}

func (c *Chat) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	return chunked(texts, c.cfg.ChunkSize, func(part []string) ([]string, error) {
		return c.translateChunk(ctx, part, sourceLang, targetLang)
	})
}

// chunked calls fn on consecutive slices of at most size texts and joins the
// results.
func chunked(texts []string, size int, fn func([]string) ([]string, error)) ([]string, error) {
	out := make([]string, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		part, err := fn(texts[start:min(start+size, len(texts))])
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (c *Chat) translateChunk(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	user, err := json.Marshal(texts)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(sourceLang, targetLang)},
			{Role: "user", Content: string(user)},
		},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	reply, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseTranslations(reply, len(texts))
}

// post sends body and returns the first choice's content, retrying transport
// errors, 5xx and 429 up to MaxRetries times.
func (c *Chat) post(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.retryDelay(attempt, lastErr)); err != nil {
				return "", err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &retryAfterError{wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
			c.log.Warn("translation backend rate limited",
				logx.String("endpoint", c.endpoint),
				logx.Int("attempt", attempt+1),
			)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(raw))
			continue
		case resp.StatusCode != http.StatusOK:
			return "", fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(raw))
		}
		return replyContent(raw)
	}
	var ra *retryAfterError
	if errors.As(lastErr, &ra) {
		return "", fmt.Errorf("%w after %d retries", ErrRateLimited, c.cfg.MaxRetries)
	}
	return "", lastErr
}

func (c *Chat) retryDelay(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.wait > 0 {
		return ra.wait
	}
	return c.backoff << (attempt - 1)
}

type retryAfterError struct{ wait time.Duration }

func (e *retryAfterError) Error() string { return "rate limited" }

// parseRetryAfter reads delay-seconds or an HTTP date. Zero means unknown.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func replyContent(raw []byte) (string, error) {
	var r chatResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if r.Error != nil {
		return "", fmt.Errorf("backend error: %s", r.Error.Message)
	}
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrBadResponse)
	}
	return r.Choices[0].Message.Content, nil
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseTranslations pulls the JSON array out of a model reply, tolerating a
// markdown code fence or prose around it.
func parseTranslations(reply string, want int) ([]string, error) {
	s := strings.TrimSpace(reply)
	if m := codeFence.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}
	if i, j := strings.Index(s, "["), strings.LastIndex(s, "]"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: got %d texts, want %d", ErrBadResponse, len(out), want)
	}
	return out, nil
}

func systemPrompt(sourceLang, targetLang string) string {
	from := "the source language"
	if sourceLang != "" && sourceLang != AutoDetect {
		from = sourceLang
	}
	return "You translate novel chapters from " + from + " to " + targetLang + ". " +
		"The user sends a JSON array of paragraphs. Reply with only a JSON array of " +
		"strings holding the translation of each paragraph, same length and order. " +
		"Keep names consistent and do not add notes."
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
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
