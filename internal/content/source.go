package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const (
	DefaultUserAgent = "translatord/1.0 (+chapter fetcher)"
	DefaultTimeout   = 30 * time.Second
	maxBodyBytes     = 8 << 20
)

var ErrNoURL = errors.New("chapter has no source url")

type Config struct {
	UserAgent string
	Timeout   time.Duration
	Selector  string
}

// HTTPSource fetches chapter pages over HTTP and extracts their segments.
type HTTPSource struct {
	client *http.Client
	cfg    Config
	log    logx.Logger
}

func NewHTTPSource(cfg Config, client *http.Client, log logx.Logger) *HTTPSource {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSource{client: client, cfg: cfg, log: log}
}

func (s *HTTPSource) FetchChapterContent(ctx context.Context, ch catalog.Chapter) ([]catalog.Segment, error) {
	if ch.URL == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(ch.URL)
	if err != nil {
		return nil, fmt.Errorf("chapter url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}

	segs, err := FromHTML(io.LimitReader(resp.Body, maxBodyBytes), s.cfg.Selector, resp.Request.URL)
	if err != nil {
		return nil, err
	}
	s.log.Debug("chapter fetched",
		logx.Int64("chapter_id", ch.ID),
		logx.Int("segments", len(segs)),
		logx.Duration("took", time.Since(start)),
	)
	return segs, nil
}
