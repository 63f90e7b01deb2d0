package engines

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// upperBackend answers like a chat completions API, upper-casing each text.
func upperBackend(t *testing.T, calls *atomic.Int32, fence bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "m" || len(req.Messages) != 2 || !strings.Contains(req.Messages[0].Content, "to de") {
			t.Errorf("request = %+v", req)
		}
		var texts []string
		if err := json.Unmarshal([]byte(req.Messages[1].Content), &texts); err != nil {
			t.Errorf("user message: %v", err)
			return
		}
		for i := range texts {
			texts[i] = strings.ToUpper(texts[i])
		}
		b, _ := json.Marshal(texts)
		reply := string(b)
		if fence {
			reply = "Sure:\n```json\n" + reply + "\n```"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}
}

func newTestChat(url string, retries int) *Chat {
	c := NewChat(ChatConfig{BaseURL: url + "/v1/", Model: "m", APIKey: "k", MaxRetries: retries, ChunkSize: 2}, nil, logx.Nop())
	c.backoff = time.Millisecond
	return c
}

func TestChatTranslatesInChunks(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(upperBackend(t, &calls, true))
	defer srv.Close()

	got, err := newTestChat(srv.URL, 0).Translate(context.Background(), []string{"a", "b", "c"}, "en", "de")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "A,B,C" {
		t.Fatalf("got %v", got)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("requests = %d, want 2 chunks", n)
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ok := upperBackend(t, &calls, false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Load() == 0 {
			calls.Add(1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		ok(w, r)
	}))
	defer srv.Close()

	got, err := newTestChat(srv.URL, 2).Translate(context.Background(), []string{"x"}, "auto", "de")
	if err != nil || len(got) != 1 || got[0] != "X" {
		t.Fatalf("got %v, %v", got, err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("requests = %d", n)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		retries int
		want    error
		calls   int32
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retries: 1, want: ErrRateLimited, calls: 2},
		{name: "wrong length", status: http.StatusOK, body: `{"choices":[{"message":{"content":"[\"a\",\"b\"]"}}]}`, retries: 2, want: ErrBadResponse, calls: 1},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, retries: 2, want: ErrBadResponse, calls: 1},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"nope"}}`, retries: 2, calls: 1},
		{name: "server error", status: http.StatusBadGateway, retries: 1, calls: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestChat(srv.URL, tt.retries).Translate(context.Background(), []string{"x"}, "en", "de")
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := calls.Load(); n != tt.calls {
				t.Fatalf("requests = %d, want %d", n, tt.calls)
			}
		})
	}
}

func TestChatStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestChat(srv.URL, 5)
	c.backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Translate(ctx, []string{"x"}, "en", "de"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	if d := parseRetryAfter("7"); d != 7*time.Second {
		t.Fatalf("seconds = %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Fatalf("garbage = %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Fatalf("date = %v", d)
	}
}
