package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const page = `<html><head><title>Ch 1</title><script>var x = 1;</script></head>
<body>
<nav>Home | Next</nav>
<div class="chapter-content">
  <h2>Chapter 1</h2>
  <p>First   line.</p>
  <img src="/img/map.png">
  <p>Second line.</p>
  <p>   </p>
  <ul><li><p>Nested item</p></li></ul>
</div>
<footer>copyright</footer>
</body></html>`

func TestFromHTMLDocumentOrder(t *testing.T) {
	t.Parallel()
	base, _ := url.Parse("https://example.com/book/1/ch/1")
	segs, err := FromHTML(strings.NewReader(page), DefaultSelector, base)
	if err != nil {
		t.Fatal(err)
	}
	want := []catalog.Segment{
		{Kind: catalog.SegmentText, Text: "Chapter 1"},
		{Kind: catalog.SegmentText, Text: "First line."},
		{Kind: catalog.SegmentImage, URL: "https://example.com/img/map.png"},
		{Kind: catalog.SegmentText, Text: "Second line."},
		{Kind: catalog.SegmentText, Text: "Nested item"},
	}
	if len(segs) != len(want) {
		t.Fatalf("segments = %+v", segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("segment %d = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestFromHTMLFallsBackToRootText(t *testing.T) {
	t.Parallel()
	segs, err := FromHTML(strings.NewReader(`<body><div>just text</div></body>`), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Text != "just text" {
		t.Fatalf("segments = %+v", segs)
	}
}

func TestHTTPSource(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			http.Error(w, "bad agent", http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	src := NewHTTPSource(Config{UserAgent: "test-agent"}, srv.Client(), logx.Nop())
	segs, err := src.FetchChapterContent(context.Background(), catalog.Chapter{ID: 1, URL: srv.URL + "/ch/1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog.TextSegments(segs)) != 4 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[2].URL != srv.URL+"/img/map.png" {
		t.Fatalf("image url = %q", segs[2].URL)
	}

	if _, err := src.FetchChapterContent(context.Background(), catalog.Chapter{ID: 2, URL: srv.URL + "/missing"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
	if _, err := src.FetchChapterContent(context.Background(), catalog.Chapter{ID: 3}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("err = %v", err)
	}
}
