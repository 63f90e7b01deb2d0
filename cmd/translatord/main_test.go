package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/storage"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

func TestParseChapterIDs(t *testing.T) {
	cases := []struct {
		in   string
		want []int64
		err  bool
	}{
		{in: "", want: nil},
		{in: "3", want: []int64{3}},
		{in: "1, 2,5-7", want: []int64{1, 2, 5, 6, 7}},
		{in: "4,2-4", want: []int64{4, 2, 3}},
		{in: "a", err: true},
		{in: "0", err: true},
		{in: "5-2", err: true},
		{in: "1-x", err: true},
	}
	for _, tc := range cases {
		got, err := parseChapterIDs(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%q: got %v want %v", tc.in, got, tc.want)
		}
	}
}

const sampleCatalog = `
books:
  - id: 1
    title: First
    chapters:
      - id: 10
        title: One
        paragraphs: ["Hello.", "World."]
      - id: 11
        title: Two
        url: https://example.org/b/2
  - id: 2
    title: Second
    chapters:
      - id: 20
        title: Only
        number: 7
        paragraphs: ["x"]
        images: ["https://example.org/i.png"]
`

func TestImportCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := loadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "lib")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	books, chapters, err := importCatalog(ctx, st, doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if books != 2 || chapters != 3 {
		t.Fatalf("imported %d books %d chapters", books, chapters)
	}

	ch, err := st.FindChapterByID(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if ch.BookID != 1 || ch.Number != 1 || len(ch.Content) != 2 {
		t.Fatalf("chapter 10: %+v", ch)
	}
	ch, err = st.FindChapterByID(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if ch.HasContent() || ch.URL == "" || ch.Number != 2 {
		t.Fatalf("chapter 11: %+v", ch)
	}
	ch, err = st.FindChapterByID(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if ch.Number != 7 || len(ch.Content) != 2 {
		t.Fatalf("chapter 20: %+v", ch)
	}

	var out bytes.Buffer
	if err := renderLibrary(ctx, &out, st); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "First") || !strings.Contains(out.String(), "Second") {
		t.Fatalf("library table:\n%s", out.String())
	}
}

func TestLoadCatalogRejectsBadIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	bad := "books:\n  - id: 1\n    title: A\n    chapters:\n      - id: 5\n      - id: 5\n  - id: 1\n    title: B\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := loadCatalog(path)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"chapters[1].id 5 is duplicated", "books[1].id 1 is duplicated"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestRenderEngines(t *testing.T) {
	reg := engines.NewRegistry()
	reg.Register(engines.EnginePseudo, engines.Pseudo{})
	reg.Register("groq", engines.Pseudo{})
	tr := config.Translation{RateLimitDelay: 3 * time.Second, WarningThreshold: 10}

	var out bytes.Buffer
	renderEngines(&out, engines.DefaultClassifier(), reg, tr)
	s := out.String()
	for _, want := range []string{"pseudo", "openai", "rate-limited", "every 3s", "groq", "unclassified"} {
		if !strings.Contains(s, want) {
			t.Fatalf("engines table missing %q:\n%s", want, s)
		}
	}
}
