// Package catalog defines the library records the translation service reads
// and the collaborator ports it is built against.
//
// Storage, content retrieval and the translation backends live outside the
// scheduler; everything it needs from them is expressed here.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrChapterNotFound = errors.New("chapter not found")
)

// SegmentKind distinguishes text-bearing content from everything else.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
)

// Segment is one block of a chapter's content.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
}

type Book struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
}

type Chapter struct {
	ID      int64     `json:"id"`
	BookID  int64     `json:"book_id"`
	Title   string    `json:"title"`
	URL     string    `json:"url,omitempty"`
	Number  float64   `json:"number"`
	Content []Segment `json:"content,omitempty"`
}

// HasContent reports whether the cached body holds at least one segment.
func (c Chapter) HasContent() bool { return len(c.Content) > 0 }

// TranslatedChapter is one persisted translation. It is keyed by
// (chapter, target language, engine) and never replaces the original content.
type TranslatedChapter struct {
	ChapterID  int64     `json:"chapter_id"`
	BookID     int64     `json:"book_id"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	EngineID   string    `json:"engine_id"`
	Segments   []string  `json:"segments"`
	CreatedAt  time.Time `json:"created_at"`
}

// TextSegments returns the non-empty text of every text segment, in order.
// Images and other non-text blocks are dropped.
func TextSegments(segs []Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Kind != SegmentText {
			continue
		}
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ---- ports ----

type BookRepository interface {
	FindBookByID(ctx context.Context, id int64) (Book, error)
}

type ChapterRepository interface {
	FindChapterByID(ctx context.Context, id int64) (Chapter, error)
	FindChaptersByBookID(ctx context.Context, bookID int64) ([]Chapter, error)
}

// ContentCache is optionally implemented by a ChapterRepository that can keep
// downloaded chapter content. SaveChapterContent only fills empty content; a
// chapter that already has content keeps it.
type ContentCache interface {
	SaveChapterContent(ctx context.Context, chapterID int64, content []Segment) error
}

// ContentSource retrieves a chapter's raw content when it is not cached.
type ContentSource interface {
	FetchChapterContent(ctx context.Context, ch Chapter) ([]Segment, error)
}

// TranslationEngine translates a batch of texts. The result has one entry per
// input text, in the same order.
type TranslationEngine interface {
	Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
}

// TranslatedContentStore persists translations append-only.
type TranslatedContentStore interface {
	SaveTranslation(ctx context.Context, t TranslatedChapter) error
}

// TranslationLookup is optionally implemented by a TranslatedContentStore.
type TranslationLookup interface {
	HasTranslation(ctx context.Context, chapterID int64, targetLang, engineID string) (bool, error)
}
