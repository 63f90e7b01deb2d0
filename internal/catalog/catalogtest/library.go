// Package catalogtest provides in-memory collaborators for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
)

// Library is an in-memory book, chapter and translation store.
type Library struct {
	mu           sync.Mutex
	books        map[int64]catalog.Book
	chapters     map[int64]catalog.Chapter
	translations []catalog.TranslatedChapter
	cached       map[int64]int
}

func NewLibrary() *Library {
	return &Library{
		books:    map[int64]catalog.Book{},
		chapters: map[int64]catalog.Chapter{},
		cached:   map[int64]int{},
	}
}

func (l *Library) AddBook(b catalog.Book) {
	l.mu.Lock()
	l.books[b.ID] = b
	l.mu.Unlock()
}

func (l *Library) AddChapter(c catalog.Chapter) {
	l.mu.Lock()
	l.chapters[c.ID] = c
	l.mu.Unlock()
}

// AddChapters adds chapters ids first..first+n-1 to book, each with one text
// segment when withContent is set.
func (l *Library) AddChapters(bookID, first int64, n int, withContent bool) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id := first + int64(i)
		c := catalog.Chapter{ID: id, BookID: bookID, Title: "Chapter", Number: float64(i + 1)}
		if withContent {
			c.Content = []catalog.Segment{{Kind: catalog.SegmentText, Text: "text"}}
		}
		l.AddChapter(c)
		ids = append(ids, id)
	}
	return ids
}

func (l *Library) FindBookByID(_ context.Context, id int64) (catalog.Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[id]
	if !ok {
		return catalog.Book{}, catalog.ErrBookNotFound
	}
	return b, nil
}

func (l *Library) FindChapterByID(_ context.Context, id int64) (catalog.Chapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chapters[id]
	if !ok {
		return catalog.Chapter{}, catalog.ErrChapterNotFound
	}
	return c, nil
}

func (l *Library) FindChaptersByBookID(_ context.Context, bookID int64) ([]catalog.Chapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []catalog.Chapter
	for _, c := range l.chapters {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (l *Library) SaveChapterContent(_ context.Context, id int64, content []catalog.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chapters[id]
	if !ok {
		return catalog.ErrChapterNotFound
	}
	c.Content = append([]catalog.Segment(nil), content...)
	l.chapters[id] = c
	l.cached[id]++
	return nil
}

// CachedWrites reports how many times content was saved for a chapter.
func (l *Library) CachedWrites(id int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached[id]
}

func (l *Library) SaveTranslation(_ context.Context, t catalog.TranslatedChapter) error {
	l.mu.Lock()
	l.translations = append(l.translations, t)
	l.mu.Unlock()
	return nil
}

func (l *Library) HasTranslation(_ context.Context, chapterID int64, targetLang, engineID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.translations {
		if t.ChapterID == chapterID && t.TargetLang == targetLang && t.EngineID == engineID {
			return true, nil
		}
	}
	return false, nil
}

func (l *Library) Translations() []catalog.TranslatedChapter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]catalog.TranslatedChapter(nil), l.translations...)
}

// SourceFunc adapts a function to catalog.ContentSource and counts calls.
type SourceFunc func(ctx context.Context, ch catalog.Chapter) ([]catalog.Segment, error)

func (f SourceFunc) FetchChapterContent(ctx context.Context, ch catalog.Chapter) ([]catalog.Segment, error) {
	return f(ctx, ch)
}

// EngineFunc adapts a function to catalog.TranslationEngine.
type EngineFunc func(ctx context.Context, texts []string, src, tgt string) ([]string, error)

func (f EngineFunc) Translate(ctx context.Context, texts []string, src, tgt string) ([]string, error) {
	return f(ctx, texts, src, tgt)
}

// Echo returns every text unchanged.
var Echo = EngineFunc(func(_ context.Context, texts []string, _, _ string) ([]string, error) {
	return append([]string(nil), texts...), nil
})
