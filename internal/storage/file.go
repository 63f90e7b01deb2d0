package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const compactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.library.snapshot.json  (books and chapters, periodic snapshot)
//   - <prefix>.library.journal.jsonl  (append-only journal since the snapshot)
//   - <prefix>.translations.jsonl     (append-only translations)
//
// The journal is compacted into the snapshot every compactEvery writes and on
// Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	translations *os.File

	books    map[int64]catalog.Book
	chapters map[int64]catalog.Chapter
	byKey    map[int64][]catalog.TranslatedChapter

	writes int
}

type librarySnapshot struct {
	Books    []catalog.Book    `json:"books"`
	Chapters []catalog.Chapter `json:"chapters"`
}

type journalRecord struct {
	Op        string            `json:"op"`
	Book      *catalog.Book     `json:"book,omitempty"`
	Chapter   *catalog.Chapter  `json:"chapter,omitempty"`
	ChapterID int64             `json:"chapter_id,omitempty"`
	Content   []catalog.Segment `json:"content,omitempty"`
}

const (
	opBook    = "book"
	opChapter = "chapter"
	opContent = "content"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".library.snapshot.json",
		books:        map[int64]catalog.Book{},
		chapters:     map[int64]catalog.Chapter{},
		byKey:        map[int64][]catalog.TranslatedChapter{},
	}
	journalPath := prefix + ".library.journal.jsonl"
	translationsPath := prefix + ".translations.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.loadTranslations(translationsPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	tf, err := os.OpenFile(translationsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	s.translations = tf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if s.writes > 0 {
			errs = append(errs, s.compactLocked())
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.translations != nil {
		errs = append(errs, s.translations.Close())
		s.translations = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) PutBook(_ context.Context, b catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opBook, Book: &b}); err != nil {
		return err
	}
	s.books[b.ID] = b
	return nil
}

func (s *fileStore) PutChapter(_ context.Context, c catalog.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opChapter, Chapter: &c}); err != nil {
		return err
	}
	s.applyChapter(c)
	return nil
}

func (s *fileStore) SaveChapterContent(_ context.Context, chapterID int64, content []catalog.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok {
		return catalog.ErrChapterNotFound
	}
	if c.HasContent() {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opContent, ChapterID: chapterID, Content: content}); err != nil {
		return err
	}
	s.applyContent(chapterID, content)
	return nil
}

func (s *fileStore) FindBookByID(_ context.Context, id int64) (catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return catalog.Book{}, catalog.ErrBookNotFound
	}
	return b, nil
}

func (s *fileStore) ListBooks(_ context.Context) ([]catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) FindChapterByID(_ context.Context, id int64) (catalog.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[id]
	if !ok {
		return catalog.Chapter{}, catalog.ErrChapterNotFound
	}
	return cloneChapter(c), nil
}

func (s *fileStore) FindChaptersByBookID(_ context.Context, bookID int64) ([]catalog.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Chapter
	for _, c := range s.chapters {
		if c.BookID == bookID {
			out = append(out, cloneChapter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) SaveTranslation(_ context.Context, t catalog.TranslatedChapter) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.translations == nil {
		return errors.New("translations file closed")
	}
	if err := json.NewEncoder(s.translations).Encode(t); err != nil {
		return err
	}
	s.byKey[t.ChapterID] = append(s.byKey[t.ChapterID], t)
	return nil
}

func (s *fileStore) HasTranslation(_ context.Context, chapterID int64, targetLang, engineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byKey[chapterID] {
		if t.TargetLang == targetLang && t.EngineID == engineID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fileStore) Translations(_ context.Context, chapterID int64) ([]catalog.TranslatedChapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.TranslatedChapter(nil), s.byKey[chapterID]...), nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return errors.New("library journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("library compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) applyChapter(c catalog.Chapter) {
	if len(c.Content) == 0 {
		if prev, ok := s.chapters[c.ID]; ok {
			c.Content = prev.Content
		}
	}
	s.chapters[c.ID] = c
}

func (s *fileStore) applyContent(chapterID int64, content []catalog.Segment) {
	c, ok := s.chapters[chapterID]
	if !ok {
		return
	}
	c.Content = append([]catalog.Segment(nil), content...)
	s.chapters[chapterID] = c
}

func (s *fileStore) compactLocked() error {
	snap := librarySnapshot{
		Books:    make([]catalog.Book, 0, len(s.books)),
		Chapters: make([]catalog.Chapter, 0, len(s.chapters)),
	}
	for _, b := range s.books {
		snap.Books = append(snap.Books, b)
	}
	for _, c := range s.chapters {
		snap.Chapters = append(snap.Chapters, c)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	s.writes = 0
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap librarySnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, b := range snap.Books {
		s.books[b.ID] = b
	}
	for _, c := range snap.Chapters {
		s.chapters[c.ID] = c
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line from a crash.
			continue
		}
		switch r.Op {
		case opBook:
			if r.Book != nil {
				s.books[r.Book.ID] = *r.Book
			}
		case opChapter:
			if r.Chapter != nil {
				s.applyChapter(*r.Chapter)
			}
		case opContent:
			s.applyContent(r.ChapterID, r.Content)
		}
	}
	return sc.Err()
}

func (s *fileStore) loadTranslations(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var t catalog.TranslatedChapter
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil || t.ChapterID == 0 {
			continue
		}
		s.byKey[t.ChapterID] = append(s.byKey[t.ChapterID], t)
	}
	return sc.Err()
}

func cloneChapter(c catalog.Chapter) catalog.Chapter {
	c.Content = append([]catalog.Segment(nil), c.Content...)
	return c
}
