package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type bookRow struct {
	ID     int64  `db:"id"`
	Title  string `db:"title"`
	Source string `db:"source"`
}

type chapterRow struct {
	ID      int64          `db:"id"`
	BookID  int64          `db:"book_id"`
	Title   string         `db:"title"`
	URL     string         `db:"url"`
	Number  float64        `db:"number"`
	Content sql.NullString `db:"content"`
}

type translationRow struct {
	ChapterID  int64  `db:"chapter_id"`
	BookID     int64  `db:"book_id"`
	SourceLang string `db:"source_lang"`
	TargetLang string `db:"target_lang"`
	EngineID   string `db:"engine_id"`
	Segments   string `db:"segments"`
	CreatedAt  string `db:"created_at"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutBook(ctx context.Context, b catalog.Book) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO books(id, title, source) VALUES(:id, :title, :source)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, source=excluded.source`,
		bookRow{ID: b.ID, Title: b.Title, Source: b.Source},
	)
	return err
}

func (s *sqliteStore) PutChapter(ctx context.Context, c catalog.Chapter) error {
	content, err := encodeContent(c.Content)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO chapters(id, book_id, title, url, number, content)
		 VALUES(:id, :book_id, :title, :url, :number, :content)
		 ON CONFLICT(id) DO UPDATE SET
		   book_id=excluded.book_id, title=excluded.title, url=excluded.url,
		   number=excluded.number, content=COALESCE(excluded.content, chapters.content)`,
		chapterRow{ID: c.ID, BookID: c.BookID, Title: c.Title, URL: c.URL, Number: c.Number, Content: content},
	)
	return err
}

func (s *sqliteStore) FindBookByID(ctx context.Context, id int64) (catalog.Book, error) {
	var r bookRow
	err := s.db.GetContext(ctx, &r, `SELECT id, title, source FROM books WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Book{}, catalog.ErrBookNotFound
	}
	if err != nil {
		return catalog.Book{}, err
	}
	return catalog.Book{ID: r.ID, Title: r.Title, Source: r.Source}, nil
}

func (s *sqliteStore) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	var rows []bookRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, title, source FROM books ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]catalog.Book, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.Book{ID: r.ID, Title: r.Title, Source: r.Source})
	}
	return out, nil
}

func (s *sqliteStore) FindChapterByID(ctx context.Context, id int64) (catalog.Chapter, error) {
	var r chapterRow
	err := s.db.GetContext(ctx, &r, `SELECT id, book_id, title, url, number, content FROM chapters WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Chapter{}, catalog.ErrChapterNotFound
	}
	if err != nil {
		return catalog.Chapter{}, err
	}
	return r.chapter()
}

func (s *sqliteStore) FindChaptersByBookID(ctx context.Context, bookID int64) ([]catalog.Chapter, error) {
	var rows []chapterRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, book_id, title, url, number, content FROM chapters WHERE book_id = ? ORDER BY number, id`, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Chapter, 0, len(rows))
	for _, r := range rows {
		ch, err := r.chapter()
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (s *sqliteStore) SaveChapterContent(ctx context.Context, chapterID int64, content []catalog.Segment) error {
	enc, err := encodeContent(content)
	if err != nil {
		return err
	}
	// Matched rows count as affected even when content is already set.
	res, err := s.db.ExecContext(ctx, `UPDATE chapters SET content = COALESCE(content, ?) WHERE id = ?`, enc, chapterID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrChapterNotFound
	}
	return nil
}

func (s *sqliteStore) SaveTranslation(ctx context.Context, t catalog.TranslatedChapter) error {
	segs, err := json.Marshal(t.Segments)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO translations(chapter_id, book_id, source_lang, target_lang, engine_id, segments, created_at)
		 VALUES(:chapter_id, :book_id, :source_lang, :target_lang, :engine_id, :segments, :created_at)`,
		translationRow{
			ChapterID:  t.ChapterID,
			BookID:     t.BookID,
			SourceLang: t.SourceLang,
			TargetLang: t.TargetLang,
			EngineID:   t.EngineID,
			Segments:   string(segs),
			CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	)
	return err
}

func (s *sqliteStore) HasTranslation(ctx context.Context, chapterID int64, targetLang, engineID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM translations WHERE chapter_id = ? AND target_lang = ? AND engine_id = ?`,
		chapterID, targetLang, engineID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Translations(ctx context.Context, chapterID int64) ([]catalog.TranslatedChapter, error) {
	var rows []translationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chapter_id, book_id, source_lang, target_lang, engine_id, segments, created_at
		 FROM translations WHERE chapter_id = ? ORDER BY id`, chapterID)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.TranslatedChapter, 0, len(rows))
	for _, r := range rows {
		t := catalog.TranslatedChapter{
			ChapterID:  r.ChapterID,
			BookID:     r.BookID,
			SourceLang: r.SourceLang,
			TargetLang: r.TargetLang,
			EngineID:   r.EngineID,
		}
		if err := json.Unmarshal([]byte(r.Segments), &t.Segments); err != nil {
			return nil, fmt.Errorf("translation of chapter %d: %w", r.ChapterID, err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
		out = append(out, t)
	}
	return out, nil
}

func (r chapterRow) chapter() (catalog.Chapter, error) {
	ch := catalog.Chapter{ID: r.ID, BookID: r.BookID, Title: r.Title, URL: r.URL, Number: r.Number}
	if r.Content.Valid && r.Content.String != "" {
		if err := json.Unmarshal([]byte(r.Content.String), &ch.Content); err != nil {
			return catalog.Chapter{}, fmt.Errorf("chapter %d content: %w", r.ID, err)
		}
	}
	return ch, nil
}

// encodeContent stores empty content as NULL.
func encodeContent(segs []catalog.Segment) (sql.NullString, error) {
	if len(segs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
