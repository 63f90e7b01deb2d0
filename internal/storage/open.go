package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// ErrDisabled is returned by Open when no driver is configured.
var ErrDisabled = errors.New("storage disabled")

// Config selects a backend. Driver is "sqlite" (a database file at Path) or
// "file" (a JSON snapshot plus append-only journal next to Path).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means 5s
}

// Store is the persistence API used by the translation service and the CLI.
type Store interface {
	catalog.BookRepository
	catalog.ChapterRepository
	catalog.ContentCache
	catalog.TranslatedContentStore
	catalog.TranslationLookup

	PutBook(ctx context.Context, b catalog.Book) error
	// PutChapter inserts or updates a chapter. Empty content leaves any
	// cached content in place.
	PutChapter(ctx context.Context, c catalog.Chapter) error
	ListBooks(ctx context.Context) ([]catalog.Book, error)
	// Translations returns every stored translation of a chapter, oldest
	// first.
	Translations(ctx context.Context, chapterID int64) ([]catalog.TranslatedChapter, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return nil, ErrDisabled
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", d)
	}
}
