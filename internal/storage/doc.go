// Package storage persists the library: books, chapters, cached chapter
// content and translations.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": JSON snapshot + journal files, for setups without SQLite
//
// Translations are append-only in both drivers; the newest one for a
// (chapter, target language, engine) key wins on read.
package storage
