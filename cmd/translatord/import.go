package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/IReaderorg/IReader-sub034/internal/app"
	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/storage"
)

// catalogFile is the document read by "translatord import".
//
//	books:
//	  - id: 1
//	    title: Example
//	    chapters:
//	      - id: 10
//	        title: Chapter 1
//	        number: 1
//	        paragraphs: ["First paragraph.", "Second paragraph."]
//	      - id: 11
//	        title: Chapter 2
//	        url: https://example.org/book/2
type catalogFile struct {
	Books []catalogBook `json:"books"`
}

type catalogBook struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Source   string           `json:"source,omitempty"`
	Chapters []catalogChapter `json:"chapters"`
}

type catalogChapter struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Number     float64  `json:"number,omitempty"`
	URL        string   `json:"url,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	Images     []string `json:"images,omitempty"`
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Seed books and chapters into storage",
		Long: `Read a YAML or JSON catalog of books and chapters and store it.

Chapters carry their content inline as paragraphs, or a url that is downloaded
the first time the chapter is translated. Existing records are updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runImport(ctx, cmd.OutOrStdout(), args[0])
		},
	}
}

func runImport(ctx context.Context, out io.Writer, path string) error {
	doc, err := loadCatalog(path)
	if err != nil {
		return err
	}

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopCompleted) }()

	books, chapters, err := importCatalog(ctx, a.Store(), doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d books, %d chapters\n", books, chapters)
	return nil
}

func loadCatalog(path string) (catalogFile, error) {
	var doc catalogFile
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := config.DecodeInto(path, data, &doc); err != nil {
		return doc, fmt.Errorf("%s: %w", path, err)
	}
	return doc, validateCatalog(doc)
}

func validateCatalog(doc catalogFile) error {
	var errs []error
	books := map[int64]struct{}{}
	chapters := map[int64]struct{}{}
	for i, b := range doc.Books {
		if b.ID <= 0 {
			errs = append(errs, fmt.Errorf("books[%d].id must be positive", i))
		} else if _, dup := books[b.ID]; dup {
			errs = append(errs, fmt.Errorf("books[%d].id %d is duplicated", i, b.ID))
		}
		books[b.ID] = struct{}{}
		for j, c := range b.Chapters {
			if c.ID <= 0 {
				errs = append(errs, fmt.Errorf("books[%d].chapters[%d].id must be positive", i, j))
				continue
			}
			if _, dup := chapters[c.ID]; dup {
				errs = append(errs, fmt.Errorf("books[%d].chapters[%d].id %d is duplicated", i, j, c.ID))
			}
			chapters[c.ID] = struct{}{}
		}
	}
	return errors.Join(errs...)
}

func importCatalog(ctx context.Context, st storage.Store, doc catalogFile) (books, chapters int, err error) {
	for _, b := range doc.Books {
		if err := st.PutBook(ctx, catalog.Book{ID: b.ID, Title: b.Title, Source: b.Source}); err != nil {
			return books, chapters, fmt.Errorf("book %d: %w", b.ID, err)
		}
		books++
		for i, c := range b.Chapters {
			num := c.Number
			if num == 0 {
				num = float64(i + 1)
			}
			ch := catalog.Chapter{
				ID:      c.ID,
				BookID:  b.ID,
				Title:   c.Title,
				URL:     c.URL,
				Number:  num,
				Content: chapterSegments(c),
			}
			if err := st.PutChapter(ctx, ch); err != nil {
				return books, chapters, fmt.Errorf("chapter %d: %w", c.ID, err)
			}
			chapters++
		}
	}
	return books, chapters, nil
}

func chapterSegments(c catalogChapter) []catalog.Segment {
	if len(c.Paragraphs) == 0 && len(c.Images) == 0 {
		return nil
	}
	segs := make([]catalog.Segment, 0, len(c.Paragraphs)+len(c.Images))
	for _, p := range c.Paragraphs {
		segs = append(segs, catalog.Segment{Kind: catalog.SegmentText, Text: p})
	}
	for _, u := range c.Images {
		segs = append(segs, catalog.Segment{Kind: catalog.SegmentImage, URL: u})
	}
	return segs
}
