// Package pipeline drives a single chapter through content acquisition,
// translation and persistence.
//
// The pipeline does not recover panics and does not write terminal progress
// states; the batch scheduler owns both.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// Progress fractions reported on entry to each stage.
const (
	FractionDownloading = 0.1
	FractionTranslating = 0.3
	FractionPersisting  = 0.8
)

var (
	ErrNoContent       = errors.New("Chapter has no content to translate")
	ErrNoText          = errors.New("Chapter has no text to translate")
	ErrNoContentSource = errors.New("no content source configured")
	ErrSegmentMismatch = errors.New("translation engine returned a different number of segments")
)

// Item is one chapter's unit of work.
type Item struct {
	ChapterID            int64
	BookID               int64
	ChapterTitle         string
	BookTitle            string
	NeedsContentDownload bool
}

// Params are shared by every item of a batch.
type Params struct {
	SourceLang string
	TargetLang string
	EngineID   string
}

// Reporter receives intermediate progress.
type Reporter func(status progress.Status, fraction float64)

// EngineResolver maps an engine id to an engine. *engines.Registry
// implements it.
type EngineResolver interface {
	Engine(id string) (catalog.TranslationEngine, error)
}

type Pipeline struct {
	chapters catalog.ChapterRepository
	content  catalog.ContentSource
	engines  EngineResolver
	store    catalog.TranslatedContentStore
	log      logx.Logger
	now      func() time.Time
}

// New builds a pipeline. content may be nil when every chapter is cached.
func New(chapters catalog.ChapterRepository, content catalog.ContentSource, engines EngineResolver, store catalog.TranslatedContentStore, log logx.Logger) *Pipeline {
	return &Pipeline{
		chapters: chapters,
		content:  content,
		engines:  engines,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

// Run processes item. A nil return means the translation is persisted; the
// caller marks the record COMPLETED.
func (p *Pipeline) Run(ctx context.Context, item Item, params Params, report Reporter) error {
	if report == nil {
		report = func(progress.Status, float64) {}
	}
	log := p.log.With(logx.Int64("chapter_id", item.ChapterID), logx.String("engine", params.EngineID))

	ch, err := p.chapters.FindChapterByID(ctx, item.ChapterID)
	if err != nil {
		return fmt.Errorf("load chapter %d: %w", item.ChapterID, err)
	}

	if item.NeedsContentDownload {
		report(progress.StatusDownloadingContent, FractionDownloading)
		segs, err := p.download(ctx, ch)
		if err != nil {
			return err
		}
		ch.Content = segs
		if cache, ok := p.chapters.(catalog.ContentCache); ok {
			if err := cache.SaveChapterContent(ctx, ch.ID, segs); err != nil {
				// The translation can still proceed from memory.
				log.Warn("content cache write failed", logx.Err(err))
			}
		}
	} else if !ch.HasContent() {
		return ErrNoContent
	}

	report(progress.StatusTranslating, FractionTranslating)
	texts := catalog.TextSegments(ch.Content)
	if len(texts) == 0 {
		return ErrNoText
	}

	eng, err := p.engines.Engine(params.EngineID)
	if err != nil {
		return err
	}
	out, err := eng.Translate(ctx, texts, params.SourceLang, params.TargetLang)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	if len(out) != len(texts) {
		return fmt.Errorf("%w: sent %d, got %d", ErrSegmentMismatch, len(texts), len(out))
	}

	report(progress.StatusTranslating, FractionPersisting)
	err = p.store.SaveTranslation(ctx, catalog.TranslatedChapter{
		ChapterID:  ch.ID,
		BookID:     ch.BookID,
		SourceLang: params.SourceLang,
		TargetLang: params.TargetLang,
		EngineID:   params.EngineID,
		Segments:   out,
		CreatedAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save translation: %w", err)
	}
	log.Debug("chapter translated", logx.Int("segments", len(out)))
	return nil
}

func (p *Pipeline) download(ctx context.Context, ch catalog.Chapter) ([]catalog.Segment, error) {
	if p.content == nil {
		return nil, ErrNoContentSource
	}
	segs, err := p.content.FetchChapterContent(ctx, ch)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, ErrNoContent
	}
	return segs, nil
}
