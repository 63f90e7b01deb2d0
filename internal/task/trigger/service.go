package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const fireTimeout = time.Minute

// ErrNothingToQueue is returned by Fire when every selected chapter is
// already translated.
var ErrNothingToQueue = errors.New("nothing to translate")

// Queuer is the batch service entry point used by triggers.
type Queuer interface {
	QueueChapters(ctx context.Context, req batch.Request) (batch.Result, error)
}

// Trigger queues a batch on Schedule. Empty ChapterIDs selects every chapter
// of the book.
type Trigger struct {
	Name             string
	Schedule         string
	BookID           int64
	ChapterIDs       []int64
	SourceLang       string
	TargetLang       string
	EngineID         string
	OnlyUntranslated bool
}

// Info describes one registered trigger.
type Info struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
	Queued   int       `json:"queued"`
}

type entry struct {
	def     Trigger
	sched   cron.Schedule
	id      cron.EntryID
	lastRun time.Time
	lastErr string
	queued  int
}

type Service struct {
	log      logx.Logger
	queuer   Queuer
	chapters catalog.ChapterRepository
	lookup   catalog.TranslationLookup

	mu      sync.Mutex
	ctx     context.Context
	c       *cron.Cron
	entries map[string]*entry
}

// New builds a trigger service. lookup may be nil, in which case
// OnlyUntranslated has no effect.
func New(q Queuer, chapters catalog.ChapterRepository, lookup catalog.TranslationLookup, log logx.Logger) *Service {
	return &Service{
		log:      log.Named("trigger"),
		queuer:   q,
		chapters: chapters,
		lookup:   lookup,
		entries:  map[string]*entry{},
	}
}

// Apply replaces every registered trigger. Nothing changes when any trigger
// is invalid.
func (s *Service) Apply(defs []Trigger) error {
	next := make(map[string]*entry, len(defs))
	var errs []error
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, errors.New("trigger name required"))
			continue
		}
		if _, dup := next[name]; dup {
			errs = append(errs, fmt.Errorf("trigger %q: duplicated", name))
			continue
		}
		sched, err := ParseSchedule(d.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", name, err))
			continue
		}
		if d, err = normalize(d); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", name, err))
			continue
		}
		d.Name = name
		next[name] = &entry{def: d, sched: sched}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, old := range s.entries {
		if s.c != nil && old.id != 0 {
			s.c.Remove(old.id)
		}
		// Keep run history for triggers that survive the reload.
		if e, ok := next[name]; ok {
			e.lastRun, e.lastErr, e.queued = old.lastRun, old.lastErr, old.queued
		}
	}
	s.entries = next
	if s.c != nil {
		for _, e := range s.entries {
			s.scheduleLocked(e)
		}
	}
	s.log.Info("triggers applied", logx.Int("count", len(next)))
	return nil
}

// normalize puts languages and the engine id in the form translations are
// stored under, so OnlyUntranslated lookups match.
func normalize(d Trigger) (Trigger, error) {
	var err error
	if d.SourceLang, err = engines.NormalizeLanguage(d.SourceLang, true); err != nil {
		return d, fmt.Errorf("source: %w", err)
	}
	if d.TargetLang, err = engines.NormalizeLanguage(d.TargetLang, false); err != nil {
		return d, fmt.Errorf("target: %w", err)
	}
	if d.EngineID = engines.NormalizeID(d.EngineID); d.EngineID == "" {
		return d, errors.New("engine required")
	}
	return d, nil
}

func (s *Service) scheduleLocked(e *entry) {
	name := e.def.Name
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() { s.fire(name) }))
	e.id = s.c.Schedule(e.sched, job)
}

// Start begins firing triggers. Firings use ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(parser))
	for _, e := range s.entries {
		s.scheduleLocked(e)
	}
	s.c.Start()
	s.log.Info("trigger scheduler started", logx.Int("triggers", len(s.entries)))
}

// Stop halts firing and waits for a running firing, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger scheduler stopped")
}

func (s *Service) fire(name string) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, fireTimeout)
	defer cancel()

	res, err := s.Fire(ctx, name)
	switch {
	case errors.Is(err, ErrNothingToQueue):
		s.log.Info("trigger skipped", logx.String("trigger", name), logx.String("reason", err.Error()))
	case err != nil:
		s.log.Warn("trigger failed", logx.String("trigger", name), logx.Err(err))
	default:
		s.log.Info("trigger queued batch",
			logx.String("trigger", name),
			logx.String("batch", res.BatchID),
			logx.Int("count", res.Count),
		)
	}
}

// Fire runs the named trigger now. The warning check is always bypassed.
func (s *Service) Fire(ctx context.Context, name string) (batch.Result, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	var def Trigger
	if ok {
		def = e.def
	}
	s.mu.Unlock()
	if !ok {
		return batch.Result{}, fmt.Errorf("unknown trigger %q", name)
	}

	res, err := s.queue(ctx, def)

	s.mu.Lock()
	if cur, ok := s.entries[name]; ok && cur == e {
		e.lastRun = time.Now()
		e.lastErr = ""
		if err != nil {
			e.lastErr = err.Error()
		}
		e.queued = res.Count
	}
	s.mu.Unlock()
	return res, err
}

func (s *Service) queue(ctx context.Context, def Trigger) (batch.Result, error) {
	ids := def.ChapterIDs
	if len(ids) == 0 {
		chs, err := s.chapters.FindChaptersByBookID(ctx, def.BookID)
		if err != nil {
			return batch.Result{}, fmt.Errorf("list chapters: %w", err)
		}
		ids = make([]int64, 0, len(chs))
		for _, ch := range chs {
			ids = append(ids, ch.ID)
		}
	}
	if def.OnlyUntranslated && s.lookup != nil {
		kept := ids[:0:0]
		for _, id := range ids {
			done, err := s.lookup.HasTranslation(ctx, id, def.TargetLang, def.EngineID)
			if err != nil {
				s.log.Warn("translation lookup failed", logx.Int64("chapter_id", id), logx.Err(err))
			}
			if !done {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	if len(ids) == 0 {
		return batch.Result{}, ErrNothingToQueue
	}
	return s.queuer.QueueChapters(ctx, batch.Request{
		BookID:        def.BookID,
		ChapterIDs:    ids,
		SourceLang:    def.SourceLang,
		TargetLang:    def.TargetLang,
		EngineID:      def.EngineID,
		BypassWarning: true,
	})
}

// Snapshot lists registered triggers by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		info := Info{
			Name:     e.def.Name,
			Schedule: e.def.Schedule,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
			Queued:   e.queued,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
