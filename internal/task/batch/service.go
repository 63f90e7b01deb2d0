// Package batch schedules mass chapter translation.
//
// One Service owns one work queue and at most one active batch. A single
// drain goroutine takes items off the queue in FIFO order, throttles requests
// to rate-limited engines and runs each item through the pipeline. Progress
// is published through a progress.Store; scheduler state through WatchStatus.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/eventbus"
	"github.com/IReaderorg/IReader-sub034/internal/observable"
	rtsup "github.com/IReaderorg/IReader-sub034/internal/runtime/supervisor"
	"github.com/IReaderorg/IReader-sub034/internal/task/pipeline"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
	"github.com/IReaderorg/IReader-sub034/internal/task/ratelimit"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// Runner processes one item. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, item pipeline.Item, params pipeline.Params, report pipeline.Reporter) error
}

// Throttle spaces requests to rate-limited engines. *ratelimit.Limiter
// implements it.
type Throttle interface {
	Wait(ctx context.Context) (time.Duration, error)
	Reset()
	SetDelay(d time.Duration)
}

// EngineSet reports which engine ids can be resolved. *engines.Registry
// implements it.
type EngineSet interface {
	Has(id string) bool
}

// Deps are the collaborators of a Service. Books, Chapters and Runner are
// required.
type Deps struct {
	Books      catalog.BookRepository
	Chapters   catalog.ChapterRepository
	Runner     Runner
	Classifier *engines.Classifier
	Engines    EngineSet
	Progress   *progress.Store
	Throttle   Throttle
	Bus        eventbus.Bus
}

type Service struct {
	// opMu serializes public operations. mu guards the fields below it and is
	// shared with the drain loop.
	opMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	classifier *engines.Classifier
	sup        *rtsup.Supervisor
	state      State
	queue      []pipeline.Item
	batch      *Context
	inFlight   int64
	loopGen    uint64
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	// known remembers how each chapter was last submitted, for retries.
	known map[int64]submission

	log      logx.Logger
	bus      eventbus.Bus
	books    catalog.BookRepository
	chapters catalog.ChapterRepository
	runner   Runner
	engines  EngineSet
	progress *progress.Store
	throttle Throttle
	status   *observable.Value[Status]
	now      func() time.Time
}

type submission struct {
	item   pipeline.Item
	params pipeline.Params
}

func New(cfg Config, log logx.Logger, d Deps) *Service {
	if d.Classifier == nil {
		d.Classifier = engines.DefaultClassifier()
	}
	if d.Progress == nil {
		d.Progress = progress.NewStore()
	}
	if d.Throttle == nil {
		d.Throttle = ratelimit.New(cfg.RateLimitDelay, ratelimit.DefaultBurst)
	} else {
		d.Throttle.SetDelay(cfg.RateLimitDelay)
	}
	return &Service{
		cfg:        cfg,
		classifier: d.Classifier,
		state:      StateIdle,
		known:      map[int64]submission{},
		log:        log,
		bus:        d.Bus,
		books:      d.Books,
		chapters:   d.Chapters,
		runner:     d.Runner,
		engines:    d.Engines,
		progress:   d.Progress,
		throttle:   d.Throttle,
		status:     observable.New(Status{State: StateIdle}),
		now:        time.Now,
	}
}

// Start binds the drain loop to ctx. Operations called before Start run the
// loop under a background context.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil && s.state != StateStopped {
		s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	}
}

// Stop cancels all work and waits for the drain loop to exit. Every operation
// afterwards returns ErrStopped.
func (s *Service) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	_, p := s.cancelLocked()
	s.state = StateStopped
	sup := s.sup
	s.publishStatusLocked()
	s.mu.Unlock()

	if p != nil {
		s.log.Info("batch cancelled on shutdown", logx.String("batch", p.BatchID), logx.Int("items", p.Cancelled))
	}
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

// Supervisor exposes the drain loop's supervisor for health output. It is nil
// before the first Start or queued batch.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Apply swaps the live configuration. A new delay applies to the next
// throttled request.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.throttle.SetDelay(cfg.RateLimitDelay)
}

// SetClassifier replaces the engine classification table.
func (s *Service) SetClassifier(c *engines.Classifier) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.classifier = c
	s.mu.Unlock()
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) ensureStartedLocked() {
	if s.sup == nil {
		s.sup = rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(s.log))
	}
}

func (s *Service) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopped
}

// ---- validation ----

func (s *Service) validate(ctx context.Context, req Request) (catalog.Book, []pipeline.Item, pipeline.Params, error) {
	var params pipeline.Params
	if len(req.ChapterIDs) == 0 {
		return catalog.Book{}, nil, params, invalid(ErrNoChapters, "No chapters selected")
	}

	engineID := engines.NormalizeID(req.EngineID)
	if engineID == "" {
		return catalog.Book{}, nil, params, invalid(ErrUnsupportedEngine, "No translation engine selected")
	}
	if s.engines != nil && !s.engines.Has(engineID) {
		return catalog.Book{}, nil, params, invalid(ErrUnsupportedEngine, fmt.Sprintf("Unknown translation engine %q", req.EngineID))
	}
	src, err := normalizeLang(req.SourceLang, true)
	if err != nil {
		return catalog.Book{}, nil, params, err
	}
	tgt, err := normalizeLang(req.TargetLang, false)
	if err != nil {
		return catalog.Book{}, nil, params, err
	}
	params = pipeline.Params{SourceLang: src, TargetLang: tgt, EngineID: engineID}

	book, err := s.books.FindBookByID(ctx, req.BookID)
	if err != nil {
		if errors.Is(err, catalog.ErrBookNotFound) {
			return catalog.Book{}, nil, params, invalid(err, "Book not found")
		}
		return catalog.Book{}, nil, params, invalid(err, "Could not load book")
	}
	chs, err := s.chapters.FindChaptersByBookID(ctx, req.BookID)
	if err != nil {
		return catalog.Book{}, nil, params, invalid(err, "Could not load chapters")
	}
	byID := make(map[int64]catalog.Chapter, len(chs))
	for _, ch := range chs {
		byID[ch.ID] = ch
	}

	items := make([]pipeline.Item, 0, len(req.ChapterIDs))
	seen := make(map[int64]struct{}, len(req.ChapterIDs))
	for _, id := range req.ChapterIDs {
		ch, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, pipeline.Item{
			ChapterID:            ch.ID,
			BookID:               book.ID,
			ChapterTitle:         ch.Title,
			BookTitle:            book.Title,
			NeedsContentDownload: !ch.HasContent(),
		})
	}
	if len(items) == 0 {
		return catalog.Book{}, nil, params, invalid(ErrNoMatches, "No matching chapters found")
	}
	return book, items, params, nil
}

// normalizeLang maps engines.NormalizeLanguage errors to user-facing
// validation errors.
func normalizeLang(tag string, allowAuto bool) (string, error) {
	out, err := engines.NormalizeLanguage(tag, allowAuto)
	switch {
	case errors.Is(err, engines.ErrAutoTarget):
		return "", invalid(ErrInvalidLanguage, "Target language cannot be detected automatically")
	case err != nil:
		return "", invalid(ErrInvalidLanguage, fmt.Sprintf("Invalid language %q", strings.TrimSpace(tag)))
	}
	return out, nil
}

// ---- state helpers (mu held) ----

// cancelLocked ends the active batch: the loop is cancelled, queued and
// in-flight items become CANCELLED and the scheduler returns to IDLE. The
// returned channel closes once the old loop has exited.
func (s *Service) cancelLocked() (<-chan struct{}, *Preemption) {
	s.loopGen++
	done := s.loopDone
	if s.loopCancel != nil {
		s.loopCancel()
	}
	s.loopCancel, s.loopDone = nil, nil

	ids := make([]int64, 0, len(s.queue)+1)
	if s.inFlight != 0 {
		ids = append(ids, s.inFlight)
	}
	for _, it := range s.queue {
		ids = append(ids, it.ChapterID)
	}
	for _, id := range ids {
		s.progress.Update(id, func(r progress.Record) progress.Record {
			r.Status = progress.StatusCancelled
			return r
		})
	}

	var p *Preemption
	if s.batch != nil {
		p = &Preemption{BatchID: s.batch.ID, BookID: s.batch.BookID, Cancelled: len(ids)}
		s.publish(EventBatchCancelled, BatchEvent{BatchID: s.batch.ID, BookID: s.batch.BookID, EngineID: s.batch.EngineID, Items: len(ids)})
	}
	s.queue = nil
	s.batch = nil
	s.inFlight = 0
	if s.state != StateStopped {
		s.state = StateIdle
	}
	return done, p
}

// enqueueLocked appends items to the active batch, creating it if needed, and
// starts the loop unless paused.
func (s *Service) enqueueLocked(book catalog.Book, items []pipeline.Item, params pipeline.Params) *Context {
	fresh := s.batch == nil
	if fresh {
		s.batch = &Context{
			ID:         newBatchID(),
			BookID:     book.ID,
			BookTitle:  book.Title,
			SourceLang: params.SourceLang,
			TargetLang: params.TargetLang,
			EngineID:   params.EngineID,
			StartedAt:  s.now(),
		}
		s.throttle.Reset()
	}
	s.batch.Total += len(items)

	recs := make([]progress.Record, 0, len(items))
	for _, it := range items {
		recs = append(recs, progress.Record{
			ChapterID:    it.ChapterID,
			BookID:       it.BookID,
			ChapterTitle: it.ChapterTitle,
			BookTitle:    it.BookTitle,
			Status:       progress.StatusQueued,
		})
		s.known[it.ChapterID] = submission{item: it, params: params}
	}
	s.progress.SetMany(recs)
	s.queue = append(s.queue, items...)

	if s.state != StatePaused {
		s.state = StateRunning
		s.startLoopLocked()
	}
	return s.batch
}

func (s *Service) statusLocked() Status {
	st := Status{State: s.state, Queued: len(s.queue), InFlight: s.inFlight}
	if s.batch != nil {
		b := *s.batch
		st.Batch = &b
		st.ActiveBookID = b.BookID
	}
	return st
}

func (s *Service) publishStatusLocked() {
	st := s.statusLocked()
	s.status.Set(st)
	s.publish(EventState, StateEvent{State: st.State, Queued: st.Queued})
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func newBatchID() string { return uuid.NewString() }

func waitDone(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
