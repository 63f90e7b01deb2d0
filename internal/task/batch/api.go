package batch

import (
	"context"

	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// QueueChapters validates req and starts translating it.
//
// A request for the same book, engine and language pair as the active batch
// joins that batch. Any other active batch is cancelled first and reported in
// Result.Preempted. Large batches on rate-limited engines return
// OutcomeWarning without queuing anything unless the warning is bypassed.
func (s *Service) QueueChapters(ctx context.Context, req Request) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.stopped() {
		return Result{}, ErrStopped
	}

	book, items, params, err := s.validate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var res Result
	s.mu.Lock()
	s.ensureStartedLocked()

	skipped := 0
	if s.batch != nil && s.batch.BookID == book.ID && s.batch.params() == params {
		pending := make(map[int64]struct{}, len(s.queue)+1)
		if s.inFlight != 0 {
			pending[s.inFlight] = struct{}{}
		}
		for _, it := range s.queue {
			pending[it.ChapterID] = struct{}{}
		}
		kept := items[:0]
		for _, it := range items {
			if _, dup := pending[it.ChapterID]; dup {
				skipped++
				continue
			}
			kept = append(kept, it)
		}
		items = kept
		if len(items) == 0 {
			res = Result{Outcome: OutcomeQueued, BatchID: s.batch.ID, Skipped: skipped}
			s.mu.Unlock()
			return res, nil
		}
	} else if s.batch != nil {
		done, p := s.cancelLocked()
		s.publishStatusLocked()
		s.mu.Unlock()

		s.log.Info("batch preempted",
			logx.String("batch", p.BatchID),
			logx.Int64("book_id", p.BookID),
			logx.Int64("next_book_id", book.ID),
			logx.Int("cancelled", p.Cancelled),
		)
		s.publish(EventBatchPreempted, BatchEvent{BatchID: p.BatchID, BookID: p.BookID, Items: p.Cancelled})
		res.Preempted = p
		if err := waitDone(ctx, done); err != nil {
			return res, err
		}
		s.mu.Lock()
	}

	cfg := s.cfg
	bypass := req.BypassWarning || cfg.BypassWarningByDefault
	if s.classifier.ShouldWarn(params.EngineID, len(items), cfg.WarningThreshold, bypass) {
		s.mu.Unlock()
		res.Outcome = OutcomeWarning
		res.Count = len(items)
		res.Skipped = skipped
		res.Estimated = engines.EstimateDuration(len(items), cfg.RateLimitDelay)
		return res, nil
	}

	b := s.enqueueLocked(book, items, params)
	res.Outcome = OutcomeQueued
	res.BatchID = b.ID
	res.Count = len(items)
	res.Skipped = skipped
	s.publish(EventBatchQueued, BatchEvent{BatchID: b.ID, BookID: b.BookID, EngineID: b.EngineID, Items: len(items)})
	s.publishStatusLocked()
	s.mu.Unlock()

	s.log.Info("chapters queued",
		logx.String("batch", b.ID),
		logx.Int64("book_id", book.ID),
		logx.String("engine", params.EngineID),
		logx.String("target", params.TargetLang),
		logx.Int("count", len(items)),
	)
	return res, nil
}

// Pause stops dequeuing after the in-flight item. It is a no-op unless the
// scheduler is running.
func (s *Service) Pause() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopped:
		return ErrStopped
	case StateRunning:
		s.state = StatePaused
		s.publishStatusLocked()
	}
	return nil
}

// Resume continues a paused batch. It also restarts a queue left behind by a
// failed drain loop.
func (s *Service) Resume() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopped:
		return ErrStopped
	case StateRunning:
		return nil
	}
	switch {
	case s.loopDone != nil:
		// The loop has not noticed the pause yet.
		s.state = StateRunning
	case len(s.queue) > 0:
		s.ensureStartedLocked()
		s.state = StateRunning
		s.startLoopLocked()
	default:
		s.finishBatchLocked()
	}
	s.publishStatusLocked()
	return nil
}

// CancelTranslation drops a still-queued chapter and marks it CANCELLED. It
// reports false, and changes nothing, for a chapter that is not queued.
func (s *Service) CancelTranslation(chapterID int64) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false, ErrStopped
	}
	idx := -1
	for i, it := range s.queue {
		if it.ChapterID == chapterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	s.queue = append(s.queue[:idx:idx], s.queue[idx+1:]...)
	s.progress.Update(chapterID, func(r progress.Record) progress.Record {
		r.Status = progress.StatusCancelled
		return r
	})
	if s.batch != nil {
		s.batch.Completed++
	}
	// A paused or stranded batch has no loop left to notice the empty queue.
	if len(s.queue) == 0 && s.loopDone == nil {
		s.finishBatchLocked()
	}
	s.publishStatusLocked()
	return true, nil
}

// CancelAll cancels the active batch and waits for the drain loop to exit.
// Calling it again is harmless.
func (s *Service) CancelAll(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	done, p := s.cancelLocked()
	s.publishStatusLocked()
	s.mu.Unlock()

	if p != nil {
		s.log.Info("batch cancelled", logx.String("batch", p.BatchID), logx.Int("items", p.Cancelled))
	}
	return waitDone(ctx, done)
}

// RetryTranslation requeues a FAILED chapter with its retry count bumped.
func (s *Service) RetryTranslation(ctx context.Context, chapterID int64) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.stopped() {
		return ErrStopped
	}
	rec, ok := s.progress.Get(chapterID)
	if !ok {
		return ErrNoProgress
	}
	if rec.Status != progress.StatusFailed {
		return ErrNotRetryable
	}
	s.mu.Lock()
	sub, ok := s.known[chapterID]
	s.mu.Unlock()
	if !ok {
		return ErrNoProgress
	}

	item := sub.item
	// The failed attempt may have cached the content.
	if ch, err := s.chapters.FindChapterByID(ctx, chapterID); err == nil {
		item.NeedsContentDownload = !ch.HasContent()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil && (s.batch.BookID != item.BookID || s.batch.params() != sub.params) {
		return ErrBatchBusy
	}
	s.ensureStartedLocked()
	if s.batch == nil {
		s.batch = &Context{
			ID:         newBatchID(),
			BookID:     item.BookID,
			BookTitle:  item.BookTitle,
			SourceLang: sub.params.SourceLang,
			TargetLang: sub.params.TargetLang,
			EngineID:   sub.params.EngineID,
			StartedAt:  s.now(),
		}
		s.throttle.Reset()
	}
	s.batch.Total++
	s.progress.Update(chapterID, func(r progress.Record) progress.Record {
		r.Status = progress.StatusQueued
		r.Fraction = 0
		r.Error = ""
		r.RetryCount++
		return r
	})
	s.known[chapterID] = submission{item: item, params: sub.params}
	s.queue = append(s.queue, item)
	if s.state != StatePaused {
		s.state = StateRunning
		s.startLoopLocked()
	}
	s.publishStatusLocked()
	s.log.Info("chapter retried", logx.Int64("chapter_id", chapterID), logx.Int("retry", rec.RetryCount+1))
	return nil
}

// ClearProgress wipes every progress record. The scheduler must be idle.
func (s *Service) ClearProgress() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateStopped:
		return ErrStopped
	case s.state != StateIdle || len(s.queue) > 0:
		return ErrNotIdle
	}
	s.progress.Reset()
	s.known = map[int64]submission{}
	return nil
}

// Progress returns the current progress snapshot.
func (s *Service) Progress() progress.Snapshot { return s.progress.Snapshot() }

// WatchProgress delivers the current snapshot and every later one. Slow
// readers only see the latest.
func (s *Service) WatchProgress(buffer int) (<-chan progress.Snapshot, func()) {
	return s.progress.Subscribe(buffer)
}

func (s *Service) Status() Status { return s.status.Load() }

func (s *Service) WatchStatus(buffer int) (<-chan Status, func()) {
	return s.status.Subscribe(buffer)
}
