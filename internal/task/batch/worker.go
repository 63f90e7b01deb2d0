package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/task/pipeline"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// startLoopLocked starts the drain loop unless one is already running.
//
// Every loop carries a generation. Cancelling bumps s.loopGen, after which the
// old loop may still be unwinding but can no longer write progress or state.
func (s *Service) startLoopLocked() {
	if s.loopDone != nil || len(s.queue) == 0 {
		return
	}
	s.loopGen++
	gen := s.loopGen
	ctx, cancel := context.WithCancel(s.sup.Context())
	done := make(chan struct{})
	s.loopCancel, s.loopDone = cancel, done

	s.sup.Go("batch.drain", func(context.Context) error {
		defer close(done)
		defer cancel()
		return s.drain(ctx, gen)
	})
}

func (s *Service) drain(ctx context.Context, gen uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drain loop panic: %v", r)
			s.log.Error("drain loop failed", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.loopFailed(gen, err)
		}
	}()

	for {
		item, params, batchID, ok := s.dequeue(ctx, gen)
		if !ok {
			return nil
		}
		s.process(ctx, gen, batchID, item, params)
	}
}

// dequeue pops the next item, or ends the loop when the queue is empty, the
// batch is paused or the loop has been superseded.
func (s *Service) dequeue(ctx context.Context, gen uint64) (pipeline.Item, pipeline.Params, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopGen != gen {
		return pipeline.Item{}, pipeline.Params{}, "", false
	}
	if ctx.Err() != nil {
		// The parent context ended without going through CancelAll.
		s.cancelLocked()
		s.publishStatusLocked()
		return pipeline.Item{}, pipeline.Params{}, "", false
	}
	if len(s.queue) == 0 || s.state == StatePaused || s.batch == nil {
		s.loopCancel, s.loopDone = nil, nil
		if len(s.queue) == 0 {
			s.finishBatchLocked()
		}
		s.publishStatusLocked()
		return pipeline.Item{}, pipeline.Params{}, "", false
	}

	item := s.queue[0]
	s.queue[0] = pipeline.Item{}
	s.queue = s.queue[1:]
	s.inFlight = item.ChapterID
	s.publishStatusLocked()
	return item, s.batch.params(), s.batch.ID, true
}

func (s *Service) process(ctx context.Context, gen uint64, batchID string, item pipeline.Item, params pipeline.Params) {
	s.mu.Lock()
	limited := s.classifier.RequiresRateLimiting(params.EngineID)
	s.mu.Unlock()

	if limited {
		waited, err := s.throttle.Wait(ctx)
		if err != nil {
			s.finish(ctx, gen, batchID, item, params, 0, err)
			return
		}
		if waited > 0 {
			s.log.Debug("rate limit wait", logx.String("engine", params.EngineID), logx.Duration("waited", waited))
			s.publish(EventRateLimitWait, WaitEvent{EngineID: params.EngineID, Waited: waited})
		}
	}

	start := s.now()
	s.publish(EventItemStarted, ItemEvent{BatchID: batchID, ChapterID: item.ChapterID, EngineID: params.EngineID})
	err := s.execOne(ctx, gen, item, params)
	s.finish(ctx, gen, batchID, item, params, s.now().Sub(start), err)
}

// execOne runs the pipeline for one item. A panic fails the item, not the
// batch.
func (s *Service) execOne(ctx context.Context, gen uint64, item pipeline.Item, params pipeline.Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("item panicked",
				logx.Int64("chapter_id", item.ChapterID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, item, params, s.reporter(gen, item.ChapterID))
}

func (s *Service) reporter(gen uint64, chapterID int64) pipeline.Reporter {
	return func(st progress.Status, fraction float64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.loopGen != gen {
			return
		}
		s.progress.Update(chapterID, func(r progress.Record) progress.Record {
			r.Status = st
			r.Fraction = fraction
			return r
		})
	}
}

// finish records the terminal state of an item, unless the loop was cancelled
// meanwhile, in which case the canceller already did.
func (s *Service) finish(ctx context.Context, gen uint64, batchID string, item pipeline.Item, params pipeline.Params, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopGen != gen {
		return
	}

	status := progress.StatusCompleted
	msg := ""
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = progress.StatusCancelled
	default:
		status = progress.StatusFailed
		msg = err.Error()
	}
	s.progress.Update(item.ChapterID, func(r progress.Record) progress.Record {
		r.Status = status
		r.Error = msg
		return r
	})
	s.inFlight = 0
	if s.batch != nil {
		s.batch.Completed++
	}

	if status == progress.StatusFailed {
		s.log.Warn("chapter failed", logx.Int64("chapter_id", item.ChapterID), logx.String("engine", params.EngineID), logx.Err(err))
	} else {
		s.log.Debug("chapter finished", logx.Int64("chapter_id", item.ChapterID), logx.String("status", string(status)), logx.Duration("took", took))
	}
	s.publish(EventItemFinished, ItemEvent{
		BatchID:   batchID,
		ChapterID: item.ChapterID,
		EngineID:  params.EngineID,
		Status:    string(status),
		Duration:  took,
		Error:     msg,
	})
	s.publishStatusLocked()
}

// loopFailed handles a panic that escaped the loop body. The in-flight item
// fails; queued items stay QUEUED for a later Resume.
func (s *Service) loopFailed(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopGen != gen {
		return
	}
	if s.inFlight != 0 {
		s.progress.Update(s.inFlight, func(r progress.Record) progress.Record {
			r.Status = progress.StatusFailed
			r.Error = err.Error()
			return r
		})
		if s.batch != nil {
			s.batch.Completed++
		}
		s.inFlight = 0
	}
	s.loopCancel, s.loopDone = nil, nil
	if s.state != StateStopped {
		s.state = StateIdle
	}
	s.publish(EventLoopFailed, StateEvent{State: s.state, Queued: len(s.queue)})
	s.publishStatusLocked()
}

// finishBatchLocked clears a drained batch and returns to IDLE.
func (s *Service) finishBatchLocked() {
	if s.batch != nil {
		b := s.batch
		s.publish(EventBatchFinished, BatchEvent{BatchID: b.ID, BookID: b.BookID, EngineID: b.EngineID, Items: b.Total})
		s.log.Info("batch finished", logx.String("batch", b.ID), logx.Int64("book_id", b.BookID), logx.Int("items", b.Total))
	}
	s.batch = nil
	if s.state != StateStopped {
		s.state = StateIdle
	}
}
