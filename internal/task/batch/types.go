package batch

import (
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/task/pipeline"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Config holds the live-tunable scheduler options.
type Config struct {
	// RateLimitDelay is the spacing between requests to a rate-limited engine
	// once the burst allowance is used up.
	RateLimitDelay time.Duration
	// WarningThreshold is the batch size at which a rate-limited batch needs
	// confirmation. <= 0 disables the warning.
	WarningThreshold int
	// BypassWarningByDefault treats every request as confirmed.
	BypassWarningByDefault bool
}

func DefaultConfig() Config {
	return Config{
		RateLimitDelay:   3 * time.Second,
		WarningThreshold: 10,
	}
}

// Request asks for a set of chapters of one book to be translated.
type Request struct {
	BookID        int64   `json:"book_id"`
	ChapterIDs    []int64 `json:"chapter_ids"`
	SourceLang    string  `json:"source"`
	TargetLang    string  `json:"target"`
	EngineID      string  `json:"engine"`
	BypassWarning bool    `json:"bypass_warning"`
}

type Outcome string

const (
	// OutcomeQueued means the items were accepted and work has started.
	OutcomeQueued Outcome = "queued"
	// OutcomeWarning means nothing was queued; the caller must confirm with
	// BypassWarning to proceed.
	OutcomeWarning Outcome = "warning"
)

// Preemption describes a batch of another book that was cancelled to make room
// for a new one.
type Preemption struct {
	BatchID   string `json:"batch_id"`
	BookID    int64  `json:"book_id"`
	Cancelled int    `json:"cancelled"`
}

type Result struct {
	Outcome   Outcome       `json:"outcome"`
	BatchID   string        `json:"batch_id,omitempty"`
	Count     int           `json:"count"`
	Skipped   int           `json:"skipped,omitempty"`
	Estimated time.Duration `json:"estimated,omitempty"`
	Preempted *Preemption   `json:"preempted,omitempty"`
}

// Context is the single active batch.
type Context struct {
	ID         string    `json:"id"`
	BookID     int64     `json:"book_id"`
	BookTitle  string    `json:"book_title"`
	SourceLang string    `json:"source"`
	TargetLang string    `json:"target"`
	EngineID   string    `json:"engine"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	StartedAt  time.Time `json:"started_at"`
}

func (c *Context) params() pipeline.Params {
	return pipeline.Params{SourceLang: c.SourceLang, TargetLang: c.TargetLang, EngineID: c.EngineID}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State    `json:"state"`
	ActiveBookID int64    `json:"active_book_id,omitempty"`
	Batch        *Context `json:"batch,omitempty"`
	Queued       int      `json:"queued"`
	InFlight     int64    `json:"in_flight,omitempty"`
}

// Event types published on the event bus.
const (
	EventBatchQueued    = "batch.queued"
	EventBatchPreempted = "batch.preempted"
	EventBatchFinished  = "batch.finished"
	EventBatchCancelled = "batch.cancelled"
	EventItemStarted    = "item.started"
	EventItemFinished   = "item.finished"
	EventRateLimitWait  = "ratelimit.wait"
	EventLoopFailed     = "batch.loop_failed"
)

type BatchEvent struct {
	BatchID  string `json:"batch_id"`
	BookID   int64  `json:"book_id"`
	EngineID string `json:"engine"`
	Items    int    `json:"items"`
}

type ItemEvent struct {
	BatchID   string        `json:"batch_id"`
	ChapterID int64         `json:"chapter_id"`
	EngineID  string        `json:"engine"`
	Status    string        `json:"status,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type WaitEvent struct {
	EngineID string        `json:"engine"`
	Waited   time.Duration `json:"waited"`
}

type StateEvent struct {
	State  State `json:"state"`
	Queued int   `json:"queued"`
}

// EventState is published whenever State or the queue length changes.
const EventState = "batch.state"
