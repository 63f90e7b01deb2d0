// Package progress holds the per-chapter progress records observed by UIs and
// API clients.
//
// Every mutation builds a new immutable Snapshot and swaps it in atomically, so
// readers never see a half-applied write and never block the writer.
package progress

import (
	"sort"
	"time"
)

type Status string

const (
	StatusQueued             Status = "queued"
	StatusDownloadingContent Status = "downloading_content"
	StatusTranslating        Status = "translating"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether no further transition happens without a retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

const unknownFailure = "translation failed"

// Record is the observable state of one chapter.
type Record struct {
	ChapterID    int64     `json:"chapter_id"`
	BookID       int64     `json:"book_id"`
	ChapterTitle string    `json:"chapter_title"`
	BookTitle    string    `json:"book_title"`
	Status       Status    `json:"status"`
	Fraction     float64   `json:"fraction"`
	Error        string    `json:"error,omitempty"`
	RetryCount   int       `json:"retry_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// normalize enforces the record invariants: a FAILED record always carries an
// error message and a COMPLETED record is always at 1.0.
func (r Record) normalize(now time.Time) Record {
	switch r.Status {
	case StatusCompleted:
		r.Fraction = 1
		r.Error = ""
	case StatusFailed:
		if r.Error == "" {
			r.Error = unknownFailure
		}
	case StatusQueued, StatusDownloadingContent, StatusTranslating:
		r.Error = ""
	}
	if r.Fraction < 0 {
		r.Fraction = 0
	}
	if r.Fraction > 1 {
		r.Fraction = 1
	}
	if r.RetryCount < 0 {
		r.RetryCount = 0
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	return r
}

// Snapshot is a read-only view of all records. It is never mutated after it is
// published.
type Snapshot struct {
	records map[int64]Record
}

func (s Snapshot) Len() int { return len(s.records) }

func (s Snapshot) Get(chapterID int64) (Record, bool) {
	r, ok := s.records[chapterID]
	return r, ok
}

// Map returns a copy of the records keyed by chapter id.
func (s Snapshot) Map() map[int64]Record {
	out := make(map[int64]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Records returns all records ordered by chapter id.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterID < out[j].ChapterID })
	return out
}

// Counts returns the number of records per status.
func (s Snapshot) Counts() map[Status]int {
	out := make(map[Status]int, 6)
	for _, r := range s.records {
		out[r.Status]++
	}
	return out
}
