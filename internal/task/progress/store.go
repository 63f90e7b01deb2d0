package progress

import (
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/observable"
)

// Store is the single source of truth for progress records.
//
// Writers are serialized; readers call Snapshot or Subscribe and never block
// them.
type Store struct {
	v   *observable.Value[Snapshot]
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		v:   observable.New(Snapshot{records: map[int64]Record{}}),
		now: time.Now,
	}
}

func (s *Store) Snapshot() Snapshot { return s.v.Load() }

func (s *Store) Get(chapterID int64) (Record, bool) { return s.v.Load().Get(chapterID) }

// Set stores r, superseding any record with the same chapter id.
func (s *Store) Set(r Record) Record {
	r.UpdatedAt = s.now()
	r = r.normalize(r.UpdatedAt)
	s.v.Update(func(cur Snapshot) Snapshot {
		next := cur.Map()
		next[r.ChapterID] = r
		return Snapshot{records: next}
	})
	return r
}

// SetMany stores all records in one swap so observers see them together.
func (s *Store) SetMany(rs []Record) {
	if len(rs) == 0 {
		return
	}
	now := s.now()
	s.v.Update(func(cur Snapshot) Snapshot {
		next := cur.Map()
		for _, r := range rs {
			r.UpdatedAt = now
			next[r.ChapterID] = r.normalize(now)
		}
		return Snapshot{records: next}
	})
}

// Update rewrites the record for chapterID with fn. It reports false, and
// changes nothing, if no record exists.
func (s *Store) Update(chapterID int64, fn func(Record) Record) (Record, bool) {
	var (
		out   Record
		found bool
	)
	now := s.now()
	s.v.Update(func(cur Snapshot) Snapshot {
		r, ok := cur.records[chapterID]
		if !ok {
			return cur
		}
		found = true
		r = fn(r)
		r.ChapterID = chapterID
		r.UpdatedAt = now
		out = r.normalize(now)
		next := cur.Map()
		next[chapterID] = out
		return Snapshot{records: next}
	})
	return out, found
}

// Reset wipes every record.
func (s *Store) Reset() {
	s.v.Set(Snapshot{records: map[int64]Record{}})
}

// Subscribe delivers the current snapshot immediately and every later one.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return s.v.Subscribe(buffer)
}
