package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
	"github.com/IReaderorg/IReader-sub034/internal/catalog/catalogtest"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/eventbus"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	"github.com/IReaderorg/IReader-sub034/internal/task/pipeline"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

type recordingQueuer struct {
	mu   sync.Mutex
	reqs []batch.Request
	err  error
}

func (q *recordingQueuer) QueueChapters(_ context.Context, req batch.Request) (batch.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return batch.Result{}, q.err
	}
	q.reqs = append(q.reqs, req)
	return batch.Result{Outcome: batch.OutcomeQueued, BatchID: "b", Count: len(req.ChapterIDs)}, nil
}

func (q *recordingQueuer) calls() []batch.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]batch.Request(nil), q.reqs...)
}

func newLibrary() *catalogtest.Library {
	lib := catalogtest.NewLibrary()
	lib.AddBook(catalog.Book{ID: 1, Title: "Book"})
	lib.AddChapters(1, 1, 4, true)
	return lib
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	ok := []string{"0 3 * * *", "*/10 * * * * *", "@daily", "@every 6h", "90m", "02:30"}
	for _, s := range ok {
		if err := Validate(s); err != nil {
			t.Errorf("Validate(%q) = %v", s, err)
		}
	}
	bad := []string{"", "nope", "61 * * * *", "00:75", "100ms", "-5m"}
	for _, s := range bad {
		if err := Validate(s); err == nil {
			t.Errorf("Validate(%q) accepted", s)
		}
	}
	sched, err := ParseSchedule("02:30")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(now).Sub(now); got != 150*time.Minute {
		t.Fatalf("interval = %v", got)
	}
}

func TestFireSelectsAllChapters(t *testing.T) {
	t.Parallel()
	q := &recordingQueuer{}
	lib := newLibrary()
	s := New(q, lib, lib, logx.Nop())
	if err := s.Apply([]Trigger{{Name: "all", Schedule: "@daily", BookID: 1, TargetLang: "de", EngineID: "pseudo"}}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Fire(context.Background(), "all")
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 4 {
		t.Fatalf("count = %d", res.Count)
	}
	reqs := q.calls()
	if len(reqs) != 1 || !reqs[0].BypassWarning || len(reqs[0].ChapterIDs) != 4 {
		t.Fatalf("requests = %+v", reqs)
	}
	if info := s.Snapshot(); len(info) != 1 || info[0].Queued != 4 || info[0].LastRun.IsZero() {
		t.Fatalf("snapshot = %+v", info)
	}
}

func TestFireOnlyUntranslated(t *testing.T) {
	t.Parallel()
	q := &recordingQueuer{}
	lib := newLibrary()
	ctx := context.Background()
	for _, id := range []int64{1, 3} {
		if err := lib.SaveTranslation(ctx, catalog.TranslatedChapter{ChapterID: id, TargetLang: "de", EngineID: "pseudo"}); err != nil {
			t.Fatal(err)
		}
	}
	// A translation for another engine does not count.
	_ = lib.SaveTranslation(ctx, catalog.TranslatedChapter{ChapterID: 2, TargetLang: "de", EngineID: "openai"})

	s := New(q, lib, lib, logx.Nop())
	err := s.Apply([]Trigger{
		{Name: "gaps", Schedule: "@hourly", BookID: 1, TargetLang: "de", EngineID: "pseudo", OnlyUntranslated: true},
		{Name: "done", Schedule: "@hourly", BookID: 1, ChapterIDs: []int64{1, 3}, TargetLang: "de", EngineID: "pseudo", OnlyUntranslated: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Fire(ctx, "gaps"); err != nil {
		t.Fatal(err)
	}
	got := q.calls()[0].ChapterIDs
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("chapter ids = %v", got)
	}
	if _, err := s.Fire(ctx, "done"); !errors.Is(err, ErrNothingToQueue) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.Fire(ctx, "missing"); err == nil {
		t.Fatal("unknown trigger fired")
	}
}

func TestApplyIsAtomic(t *testing.T) {
	t.Parallel()
	lib := newLibrary()
	s := New(&recordingQueuer{}, lib, nil, logx.Nop())
	def := func(name, schedule string) Trigger {
		return Trigger{Name: name, Schedule: schedule, BookID: 1, TargetLang: "de", EngineID: "pseudo"}
	}
	if err := s.Apply([]Trigger{def("a", "@daily")}); err != nil {
		t.Fatal(err)
	}
	err := s.Apply([]Trigger{def("b", "@daily"), def("c", "whenever")})
	if err == nil {
		t.Fatal("bad schedule accepted")
	}
	if info := s.Snapshot(); len(info) != 1 || info[0].Name != "a" {
		t.Fatalf("snapshot after rejected apply = %+v", info)
	}
	if err := s.Apply([]Trigger{def("a", "@daily"), def("a", "@hourly")}); err == nil {
		t.Fatal("duplicate names accepted")
	}
	bad := def("d", "@daily")
	bad.TargetLang = "auto"
	if err := s.Apply([]Trigger{bad}); err == nil {
		t.Fatal("auto target accepted")
	}
}

func TestCronFiresQueuedBatch(t *testing.T) {
	t.Parallel()
	q := &recordingQueuer{}
	lib := newLibrary()
	s := New(q, lib, lib, logx.Nop())
	if err := s.Apply([]Trigger{{Name: "tick", Schedule: "1s", BookID: 1, ChapterIDs: []int64{2}, TargetLang: "de", EngineID: "pseudo"}}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if info := s.Snapshot(); info[0].Next.IsZero() {
		t.Fatal("next run not computed")
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(q.calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("trigger never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := q.calls()[0]; got.ChapterIDs[0] != 2 || !got.BypassWarning {
		t.Fatalf("request = %+v", got)
	}
}

func TestOnlyUntranslatedMatchesStoredTags(t *testing.T) {
	t.Parallel()
	lib := newLibrary()
	reg := engines.NewRegistry()
	reg.Register(engines.EnginePseudo, engines.Pseudo{})
	svc := batch.New(batch.DefaultConfig(), logx.Nop(), batch.Deps{
		Books:    lib,
		Chapters: lib,
		Runner:   pipeline.New(lib, nil, reg, lib, logx.Nop()),
		Engines:  reg,
		Bus:      eventbus.New(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	s := New(svc, lib, lib, logx.Nop())
	err := s.Apply([]Trigger{{
		Name: "br", Schedule: "@daily", BookID: 1,
		SourceLang: "EN", TargetLang: "pt_BR", EngineID: " Pseudo ", OnlyUntranslated: true,
	}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Fire(ctx, "br")
	if err != nil || res.Count != 4 {
		t.Fatalf("first fire = %+v, %v", res, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(lib.Translations()) < 4 || svc.Status().State != batch.StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("batch did not finish: %d translations", len(lib.Translations()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, tr := range lib.Translations() {
		if tr.TargetLang != "pt-BR" || tr.EngineID != "pseudo" {
			t.Fatalf("stored translation = %+v", tr)
		}
	}

	if res, err := s.Fire(ctx, "br"); !errors.Is(err, ErrNothingToQueue) {
		t.Fatalf("second fire = %+v, %v", res, err)
	}
	if n := len(lib.Translations()); n != 4 {
		t.Fatalf("translations = %d", n)
	}
}
