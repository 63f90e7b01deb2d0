package engines

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	c := DefaultClassifier()
	tests := []struct {
		id      string
		class   Class
		offline bool
		limited bool
	}{
		{id: EnginePseudo, class: ClassOffline, offline: true},
		{id: " MLKit ", class: ClassOffline, offline: true},
		{id: EngineOpenAI, class: ClassRateLimited, limited: true},
		{id: EngineWebGemini, class: ClassRateLimited, limited: true},
		{id: "brand-new-engine", class: ClassUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			if got := c.Classify(tt.id); got != tt.class {
				t.Fatalf("Classify = %v, want %v", got, tt.class)
			}
			if got := c.IsOfflineEngine(tt.id); got != tt.offline {
				t.Fatalf("IsOfflineEngine = %v, want %v", got, tt.offline)
			}
			if got := c.RequiresRateLimiting(tt.id); got != tt.limited {
				t.Fatalf("RequiresRateLimiting = %v, want %v", got, tt.limited)
			}
		})
	}
}

func TestExtraEntriesAndPrecedence(t *testing.T) {
	t.Parallel()
	c := NewClassifier([]string{"my-local", "shared"}, []string{"my-cloud", "shared"})
	if !c.IsOfflineEngine("my-local") {
		t.Fatal("my-local should be offline")
	}
	if !c.RequiresRateLimiting("my-cloud") {
		t.Fatal("my-cloud should be rate-limited")
	}
	if c.Classify("shared") != ClassRateLimited {
		t.Fatal("rate-limited listing should win")
	}
	if c.Classify(EngineOpenAI) != ClassRateLimited {
		t.Fatal("extras must not drop the built-in table")
	}
}

func TestShouldWarn(t *testing.T) {
	t.Parallel()
	c := DefaultClassifier()
	tests := []struct {
		name      string
		engine    string
		count     int
		threshold int
		bypass    bool
		want      bool
	}{
		{name: "at threshold", engine: EngineOpenAI, count: 10, threshold: 10, want: true},
		{name: "above threshold", engine: EngineOpenAI, count: 50, threshold: 10, want: true},
		{name: "below threshold", engine: EngineOpenAI, count: 9, threshold: 10},
		{name: "bypassed", engine: EngineOpenAI, count: 50, threshold: 10, bypass: true},
		{name: "offline engine", engine: EnginePseudo, count: 50, threshold: 10},
		{name: "unclassified engine", engine: "unknown", count: 50, threshold: 10},
		{name: "disabled threshold", engine: EngineOpenAI, count: 50, threshold: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.ShouldWarn(tt.engine, tt.count, tt.threshold, tt.bypass); got != tt.want {
				t.Fatalf("ShouldWarn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	t.Parallel()
	if got := EstimateDuration(50, time.Second); got != 50*time.Second {
		t.Fatalf("EstimateDuration = %v", got)
	}
	if got := EstimateDuration(0, time.Second); got != 0 {
		t.Fatalf("EstimateDuration(0) = %v", got)
	}
}

func TestEntriesSorted(t *testing.T) {
	t.Parallel()
	es := DefaultClassifier().Entries()
	if len(es) != len(defaultOffline)+len(defaultRateLimited) {
		t.Fatalf("len = %d", len(es))
	}
	for i := 1; i < len(es); i++ {
		a, b := es[i-1], es[i]
		if a.Class > b.Class || (a.Class == b.Class && a.ID > b.ID) {
			t.Fatalf("entries not sorted at %d: %+v %+v", i, a, b)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("Pseudo", Pseudo{})
	if !r.Has("pseudo") {
		t.Fatal("ids should be case-insensitive")
	}
	if _, err := r.Engine("missing"); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v, want ErrUnknownEngine", err)
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "pseudo" {
		t.Fatalf("IDs = %v", ids)
	}
}

func TestPseudoTranslate(t *testing.T) {
	t.Parallel()
	out, err := Pseudo{}.Translate(context.Background(), []string{"Hello", "World"}, "en", "de")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if !strings.HasPrefix(out[0], "[de] ") || !strings.Contains(out[0], "é") {
		t.Fatalf("unexpected pseudo text %q", out[0])
	}
}
