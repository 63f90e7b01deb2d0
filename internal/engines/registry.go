package engines

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
)

var ErrUnknownEngine = errors.New("unknown translation engine")

// Registry maps engine ids to implementations. Credentials and endpoint
// selection happen when an engine is registered, not here.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]catalog.TranslationEngine
}

func NewRegistry() *Registry {
	return &Registry{engines: map[string]catalog.TranslationEngine{}}
}

// Register adds or replaces an engine.
func (r *Registry) Register(id string, e catalog.TranslationEngine) {
	k := NormalizeID(id)
	if k == "" || e == nil {
		return
	}
	r.mu.Lock()
	r.engines[k] = e
	r.mu.Unlock()
}

func (r *Registry) Engine(id string) (catalog.TranslationEngine, error) {
	r.mu.RLock()
	e, ok := r.engines[NormalizeID(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	return e, nil
}

func (r *Registry) Has(id string) bool {
	_, err := r.Engine(id)
	return err == nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
