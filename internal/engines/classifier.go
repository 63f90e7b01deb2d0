// Package engines classifies translation engines and resolves engine ids to
// implementations.
package engines

import (
	"sort"
	"strings"
	"time"
)

// Class is the throttling class of an engine.
type Class int

const (
	// ClassUnknown engines are not in either table. They are not throttled.
	ClassUnknown Class = iota
	ClassOffline
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassOffline:
		return "offline"
	case ClassRateLimited:
		return "rate-limited"
	default:
		return "unclassified"
	}
}

// Built-in engine ids.
const (
	EnginePseudo        = "pseudo"
	EngineMLKit         = "mlkit"
	EngineLibreLocal    = "libretranslate-local"
	EngineOllama        = "ollama"
	EngineOpenAI        = "openai"
	EngineDeepSeek      = "deepseek"
	EngineGemini        = "gemini"
	EngineClaude        = "claude"
	EngineWebChatGPT    = "webview-chatgpt"
	EngineWebGemini     = "webview-gemini"
	EngineGoogleFree    = "google-free"
	EngineDeepLFree     = "deepl-free"
	EngineYandexBrowser = "yandex"
)

var (
	defaultOffline = []string{
		EnginePseudo,
		EngineMLKit,
		EngineLibreLocal,
		EngineOllama,
	}
	defaultRateLimited = []string{
		EngineOpenAI,
		EngineDeepSeek,
		EngineGemini,
		EngineClaude,
		EngineWebChatGPT,
		EngineWebGemini,
		EngineGoogleFree,
		EngineDeepLFree,
		EngineYandexBrowser,
	}
)

// Classifier is a static lookup table of engine ids. It is immutable after
// construction; build a new one to change the table.
type Classifier struct {
	offline map[string]struct{}
	limited map[string]struct{}
}

// DefaultClassifier returns the built-in table.
func DefaultClassifier() *Classifier {
	return NewClassifier(nil, nil)
}

// NewClassifier returns the built-in table extended with extra ids. An id
// listed as rate-limited wins over the same id listed as offline.
func NewClassifier(extraOffline, extraRateLimited []string) *Classifier {
	c := &Classifier{
		offline: map[string]struct{}{},
		limited: map[string]struct{}{},
	}
	for _, id := range append(append([]string(nil), defaultOffline...), extraOffline...) {
		if k := NormalizeID(id); k != "" {
			c.offline[k] = struct{}{}
		}
	}
	for _, id := range append(append([]string(nil), defaultRateLimited...), extraRateLimited...) {
		if k := NormalizeID(id); k != "" {
			c.limited[k] = struct{}{}
			delete(c.offline, k)
		}
	}
	return c
}

// NormalizeID is the canonical form of an engine id: trimmed, lower case.
func NormalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func (c *Classifier) Classify(engineID string) Class {
	k := NormalizeID(engineID)
	if _, ok := c.limited[k]; ok {
		return ClassRateLimited
	}
	if _, ok := c.offline[k]; ok {
		return ClassOffline
	}
	return ClassUnknown
}

func (c *Classifier) IsOfflineEngine(engineID string) bool {
	return c.Classify(engineID) == ClassOffline
}

// RequiresRateLimiting is false for offline and unclassified engines.
func (c *Classifier) RequiresRateLimiting(engineID string) bool {
	return c.Classify(engineID) == ClassRateLimited
}

// ShouldWarn reports whether a batch of count items needs explicit
// confirmation before it starts. threshold <= 0 disables the warning.
func (c *Classifier) ShouldWarn(engineID string, count, threshold int, bypass bool) bool {
	if bypass || threshold <= 0 {
		return false
	}
	return count >= threshold && c.RequiresRateLimiting(engineID)
}

// EstimateDuration is the throttling estimate shown with a warning.
func EstimateDuration(count int, delay time.Duration) time.Duration {
	if count <= 0 || delay <= 0 {
		return 0
	}
	return time.Duration(count) * delay
}

// Entry is one row of the classifier table.
type Entry struct {
	ID    string
	Class Class
}

// Entries lists the table sorted by class then id.
func (c *Classifier) Entries() []Entry {
	out := make([]Entry, 0, len(c.offline)+len(c.limited))
	for id := range c.offline {
		out = append(out, Entry{ID: id, Class: ClassOffline})
	}
	for id := range c.limited {
		out = append(out, Entry{ID: id, Class: ClassRateLimited})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].ID < out[j].ID
	})
	return out
}
