// Package registry tracks per-listener caption preferences for one room.
//
// The registry is the only state shared between the session event handlers
// and the per-language topic workers, so every method takes the lock and
// returns snapshots rather than live references.
package registry

import (
	"sort"
	"sync"

	"github.com/wing199901/live-translated-captioning/internal/logging"
)

// Preference is a snapshot of one listener's caption preferences.
type Preference struct {
	Identity string
	Forward  bool
	Language string
}

// Update carries the fields of a preference change. Nil fields are left
// untouched on the stored entry.
type Update struct {
	Forward  *bool
	Language *string
}

// Registry is a concurrency-safe store of listener preferences, keyed by
// participant identity. Entries are created on first reference with
// forwarding enabled and the room's source language.
type Registry struct {
	sourceLanguage string

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	forward  bool
	language string
}

// New creates an empty registry. sourceLanguage is the default language for
// listeners that never declared one; it means "no translation needed".
func New(sourceLanguage string) *Registry {
	return &Registry{
		sourceLanguage: sourceLanguage,
		entries:        make(map[string]*entry),
	}
}

// Upsert creates the entry with defaults if absent, then applies only the
// fields supplied in update. The whole operation is atomic with respect to
// concurrent reads of the same identity.
func (r *Registry) Upsert(identity string, update Update) Preference {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.getOrCreateLocked(identity)
	if update.Forward != nil {
		e.forward = *update.Forward
	}
	if update.Language != nil {
		e.language = *update.Language
	}
	logging.Debug(logging.CategorySession, "preference updated identity=%s forward=%v language=%s", identity, e.forward, e.language)
	return Preference{Identity: identity, Forward: e.forward, Language: e.language}
}

// Get returns the current snapshot for identity, creating the entry with
// defaults if it does not exist yet. Read-creating keeps callers that race
// with the join event from observing a missing entry.
func (r *Registry) Get(identity string) Preference {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.getOrCreateLocked(identity)
	return Preference{Identity: identity, Forward: e.forward, Language: e.language}
}

// Lookup returns the snapshot for identity without creating it.
func (r *Registry) Lookup(identity string) (Preference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[identity]
	if !ok {
		return Preference{}, false
	}
	return Preference{Identity: identity, Forward: e.forward, Language: e.language}, true
}

// Remove deletes the entry for identity. It returns false if no entry
// existed, which is not an error: departures may race with read-creates.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	return true
}

// LanguageInUse reports whether at least one listener currently has the
// given target language, regardless of their forwarding flag.
func (r *Registry) LanguageInUse(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.language == language {
			return true
		}
	}
	return false
}

// EligibleIdentities returns the identities that should receive output for
// language right now: matching target language AND forwarding enabled. The
// set is evaluated atomically at call time; callers must not cache it.
func (r *Registry) EligibleIdentities(language string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var identities []string
	for identity, e := range r.entries {
		if e.language == language && e.forward {
			identities = append(identities, identity)
		}
	}
	sort.Strings(identities)
	return identities
}

// Len returns the number of tracked listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) getOrCreateLocked(identity string) *entry {
	e, ok := r.entries[identity]
	if !ok {
		e = &entry{forward: true, language: r.sourceLanguage}
		r.entries[identity] = e
		logging.Debug(logging.CategorySession, "created preference entry identity=%s", identity)
	}
	return e
}
