package topic

import (
	"context"
	"sync"

	"github.com/wing199901/live-translated-captioning/internal/deliver"
	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/registry"
	"github.com/wing199901/live-translated-captioning/internal/translate"
)

// Manager owns the set of live topics. Topics are created lazily on first
// demand for a language and torn down once no listener uses the language
// anymore.
type Manager struct {
	sourceLanguage string
	reg            *registry.Registry
	publisher      deliver.Publisher
	factory        translate.Factory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewManager creates a manager with no live topics.
func NewManager(
	sourceLanguage string,
	reg *registry.Registry,
	publisher deliver.Publisher,
	factory translate.Factory,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sourceLanguage: sourceLanguage,
		reg:            reg,
		publisher:      publisher,
		factory:        factory,
		ctx:            ctx,
		cancel:         cancel,
		topics:         make(map[string]*Topic),
	}
}

// Ensure creates and starts the topic for language if it does not exist.
// Concurrent calls for the same language create exactly one topic; the
// check and the insert happen under one lock, not check-then-act.
func (m *Manager) Ensure(language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.topics[language]; ok {
		return nil
	}

	passthru := language == m.sourceLanguage
	var translator translate.Translator
	if !passthru {
		var err error
		translator, err = m.factory(language)
		if err != nil {
			logging.Error(logging.CategoryTopic, "translator creation failed language=%s: %v", language, err)
			return err
		}
	}

	t := newTopic(language, passthru, translator, m.reg, m.publisher)
	m.topics[language] = t

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run(m.ctx)
	}()

	logging.Info(logging.CategoryTopic, "topic started language=%s passthrough=%v", language, passthru)
	return nil
}

// Dispatch enqueues a segment onto every live topic. It never blocks on a
// topic's processing speed.
func (m *Manager) Dispatch(seg Segment) {
	m.mu.RLock()
	topics := make([]*Topic, 0, len(m.topics))
	for _, t := range m.topics {
		topics = append(topics, t)
	}
	m.mu.RUnlock()

	for _, t := range topics {
		// A topic racing with its own release rejects the push; the
		// segment is simply not owed to that language anymore.
		t.enqueue(seg)
	}
}

// ReleaseIfUnused stops the topic for language if the registry shows no
// listener still targeting it. The worker finishes its in-flight segment;
// queued segments are discarded.
func (m *Manager) ReleaseIfUnused(language string) {
	m.mu.Lock()
	// The registry check happens under the topic lock: a joiner upserts its
	// registry entry before calling Ensure, and Ensure serializes on the
	// same lock, so a join racing this release either flips the check to
	// in-use or creates a fresh topic after the delete. Checking outside
	// the lock would let Ensure observe the doomed topic and skip creation.
	if m.reg.LanguageInUse(language) {
		m.mu.Unlock()
		return
	}
	t, ok := m.topics[language]
	if ok {
		delete(m.topics, language)
	}
	m.mu.Unlock()

	if ok {
		t.release()
		logging.Info(logging.CategoryTopic, "topic released language=%s", language)
	}
}

// Live reports whether a topic currently exists for language.
func (m *Manager) Live(language string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.topics[language]
	return ok
}

// Health reports translator health per live language. Pass-through topics
// have no translator and are omitted.
func (m *Manager) Health() map[string]translate.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]translate.Status, len(m.topics))
	for language, t := range m.topics {
		if t.translator != nil {
			statuses[language] = t.translator.Health()
		}
	}
	return statuses
}

// CloseAll releases every topic and waits for the workers to drain their
// in-flight segments. Used on job shutdown, after ingestion has stopped.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	topics := m.topics
	m.topics = make(map[string]*Topic)
	m.mu.Unlock()

	for _, t := range topics {
		t.release()
	}
	m.wg.Wait()
	m.cancel()
}
