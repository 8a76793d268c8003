// Package session reacts to listener lifecycle signals from the room and
// keeps the preference registry and topic set in agreement with them.
// Attribute parsing happens here, once, at the boundary: the rest of the
// worker only ever sees typed preference updates.
package session

import (
	"strings"

	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/registry"
)

// Participant attribute keys declared by clients.
const (
	AttrUserType = "user_type"
	AttrForward  = "should_forward_transcription"
	AttrLanguage = "transcription_language"
)

// Participant user types.
const (
	UserTypeListener = "listener"
	UserTypeHost     = "host"
)

// TopicControl is the slice of the topic manager the hooks drive.
type TopicControl interface {
	Ensure(language string) error
	ReleaseIfUnused(language string)
}

// Hooks translates join/leave/attribute-change signals into registry and
// topic operations.
type Hooks struct {
	reg            *registry.Registry
	topics         TopicControl
	supported      func(language string) bool
	sourceLanguage string
}

// NewHooks wires the hooks to their collaborators. supported reports
// whether a language tag has a known translation mapping.
func NewHooks(reg *registry.Registry, topics TopicControl, supported func(string) bool, sourceLanguage string) *Hooks {
	return &Hooks{
		reg:            reg,
		topics:         topics,
		supported:      supported,
		sourceLanguage: sourceLanguage,
	}
}

// OnJoin registers a new listener from its declared attributes and makes
// sure the topic for its language exists.
func (h *Hooks) OnJoin(identity string, attrs map[string]string) {
	forward := h.parseForward(identity, attrs[AttrForward])
	language := h.parseLanguage(identity, attrs[AttrLanguage])

	h.reg.Upsert(identity, registry.Update{Forward: &forward, Language: &language})
	logging.Info(logging.CategorySession, "listener joined identity=%s forward=%v language=%s", identity, forward, language)

	h.ensureIfSupported(language)
}

// OnAttributesChanged applies only the attribute keys present in changed.
// A language change spins up the new topic before releasing the old one so
// delivery never has a gap for other listeners of either language.
func (h *Hooks) OnAttributesChanged(identity string, changed map[string]string) {
	var update registry.Update

	if raw, ok := changed[AttrForward]; ok {
		forward := h.parseForward(identity, raw)
		update.Forward = &forward
	}

	var oldLanguage string
	if raw, ok := changed[AttrLanguage]; ok {
		language := h.parseLanguage(identity, raw)
		if prev, exists := h.reg.Lookup(identity); exists && prev.Language != language {
			oldLanguage = prev.Language
		}
		update.Language = &language
	}

	if update.Forward == nil && update.Language == nil {
		return
	}

	pref := h.reg.Upsert(identity, update)
	logging.Info(logging.CategorySession, "listener preferences changed identity=%s forward=%v language=%s", identity, pref.Forward, pref.Language)

	if update.Language != nil {
		h.ensureIfSupported(*update.Language)
		if oldLanguage != "" {
			h.topics.ReleaseIfUnused(oldLanguage)
		}
	}
}

// OnLeave removes the listener and releases its language's topic if it was
// the last user.
func (h *Hooks) OnLeave(identity string) {
	pref, existed := h.reg.Lookup(identity)
	if !h.reg.Remove(identity) {
		logging.Debug(logging.CategorySession, "departure for unknown listener identity=%s", identity)
		return
	}
	logging.Info(logging.CategorySession, "listener left identity=%s", identity)
	if existed {
		h.topics.ReleaseIfUnused(pref.Language)
	}
}

// OnForwardToggle handles the administrative toggle request. It mutates
// the registry only; topics are unaffected because eligibility is
// re-evaluated at delivery time anyway.
func (h *Hooks) OnForwardToggle(identity string, enabled bool) {
	h.reg.Upsert(identity, registry.Update{Forward: &enabled})
	logging.Info(logging.CategorySession, "forwarding toggled identity=%s enabled=%v", identity, enabled)
}

func (h *Hooks) ensureIfSupported(language string) {
	if !h.supported(language) {
		logging.Warning(logging.CategorySession, "unsupported language, skipping topic creation language=%s", language)
		return
	}
	if err := h.topics.Ensure(language); err != nil {
		logging.Error(logging.CategorySession, "failed to start topic language=%s: %v", language, err)
	}
}

// parseForward parses the string-typed boolean attribute. Anything other
// than an explicit false enables forwarding; a malformed value is a
// defaulting event, not an error.
func (h *Hooks) parseForward(identity, raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "":
		if raw == "" {
			logging.Warning(logging.CategorySession, "missing forward attribute, defaulting to enabled identity=%s", identity)
		}
		return true
	case "false":
		return false
	default:
		logging.Warning(logging.CategorySession, "malformed forward attribute %q, defaulting to enabled identity=%s", raw, identity)
		return true
	}
}

// parseLanguage normalizes the declared language tag, defaulting to the
// source language (pass-through) when absent.
func (h *Hooks) parseLanguage(identity, raw string) string {
	language := strings.ToLower(strings.TrimSpace(raw))
	if language == "" {
		logging.Warning(logging.CategorySession, "missing language attribute, defaulting to %s identity=%s", h.sourceLanguage, identity)
		return h.sourceLanguage
	}
	return language
}
