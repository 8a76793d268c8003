package session

import (
	"reflect"
	"testing"

	"github.com/wing199901/live-translated-captioning/internal/registry"
)

type fakeTopics struct {
	ensured  []string
	released []string
}

func (f *fakeTopics) Ensure(language string) error {
	f.ensured = append(f.ensured, language)
	return nil
}

func (f *fakeTopics) ReleaseIfUnused(language string) {
	f.released = append(f.released, language)
}

func supported(language string) bool {
	switch language {
	case "english", "french", "german":
		return true
	}
	return false
}

func newHooks() (*Hooks, *registry.Registry, *fakeTopics) {
	reg := registry.New("english")
	topics := &fakeTopics{}
	return NewHooks(reg, topics, supported, "english"), reg, topics
}

func TestJoinCreatesPreferenceAndTopic(t *testing.T) {
	h, reg, topics := newHooks()

	h.OnJoin("l1", map[string]string{
		AttrForward:  "true",
		AttrLanguage: "french",
	})

	pref, ok := reg.Lookup("l1")
	if !ok {
		t.Fatal("expected a registry entry after join")
	}
	if !pref.Forward || pref.Language != "french" {
		t.Errorf("unexpected preference: %+v", pref)
	}
	if !reflect.DeepEqual(topics.ensured, []string{"french"}) {
		t.Errorf("expected french topic ensured, got %v", topics.ensured)
	}
}

func TestJoinWithMissingAttributesDefaults(t *testing.T) {
	h, reg, topics := newHooks()

	h.OnJoin("l1", map[string]string{})

	pref, _ := reg.Lookup("l1")
	if !pref.Forward {
		t.Error("missing forward attribute should default to enabled")
	}
	if pref.Language != "english" {
		t.Errorf("missing language should default to source language, got %q", pref.Language)
	}
	// Source language still gets its pass-through topic.
	if !reflect.DeepEqual(topics.ensured, []string{"english"}) {
		t.Errorf("expected english topic ensured, got %v", topics.ensured)
	}
}

func TestJoinWithMalformedForwardDefaults(t *testing.T) {
	h, reg, _ := newHooks()

	h.OnJoin("l1", map[string]string{AttrForward: "maybe", AttrLanguage: "FRENCH "})

	pref, _ := reg.Lookup("l1")
	if !pref.Forward {
		t.Error("malformed forward attribute should default to enabled")
	}
	if pref.Language != "french" {
		t.Errorf("language should be normalized, got %q", pref.Language)
	}
}

func TestJoinWithUnsupportedLanguageSkipsTopic(t *testing.T) {
	h, reg, topics := newHooks()

	h.OnJoin("l1", map[string]string{AttrLanguage: "klingon"})

	if len(topics.ensured) != 0 {
		t.Errorf("no topic may be created for an unsupported language, got %v", topics.ensured)
	}
	pref, _ := reg.Lookup("l1")
	if pref.Language != "klingon" {
		t.Errorf("the declared language is still recorded, got %q", pref.Language)
	}

	// Subsequent valid listeners are unaffected.
	h.OnJoin("l2", map[string]string{AttrLanguage: "german"})
	if !reflect.DeepEqual(topics.ensured, []string{"german"}) {
		t.Errorf("expected german topic ensured, got %v", topics.ensured)
	}
}

func TestLanguageChangeEnsuresNewThenReleasesOld(t *testing.T) {
	h, reg, topics := newHooks()
	h.OnJoin("l1", map[string]string{AttrLanguage: "french"})

	h.OnAttributesChanged("l1", map[string]string{AttrLanguage: "german"})

	pref, _ := reg.Lookup("l1")
	if pref.Language != "german" {
		t.Errorf("expected german, got %q", pref.Language)
	}
	if !reflect.DeepEqual(topics.ensured, []string{"french", "german"}) {
		t.Errorf("unexpected ensure order: %v", topics.ensured)
	}
	if !reflect.DeepEqual(topics.released, []string{"french"}) {
		t.Errorf("expected french released, got %v", topics.released)
	}
}

func TestForwardOnlyChangeTouchesNoTopics(t *testing.T) {
	h, reg, topics := newHooks()
	h.OnJoin("l1", map[string]string{AttrLanguage: "french"})
	topics.ensured = nil

	h.OnAttributesChanged("l1", map[string]string{AttrForward: "false"})

	pref, _ := reg.Lookup("l1")
	if pref.Forward {
		t.Error("expected forwarding disabled")
	}
	if pref.Language != "french" {
		t.Errorf("language must be untouched, got %q", pref.Language)
	}
	if len(topics.ensured) != 0 || len(topics.released) != 0 {
		t.Errorf("forward-only change must not touch topics: ensured=%v released=%v", topics.ensured, topics.released)
	}
}

func TestIrrelevantAttributeChangeIsIgnored(t *testing.T) {
	h, _, topics := newHooks()
	h.OnJoin("l1", map[string]string{AttrLanguage: "french"})
	topics.ensured = nil

	h.OnAttributesChanged("l1", map[string]string{"avatar_color": "blue"})

	if len(topics.ensured) != 0 || len(topics.released) != 0 {
		t.Error("unrelated attributes must not drive topic operations")
	}
}

func TestLeaveRemovesAndReleases(t *testing.T) {
	h, reg, topics := newHooks()
	h.OnJoin("l1", map[string]string{AttrLanguage: "french"})

	h.OnLeave("l1")

	if _, ok := reg.Lookup("l1"); ok {
		t.Error("entry should be removed on departure")
	}
	if !reflect.DeepEqual(topics.released, []string{"french"}) {
		t.Errorf("expected french release attempt, got %v", topics.released)
	}
}

func TestLeaveUnknownListenerIsSafe(t *testing.T) {
	h, _, topics := newHooks()

	h.OnLeave("ghost")

	if len(topics.released) != 0 {
		t.Errorf("no release for an unknown listener, got %v", topics.released)
	}
}

func TestForwardToggleMutatesRegistryOnly(t *testing.T) {
	h, reg, topics := newHooks()
	h.OnJoin("l1", map[string]string{AttrLanguage: "french"})
	topics.ensured = nil

	h.OnForwardToggle("l1", false)

	pref, _ := reg.Lookup("l1")
	if pref.Forward {
		t.Error("expected forwarding disabled after toggle")
	}
	if len(topics.ensured) != 0 || len(topics.released) != 0 {
		t.Error("toggle must not touch topics")
	}

	h.OnForwardToggle("l1", true)
	pref, _ = reg.Lookup("l1")
	if !pref.Forward {
		t.Error("expected forwarding re-enabled after toggle")
	}
}
