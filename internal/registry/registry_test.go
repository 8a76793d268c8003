package registry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestGetCreatesWithDefaults(t *testing.T) {
	r := New("english")

	pref := r.Get("listener-1")
	if !pref.Forward {
		t.Errorf("expected forwarding enabled by default, got %v", pref.Forward)
	}
	if pref.Language != "english" {
		t.Errorf("expected default language english, got %q", pref.Language)
	}
	if _, ok := r.Lookup("listener-1"); !ok {
		t.Error("expected Get to create the entry")
	}
}

func TestUpsertAppliesOnlySuppliedFields(t *testing.T) {
	r := New("english")

	r.Upsert("listener-1", Update{Language: strPtr("french")})
	pref := r.Get("listener-1")
	if pref.Language != "french" {
		t.Errorf("expected language french, got %q", pref.Language)
	}
	if !pref.Forward {
		t.Error("forwarding flag should be untouched by a language-only update")
	}

	r.Upsert("listener-1", Update{Forward: boolPtr(false)})
	pref = r.Get("listener-1")
	if pref.Forward {
		t.Error("expected forwarding disabled")
	}
	if pref.Language != "french" {
		t.Errorf("language should be untouched by a forward-only update, got %q", pref.Language)
	}
}

func TestRemove(t *testing.T) {
	r := New("english")
	r.Get("listener-1")

	if !r.Remove("listener-1") {
		t.Error("expected Remove to report an existing entry")
	}
	if r.Remove("listener-1") {
		t.Error("expected Remove of an absent entry to report false")
	}
	if _, ok := r.Lookup("listener-1"); ok {
		t.Error("entry should be gone after Remove")
	}
}

func TestLanguageInUse(t *testing.T) {
	r := New("english")
	r.Upsert("l1", Update{Language: strPtr("french"), Forward: boolPtr(false)})

	if !r.LanguageInUse("french") {
		t.Error("french is in use even though forwarding is disabled")
	}
	if r.LanguageInUse("german") {
		t.Error("german should not be in use")
	}

	r.Remove("l1")
	if r.LanguageInUse("french") {
		t.Error("french should be unused after the last listener left")
	}
}

func TestEligibleIdentities(t *testing.T) {
	r := New("english")
	r.Upsert("l1", Update{Language: strPtr("french")})
	r.Upsert("l2", Update{Language: strPtr("french")})
	r.Upsert("l3", Update{Language: strPtr("french"), Forward: boolPtr(false)})
	r.Upsert("l4", Update{Language: strPtr("german")})

	got := r.EligibleIdentities("french")
	want := []string{"l1", "l2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := r.EligibleIdentities("klingon"); len(got) != 0 {
		t.Errorf("expected no eligible identities, got %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New("english")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("listener-%d", i%10)
			r.Upsert(identity, Update{Language: strPtr("french")})
			r.Get(identity)
			r.EligibleIdentities("french")
			r.LanguageInUse("french")
			if i%3 == 0 {
				r.Remove(identity)
			}
		}(i)
	}
	wg.Wait()

	// Sanity: surviving entries still readable and well formed.
	for _, id := range r.EligibleIdentities("french") {
		if pref := r.Get(id); pref.Language != "french" {
			t.Errorf("corrupted entry for %s: %+v", id, pref)
		}
	}
}
