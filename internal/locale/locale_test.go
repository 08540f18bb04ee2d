package locale

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTranslateFallback(t *testing.T) {
	p := New("de-AT")
	_ = p.RegisterTranslations("demo", "en", map[string]string{"hello": "Hello {name}", "bye": "Bye"})
	_ = p.RegisterTranslations("demo", "de", map[string]string{"hello": "Hallo {name}"})

	tests := []struct {
		key  string
		want string
	}{
		{"hello", "Hallo Welt"},
		{"bye", "Bye"},
		{"missing", "missing"},
	}
	for _, tt := range tests {
		if got := p.Translate("demo", tt.key, map[string]string{"name": "Welt"}); got != tt.want {
			t.Errorf("Translate(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if got := p.Translate("other", "hello", nil); got != "hello" {
		t.Errorf("Translate for unknown owner = %q", got)
	}
}

func TestSetLocaleNotifies(t *testing.T) {
	p := New("")
	if p.Locale() != DefaultLocale {
		t.Fatalf("Locale() = %q, want %q", p.Locale(), DefaultLocale)
	}

	var got []string
	cancel := p.Subscribe(func(loc string) { got = append(got, loc) })

	if changed, err := p.SetLocale("fr"); !changed || err != nil {
		t.Errorf("SetLocale(fr) = %v, %v", changed, err)
	}
	if changed, _ := p.SetLocale("fr"); changed {
		t.Error("SetLocale(fr) twice reported a change")
	}
	if _, err := p.SetLocale("not a locale!"); err == nil {
		t.Error("SetLocale accepted a malformed tag")
	}
	cancel()
	_, _ = p.SetLocale("es")

	if diff := cmp.Diff([]string{"fr"}, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregister(t *testing.T) {
	p := New("en")
	_ = p.RegisterTranslations("demo", "en", map[string]string{"a": "A"})
	_ = p.RegisterTranslations("demo", "de", map[string]string{"a": "Ä"})
	if diff := cmp.Diff([]string{"de", "en"}, p.Locales("demo")); diff != "" {
		t.Errorf("Locales mismatch (-want +got):\n%s", diff)
	}
	if n := p.UnregisterTranslations("demo"); n != 2 {
		t.Errorf("UnregisterTranslations() = %d, want 2", n)
	}
	if got := p.Translate("demo", "a", nil); got != "a" {
		t.Errorf("Translate after unregister = %q", got)
	}
}
