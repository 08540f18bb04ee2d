// Package locale keeps the host's current locale and the translations
// plugins register for it.
package locale

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// DefaultLocale is used when nothing else is configured.
const DefaultLocale = "en"

// Listener is called after the locale changes.
type Listener func(locale string)

// Provider stores translations per owner and locale. Lookups fall back from
// the current locale to its base language and then to the default locale.
type Provider struct {
	mu        sync.RWMutex
	current   language.Tag
	fallback  language.Tag
	tables    map[string]map[string]map[string]string // owner -> locale -> key -> text
	listeners map[int]Listener
	nextID    int
}

// New creates a provider using initial as the current locale. An empty or
// malformed tag selects DefaultLocale.
func New(initial string) *Provider {
	tag, err := language.Parse(initial)
	if err != nil || initial == "" {
		tag = language.MustParse(DefaultLocale)
	}
	return &Provider{
		current:   tag,
		fallback:  language.MustParse(DefaultLocale),
		tables:    make(map[string]map[string]map[string]string),
		listeners: make(map[int]Listener),
	}
}

// Locale returns the current locale tag.
func (p *Provider) Locale() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.String()
}

// SetLocale changes the current locale and notifies listeners. It reports
// whether the locale changed.
func (p *Provider) SetLocale(loc string) (bool, error) {
	tag, err := language.Parse(loc)
	if err != nil {
		return false, fmt.Errorf("invalid locale %q: %w", loc, err)
	}
	p.mu.Lock()
	if tag == p.current {
		p.mu.Unlock()
		return false, nil
	}
	p.current = tag
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(tag.String())
	}
	return true, nil
}

// Subscribe registers l for locale changes and returns a function removing
// it.
func (p *Provider) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// RegisterTranslations merges entries for owner under loc.
func (p *Provider) RegisterTranslations(owner, loc string, entries map[string]string) error {
	tag, err := language.Parse(loc)
	if err != nil {
		return fmt.Errorf("invalid locale %q: %w", loc, err)
	}
	key := tag.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	byLocale, ok := p.tables[owner]
	if !ok {
		byLocale = make(map[string]map[string]string)
		p.tables[owner] = byLocale
	}
	table, ok := byLocale[key]
	if !ok {
		table = make(map[string]string, len(entries))
		byLocale[key] = table
	}
	for k, v := range entries {
		table[k] = v
	}
	return nil
}

// UnregisterTranslations drops everything owner registered and returns the
// number of locales removed.
func (p *Provider) UnregisterTranslations(owner string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.tables[owner])
	delete(p.tables, owner)
	return n
}

// Locales returns the locales owner registered, sorted.
func (p *Provider) Locales(owner string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.tables[owner]))
	for loc := range p.tables[owner] {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Translate looks key up for owner and substitutes {name} placeholders from
// vars. A missing key is returned unchanged.
func (p *Provider) Translate(owner, key string, vars map[string]string) string {
	p.mu.RLock()
	text, ok := p.lookup(owner, key)
	p.mu.RUnlock()
	if !ok {
		text = key
	}
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (p *Provider) lookup(owner, key string) (string, bool) {
	byLocale := p.tables[owner]
	if byLocale == nil {
		return "", false
	}
	candidates := []string{p.current.String()}
	if base, conf := p.current.Base(); conf != language.No {
		candidates = append(candidates, base.String())
	}
	candidates = append(candidates, p.fallback.String())
	for _, loc := range candidates {
		if text, ok := byLocale[loc][key]; ok {
			return text, true
		}
	}
	return "", false
}
