package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// accessor reads typed values out of a merged settings map. Conversion
// failures are collected rather than returned one at a time.
type accessor struct {
	data map[string]any
	used map[string]bool
	errs []error
}

func newAccessor(data map[string]any) *accessor {
	return &accessor{data: data, used: make(map[string]bool)}
}

// lookup returns the value at a dot-separated path.
func (a *accessor) lookup(path string) (any, bool) {
	a.used[path] = true
	parts := strings.Split(path, ".")
	var current any = a.data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (a *accessor) typeError(path, expected string, got any) {
	a.errs = append(a.errs, &TypeError{Path: path, Expected: expected, Actual: fmt.Sprintf("%T", got)})
}

func (a *accessor) invalid(path, msg string, got any) {
	a.errs = append(a.errs, &ValidationError{Path: path, Message: msg, Value: got})
}

func (a *accessor) str(path string, dst *string) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		a.typeError(path, "string", v)
		return
	}
	*dst = s
}

func (a *accessor) boolean(path string, dst *bool) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	b, ok := v.(bool)
	if !ok {
		a.typeError(path, "bool", v)
		return
	}
	*dst = b
}

func (a *accessor) integer(path string, dst *int) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		if n < 0 || n > math.MaxInt32 {
			a.invalid(path, "out of range", v)
			return
		}
		*dst = int(n)
	default:
		a.typeError(path, "integer", v)
	}
}

func (a *accessor) float(path string, dst *float64) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		*dst = float64(n)
	case float64:
		*dst = n
	default:
		a.typeError(path, "number", v)
		return
	}
	if *dst <= 0 {
		a.invalid(path, "must be positive", v)
	}
}

// duration accepts Go duration strings such as "750ms" or "2m".
func (a *accessor) duration(path string, dst *time.Duration) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		a.typeError(path, "duration string", v)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		a.invalid(path, "must be a positive duration", v)
		return
	}
	*dst = d
}

// size accepts a byte count or a human size such as "16MiB" or "5MB".
func (a *accessor) size(path string, dst *int64) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		if n <= 0 {
			a.invalid(path, "must be positive", v)
			return
		}
		*dst = n
	case string:
		b, err := units.RAMInBytes(n)
		if err != nil || b <= 0 {
			a.invalid(path, "must be a positive size", v)
			return
		}
		*dst = b
	default:
		a.typeError(path, "size", v)
	}
}

func (a *accessor) strings(path string, dst *[]string) {
	v, ok := a.lookup(path)
	if !ok {
		return
	}
	switch list := v.(type) {
	case string:
		*dst = []string{list}
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				a.typeError(path, "array of strings", v)
				return
			}
			out = append(out, s)
		}
		*dst = out
	default:
		a.typeError(path, "array of strings", v)
	}
}

// unused returns the leaf paths present in the data that nothing read.
func (a *accessor) unused() []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if a.used[path] {
				continue
			}
			if sub, ok := v.(map[string]any); ok {
				walk(path, sub)
				continue
			}
			out = append(out, path)
		}
	}
	walk("", a.data)
	sort.Strings(out)
	return out
}
