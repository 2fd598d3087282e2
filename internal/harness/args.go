package harness

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// argError marks a malformed step. It aborts the run instead of counting
// as an operation failure.
type argError struct {
	key string
	msg string
}

func (e *argError) Error() string {
	return fmt.Sprintf("arg %q: %s", e.key, e.msg)
}

// args wraps step arguments after alias resolution.
type args map[string]any

func (a args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a args) str(key string) (string, error) {
	return a.strOr(key, "")
}

// strOr returns def only when key is absent; an explicit empty string is kept.
func (a args) strOr(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case int, float64, bool:
		return fmt.Sprint(s), nil
	}
	return "", &argError{key, fmt.Sprintf("want string, got %T", v)}
}

func (a args) strs(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	if ss, ok := v.([]string); ok {
		return ss, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &argError{key, fmt.Sprintf("want list, got %T", v)}
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, &argError{key, fmt.Sprintf("item %d: want string, got %T", i, item)}
		}
		out = append(out, s)
	}
	return out, nil
}

func (a args) float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, &argError{key, fmt.Sprintf("want number, got %T", v)}
}

func (a args) floatPtr(key string) (*float64, error) {
	if !a.has(key) {
		return nil, nil
	}
	f, err := a.float(key, 0)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (a args) integer(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	if n, ok := v.(int); ok {
		return n, nil
	}
	return 0, &argError{key, fmt.Sprintf("want integer, got %T", v)}
}

func (a args) intPtr(key string) (*int, error) {
	if !a.has(key) {
		return nil, nil
	}
	n, err := a.integer(key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// duration parses a Go duration string such as "90s" or "1h".
func (a args) duration(key string) (time.Duration, bool, error) {
	s, err := a.str(key)
	if err != nil || s == "" {
		return 0, false, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, &argError{key, err.Error()}
	}
	return d, true, nil
}

func (a args) object(key string) (map[string]any, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &argError{key, fmt.Sprintf("want mapping, got %T", v)}
	}
	return m, nil
}

// decode round-trips a[key] through YAML into dst, so struct yaml tags
// apply. Fields absent from the arg keep their current value in dst.
func (a args) decode(key string, dst any) error {
	v, ok := a[key]
	if !ok || v == nil {
		return nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return &argError{key, err.Error()}
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return &argError{key, err.Error()}
	}
	return nil
}

// resolveAliases replaces "$name" strings anywhere in v with the bound id.
func resolveAliases(v any, aliases map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveAlias(val, aliases)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveAliases(item, aliases)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveAliases(item, aliases)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}

func resolveAlias(s string, aliases map[string]string) (string, error) {
	name, ok := strings.CutPrefix(s, "$")
	if !ok || name == "" {
		return s, nil
	}
	id, bound := aliases[name]
	if !bound {
		return "", fmt.Errorf("unknown alias %q", s)
	}
	return id, nil
}

func resolveAll(in []string, aliases map[string]string) ([]string, error) {
	out := make([]string, len(in))
	for i, s := range in {
		r, err := resolveAlias(s, aliases)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
