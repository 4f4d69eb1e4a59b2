package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownKey reports a dot-notation path that does not name a config
// field.
var ErrUnknownKey = errors.New("unknown config key")

// asMap round-trips the config through JSON so dot-notation paths follow
// the json field names.
func asMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path
// (e.g. "general.workspace").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := asMap(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q: %w", path, ErrUnknownKey)
		}
		if current, ok = node[key]; !ok {
			return nil, fmt.Errorf("%q: %w", path, ErrUnknownKey)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. String values are
// coerced to the type the field expects.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := asMap(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	node := m
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%q: %w", path, ErrUnknownKey)
		}
		node = child
	}
	node[keys[len(keys)-1]] = coerce(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// coerce turns CLI string input into the JSON type the field expects.
func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ListPaths returns every settable config path with its current value.
func ListPaths(cfg *Config) map[string]any {
	m, err := asMap(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}
