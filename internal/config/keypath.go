package config

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ParseConfigPath splits a dotted key such as "agent.design.timeout" and
// checks it against the Config schema. Numeric segments index into lists,
// so "channels.irc.channels.0" names the first IRC channel.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	if slices.Contains(parts, "") {
		return nil, &ConfigError{Message: "config path contains empty segment"}
	}
	if err := checkKeyPath(reflect.TypeOf(Config{}), parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func checkKeyPath(t reflect.Type, parts []string) error {
	for i, seg := range parts {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.Kind() {
		case reflect.Struct:
			f, ok := yamlField(t, seg)
			if !ok {
				return &ConfigError{Message: fmt.Sprintf("unknown key %q", strings.Join(parts[:i+1], "."))}
			}
			t = f.Type
		case reflect.Slice:
			if n, err := strconv.Atoi(seg); err != nil || n < 0 {
				return &ConfigError{Message: fmt.Sprintf("%q is a list; expected an index, got %q", strings.Join(parts[:i], "."), seg)}
			}
			t = t.Elem()
		case reflect.Map:
			t = t.Elem()
		default:
			return &ConfigError{Message: fmt.Sprintf("%q is a value, not a section", strings.Join(parts[:i], "."))}
		}
	}
	return nil
}

func yamlField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := range t.NumField() {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// GetValueAtPath walks a decoded YAML document.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var node any = root
	for _, seg := range path {
		next, ok := child(node, seg)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

func child(node any, seg string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	}
	return nil, false
}

// SetValueAtPath stores value at path, creating sections as needed and
// replacing scalars that stand in the way. A list index may address an
// existing element or append one past the end.
func SetValueAtPath(root map[string]any, path []string, value any) error {
	_, err := setIn(root, path, value)
	return err
}

func setIn(node any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	seg, rest := path[0], path[1:]

	if node == nil {
		if i, err := strconv.Atoi(seg); err == nil && i == 0 {
			node = []any{}
		}
	}
	if list, ok := node.([]any); ok {
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i > len(list) {
			return nil, &ConfigError{Message: fmt.Sprintf("list index %q out of range (len %d)", seg, len(list))}
		}
		if i == len(list) {
			list = append(list, nil)
		}
		v, err := setIn(list[i], rest, value)
		if err != nil {
			return nil, err
		}
		list[i] = v
		return list, nil
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	v, err := setIn(m[seg], rest, value)
	if err != nil {
		return nil, err
	}
	m[seg] = v
	return m, nil
}

// UnsetValueAtPath removes the key or list element at path and reports
// whether anything was removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	_, ok := unsetIn(root, path)
	return ok
}

func unsetIn(node any, path []string) (any, bool) {
	seg, rest := path[0], path[1:]
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		if !ok {
			return n, false
		}
		if len(rest) == 0 {
			delete(n, seg)
			return n, true
		}
		nv, ok := unsetIn(v, rest)
		if ok {
			n[seg] = nv
		}
		return n, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(n) {
			return n, false
		}
		if len(rest) == 0 {
			return slices.Delete(n, i, i+1), true
		}
		nv, ok := unsetIn(n[i], rest)
		if ok {
			n[i] = nv
		}
		return n, ok
	}
	return node, false
}
