package config

import (
	"sort"
	"strings"
)

// secretSuffixes mark dotted keys whose values are credentials.
var secretSuffixes = []string{".api_key", ".token"}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// Flatten turns nested JSON objects into dotted keys:
// {"llm": {"model": "m"}} becomes {"llm.model": "m"}. Empty objects
// produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar on the path of a longer
// key is replaced by an object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// Keys returns the keys of flat in sorted order.
func Keys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with credentials hidden. Long secrets
// keep their last four characters ("***abcd"); short ones show only "***".
// Unset secrets stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if !IsSecretKey(k) {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			out[k] = maskSecret(s)
		}
	}
	return out
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
