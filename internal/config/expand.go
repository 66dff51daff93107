package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandPlaceholders substitutes every ${NAME} occurrence in raw with the
// value from env. All missing names are collected before failing, so a
// MissingVariable error never leaves a partially substituted result in the
// caller's hands.
func expandPlaceholders(raw []byte, env map[string]string) ([]byte, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(placeholderPattern.FindSubmatch(match)[1])
		value, ok := env[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(dedupe(missing), ", "))
	}
	return out, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
