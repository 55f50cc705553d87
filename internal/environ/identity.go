// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// EnvName derives the unique human-readable name of an environment from its
// tool kind, interpreter version and requirement set. Requirements are
// serialized sorted by name so that insertion order never changes the name.
// An empty tool kind is omitted for backward-compatible result file names.
func EnvName(toolKind, python string, requirements map[string]string) string {
	var tokens []string
	if toolKind != "" {
		tokens = append(tokens, toolKind)
	}
	tokens = append(tokens, "py"+python)

	keys := make([]string, 0, len(requirements))
	for key := range requirements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if value := requirements[key]; value != "" {
			tokens = append(tokens, key+value)
		} else {
			tokens = append(tokens, key)
		}
	}

	return sanitizeFilename(strings.Join(tokens, "-"))
}

// HashName returns the fixed-width hex digest of an environment name. The
// digest names the environment's directory on disk, so it must be stable
// across runs and platforms.
func HashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// sanitizeFilename replaces characters that are unsafe in file names with
// underscores.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
