package rediskeys

import (
	"fmt"
	"strings"

	"gitlab.com/timkado/api/loanguard-gateway/pkg/crypto"
)

const (
	generationIndex = "shellcache:generations"
	entriesPrefix   = "shellcache:entries:"
)

// GenerationIndexKey is the set holding the names of every cache generation
// that currently has entries.
func GenerationIndexKey() string {
	return generationIndex
}

// GenerationEntriesKey is the hash holding all entries of one generation.
func GenerationEntriesKey(generation string) string {
	return entriesPrefix + generation
}

// GenerationFromEntriesKey reverses GenerationEntriesKey. ok is false for keys
// outside the entries namespace.
func GenerationFromEntriesKey(key string) (string, bool) {
	if !strings.HasPrefix(key, entriesPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, entriesPrefix), true
}

// EntryField is the hash field for a cache key. Cache keys embed full URLs, so
// they are hashed to keep fields short and uniform.
func EntryField(cacheKey string) string {
	return fmt.Sprintf("e:%s", crypto.Sha256Hex(cacheKey))
}
