package grammar

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
)

// Digest returns the cache key for a schema document: the sha256 of its
// exact bytes.
func Digest(doc []byte) string {
	sum := sha256.Sum256(doc)
	return "sha256:" + hex.EncodeToString(sum[:])
}

var cache struct {
	mu sync.Mutex
	m  map[string]*Automaton
}

// CompileCached parses and compiles a schema document, caching the result
// process-wide under its digest. Compilation runs once per distinct
// document; entries are never evicted and never mutated after insertion,
// so readers need no locking once they hold the automaton.
func CompileCached(doc []byte) (*Automaton, string, error) {
	digest := Digest(doc)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if a, ok := cache.m[digest]; ok {
		return a, digest, nil
	}

	s, err := jsonschema.Parse(doc)
	if err != nil {
		return nil, "", err
	}
	start := time.Now()
	a, err := Compile(s)
	if err != nil {
		return nil, "", err
	}
	slog.Debug("compiled schema automaton", "digest", digest, "states", a.Len(), "elapsed", time.Since(start))

	if cache.m == nil {
		cache.m = make(map[string]*Automaton)
	}
	cache.m[digest] = a
	return a, digest, nil
}

// Cached returns the automaton previously compiled for digest, if any.
func Cached(digest string) (*Automaton, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	a, ok := cache.m[digest]
	return a, ok
}

// CachedDigests lists the digests of all compiled schemas, sorted.
func CachedDigests() []string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	out := make([]string, 0, len(cache.m))
	for d := range cache.m {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
