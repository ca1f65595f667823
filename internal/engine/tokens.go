package engine

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints unique IDs for events and notices.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens. The embedded
// timestamp makes event IDs sortable by creation time, which helps when
// correlating device logs with uploaded documents.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens for deterministic tests.
//
// Panics when all tokens are consumed - fail-fast for test
// misconfiguration (the test produced more events than expected).
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// SeqGenerator returns "tok-1", "tok-2", ... without exhausting.
// Convenient for tests that do not assert on IDs.
type SeqGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "tok-" + strconv.Itoa(g.n)
}
