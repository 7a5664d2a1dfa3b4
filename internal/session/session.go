// Package session manages the scope codes students join under. The trainer
// mints a batch of codes before class; until any are minted, every code is
// accepted, so small groups can improvise.
package session

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	codePrefix = "SUS-"
	maxCodeLen = 24
	maxBatch   = 200
	// DefaultBatch is the code count when the admin does not name one.
	DefaultBatch = 20
)

// Normalize strips everything but letters, digits, underscore and hyphen,
// uppercases the rest, and caps the length. An empty result means no scope.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) > maxCodeLen {
		code = code[:maxCodeLen]
	}
	return code
}

// Codes is the issued-code set. Joins are unrestricted while it is empty;
// once a batch was generated, only issued codes join.
type Codes struct {
	mu      sync.RWMutex
	allowed map[string]bool
}

func NewCodes() *Codes {
	return &Codes{allowed: make(map[string]bool)}
}

// Generate mints n fresh codes and replaces the issued set with them.
// n is clamped to [1, 200]; zero or negative falls back to the default.
func (c *Codes) Generate(n int) []string {
	if n <= 0 {
		n = DefaultBatch
	}
	if n > maxBatch {
		n = maxBatch
	}

	issued := make(map[string]bool, n)
	out := make([]string, 0, n)
	for len(out) < n {
		id := uuid.New()
		code := Normalize(codePrefix + strings.ToUpper(hex.EncodeToString(id[:3])))
		if code == "" || issued[code] {
			continue
		}
		issued[code] = true
		out = append(out, code)
	}

	c.mu.Lock()
	c.allowed = issued
	c.mu.Unlock()
	return out
}

// Allowed reports whether a normalized code may join. Empty codes never
// join a scope; any non-empty code joins while no batch was issued.
func (c *Codes) Allowed(code string) bool {
	if code == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.allowed) == 0 {
		return true
	}
	return c.allowed[code]
}

// List returns the issued codes, sorted, for the trainer's handout.
func (c *Codes) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.allowed))
	for code := range c.allowed {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
