package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ab12", "AB12"},
		{"  sus-a1b2c3  ", "SUS-A1B2C3"},
		{"code with spaces!", "CODEWITHSPACES"},
		{"Üml/äut", "MLUT"},
		{"", ""},
		{strings.Repeat("A", 40), strings.Repeat("A", 24)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestGenerateBatch(t *testing.T) {
	c := NewCodes()

	codes := c.Generate(5)
	require.Len(t, codes, 5)
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.True(t, strings.HasPrefix(code, "SUS-"), "code %q", code)
		assert.Len(t, code, 10)
		assert.Equal(t, code, Normalize(code), "codes come out normalized")
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
	assert.ElementsMatch(t, codes, c.List())
}

func TestGenerateClampsCount(t *testing.T) {
	c := NewCodes()
	assert.Len(t, c.Generate(0), DefaultBatch)
	assert.Len(t, c.Generate(-3), DefaultBatch)
	assert.Len(t, c.Generate(100000), 200)
}

func TestGenerateReplacesBatch(t *testing.T) {
	c := NewCodes()
	first := c.Generate(3)
	second := c.Generate(3)

	for _, code := range first {
		assert.False(t, c.Allowed(code), "old batch code %q must stop working", code)
	}
	for _, code := range second {
		assert.True(t, c.Allowed(code))
	}
}

func TestAllowed(t *testing.T) {
	c := NewCodes()

	// Before any batch exists the room is open.
	assert.True(t, c.Allowed("AB12"))
	assert.False(t, c.Allowed(""))

	codes := c.Generate(2)
	assert.True(t, c.Allowed(codes[0]))
	assert.False(t, c.Allowed("AB12"))
	assert.False(t, c.Allowed(""))
}
