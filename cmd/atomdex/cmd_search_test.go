package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// Cutting inside a multi-byte rune must back up to the rune start.
	s := strings.Repeat("é", 5)
	got := truncate(s, 5)
	assert.Equal(t, "éé...", got)
	assert.True(t, utf8.ValidString(got))
}
