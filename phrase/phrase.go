// Package phrase builds the verification phrase a user places in their Roblox profile.
package phrase

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Placeholder - Used for a character that has no word at its position
const Placeholder = "-"

//go:embed words.json
var defaultWords []byte

// Table - Maps a position in the identifier to the word chosen for each character
type Table []map[string]string

// Generator - Turns identifiers into phrases. It is safe for concurrent use
type Generator struct {
	table Table
}

// New - Create a Generator over the given table
func New(table Table) *Generator {
	return &Generator{table: table}
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
)

// Default - Create a Generator over the embedded word table
func Default() *Generator {
	defaultOnce.Do(func() {
		table, err := ParseTable(defaultWords)
		if err != nil {
			// The embedded table is part of the binary
			panic(err)
		}
		defaultGen = New(table)
	})
	return defaultGen
}

// ParseTable - Decode a JSON array of per-position character to word objects
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse word table: %w", err)
	}
	return t, nil
}

// Phrase - Get the words for each character of id joined by single spaces.
// The same id always yields the same phrase.
func (g *Generator) Phrase(id string) string {
	words := make([]string, 0, len(id))
	i := 0
	for _, c := range id {
		words = append(words, g.word(i, string(c)))
		i++
	}
	return strings.Join(words, " ")
}

func (g *Generator) word(pos int, c string) string {
	if pos >= len(g.table) {
		return Placeholder
	}
	if w, ok := g.table[pos][c]; ok && w != "" {
		return w
	}
	return Placeholder
}
