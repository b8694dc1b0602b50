// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// RunPrefix marks IDs handed to crawl runs.
const RunPrefix = "run-"

// Generator creates time-ordered UUIDv7 identifiers, so run IDs sort in
// the order runs started.
type Generator struct {
	prefix string
}

// New creates a Generator whose IDs start with prefix.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a prefixed UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
