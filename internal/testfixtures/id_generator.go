package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out predictable identifiers such as "booking-1".
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

// NewIDGenerator returns a generator for prefix, "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NextFunc returns Next for injection into service dependencies.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued reports how many identifiers have been handed out.
func (g *IDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Reset restarts the sequence under a new prefix.
func (g *IDGenerator) Reset(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prefix != "" {
		g.prefix = prefix
	}
	g.counter = 0
}
