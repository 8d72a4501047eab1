package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator issues utterance ids of the form <session>-utt-N.
type Generator struct {
	counter uint64
}

// NewGenerator returns a Generator starting at 1.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next id for sessionID.
func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-utt-%d", sessionID, n)
}

// Count returns how many ids have been issued.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
