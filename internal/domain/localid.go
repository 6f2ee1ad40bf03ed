package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// LocalIDGenerator hands out namespaced item ids for entries created
// during fallback mutations. The counter is seeded from wall-clock millis
// so ids stay unique across process restarts of the same client, and the
// "local-" prefix keeps them disjoint from anything the remote store
// assigns.
type LocalIDGenerator struct {
	counter atomic.Int64
}

// NewLocalIDGenerator returns a generator seeded from the current time.
func NewLocalIDGenerator() *LocalIDGenerator {
	g := &LocalIDGenerator{}
	g.counter.Store(time.Now().UnixMilli())
	return g
}

// Next returns a fresh local item id.
func (g *LocalIDGenerator) Next() string {
	return fmt.Sprintf("%s%d", LocalIDPrefix, g.counter.Add(1))
}
