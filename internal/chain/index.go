package chain

import "sync"

// Index tracks live chains by id so the HTTP surface and delegation tools
// can find them while their tasks are still running. Completed chains stay
// in the index until evicted; durable storage is the store's concern.
type Index struct {
	mu     sync.RWMutex
	chains map[string]*Chain
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{chains: make(map[string]*Chain)}
}

// Add registers a chain. Re-adding the same id replaces the entry.
func (i *Index) Add(c *Chain) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.chains[c.ID()] = c
}

// Get returns the chain with the given id.
func (i *Index) Get(id string) (*Chain, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.chains[id]
	return c, ok
}

// Remove evicts a chain from the index.
func (i *Index) Remove(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.chains, id)
}

// List returns snapshots of all indexed chains.
func (i *Index) List() []Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Snapshot, 0, len(i.chains))
	for _, c := range i.chains {
		out = append(out, c.Snapshot())
	}
	return out
}
