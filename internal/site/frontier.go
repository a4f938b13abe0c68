package site

import (
	"net/url"
	"sync"

	"github.com/alvmarrod/link-weaver/internal/link"
)

// Frontier implements a thread-safe BFS queue of pages with deduplication
type Frontier struct {
	mu      sync.Mutex
	items   []*url.URL
	visited map[string]bool // key: normalized URL
	stopped bool
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	return &Frontier{
		items:   make([]*url.URL, 0),
		visited: make(map[string]bool),
	}
}

// Push adds a page if it was never pushed before
// Returns true if added, false if duplicate or stopped
func (f *Frontier) Push(u *url.URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return false
	}

	key := link.Normalize(u)
	if f.visited[key] {
		return false
	}

	// Fragments never select another document
	page := *u
	page.Fragment = ""
	page.RawFragment = ""

	f.visited[key] = true
	f.items = append(f.items, &page)
	return true
}

// Seen marks a page as visited without queueing it, for redirect targets
func (f *Frontier) Seen(u *url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited[link.Normalize(u)] = true
}

// Pop removes and returns the oldest page
// Returns false once the frontier is empty or stopped
func (f *Frontier) Pop() (*url.URL, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped || len(f.items) == 0 {
		return nil, false
	}
	u := f.items[0]
	f.items = f.items[1:]
	return u, true
}

// Size returns the number of pages waiting
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Stop refuses further pushes and makes Pop report an empty frontier
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}
