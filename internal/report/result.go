// Package report aggregates link outcomes per page and exports them.
package report

import (
	"slices"
	"strings"
	"sync"

	"github.com/alvmarrod/link-weaver/internal/link"
)

// Broken store the broken link, the reason and the element holding it.
type Broken struct {
	Link     string `json:"link"`
	Reason   string `json:"reason"`
	Code     int    `json:"code,omitempty"`
	Selector string `json:"selector,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
}

// Page store the outcome of scanning one page.
type Page struct {
	URL       string   `json:"url"`
	Title     string   `json:"title,omitempty"`
	Error     string   `json:"error,omitempty"`
	Checked   int      `json:"checked"`
	Excluded  int      `json:"excluded"`
	Cancelled int      `json:"cancelled,omitempty"`
	Broken    []Broken `json:"broken,omitempty"`
}

// Result store the result of a run, one entry per scanned page.
type Result struct {
	mu    sync.Mutex
	Seed  string           `json:"seed"`
	Pages map[string]*Page `json:"pages"`
}

// NewResult creates an empty result for a run started at seed.
func NewResult(seed string) *Result {
	return &Result{
		Seed:  seed,
		Pages: map[string]*Page{},
	}
}

// page returns the entry of pageURL, creating it. Callers hold mu.
func (result *Result) page(pageURL string) *Page {
	p, ok := result.Pages[pageURL]
	if !ok {
		p = &Page{URL: pageURL}
		result.Pages[pageURL] = p
	}
	return p
}

// AddLink records a checked, invalid or cancelled link found on pageURL.
func (result *Result) AddLink(pageURL string, l *link.Link) {
	result.mu.Lock()
	defer result.mu.Unlock()

	p := result.page(pageURL)
	if l.Cancelled {
		p.Cancelled++
		return
	}
	p.Checked++
	if !l.Broken {
		return
	}
	p.Broken = append(p.Broken, Broken{
		Link:     l.RebasedString(),
		Reason:   l.BrokenReason,
		Code:     l.HTTP.StatusCode,
		Selector: l.Source.Selector,
		Cached:   l.HTTP.Cached,
	})
}

// AddExcluded counts a link of pageURL dropped by the exclusion chain.
func (result *Result) AddExcluded(pageURL string) {
	result.mu.Lock()
	defer result.mu.Unlock()
	result.page(pageURL).Excluded++
}

// SetTitle stores the document title of pageURL.
func (result *Result) SetTitle(pageURL, title string) {
	result.mu.Lock()
	defer result.mu.Unlock()
	result.page(pageURL).Title = title
}

// AddPageError records that pageURL could not be scanned.
func (result *Result) AddPageError(pageURL string, err error) {
	result.mu.Lock()
	defer result.mu.Unlock()
	result.page(pageURL).Error = err.Error()
}

// BrokenCount returns the number of broken links over all pages.
func (result *Result) BrokenCount() int {
	result.mu.Lock()
	defer result.mu.Unlock()
	n := 0
	for _, p := range result.Pages {
		n += len(p.Broken)
	}
	return n
}

// List returns the pages ordered by URL, their broken links ordered by link.
func (result *Result) List() []*Page {
	result.mu.Lock()
	defer result.mu.Unlock()

	result.sort()
	pages := make([]*Page, 0, len(result.Pages))
	for _, p := range result.Pages {
		pages = append(pages, p)
	}
	slices.SortFunc(pages, func(a, b *Page) int {
		return strings.Compare(a.URL, b.URL)
	})
	return pages
}

func (result *Result) sort() {
	for _, p := range result.Pages {
		slices.SortStableFunc(p.Broken, func(a, b Broken) int {
			return strings.Compare(a.Link, b.Link)
		})
	}
}
