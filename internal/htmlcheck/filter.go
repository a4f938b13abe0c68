package htmlcheck

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/robots"
	"github.com/alvmarrod/link-weaver/internal/scraper"
)

// FilterResult is the verdict of a custom filter
type FilterResult struct {
	excluded bool
	reason   string
}

// Include keeps the link
func Include() FilterResult {
	return FilterResult{}
}

// Exclude drops the link. An empty reason reports "custom".
func Exclude(reason string) FilterResult {
	if reason == "" {
		reason = link.ReasonCustom
	}
	return FilterResult{excluded: true, reason: reason}
}

// Excluded reports whether the link is dropped, and why
func (r FilterResult) Excluded() (bool, string) {
	return r.excluded, r.reason
}

// FilterFunc is a caller supplied last step of the exclusion chain
type FilterFunc func(l *link.Link) FilterResult

// keywordMatcher matches rebased URLs against one excluded keyword
type keywordMatcher struct {
	keyword string
	pattern glob.Glob
}

func (m keywordMatcher) match(s string) bool {
	if m.pattern != nil {
		return m.pattern.Match(s)
	}
	return strings.Contains(s, m.keyword)
}

// filter is the exclusion chain applied to every scraped link
type filter struct {
	level           int
	excludeExternal bool
	excludeInternal bool
	excludeSamePage bool
	schemes         map[string]bool
	keywords        []keywordMatcher
	honorRobots     bool
	custom          FilterFunc
}

// newFilter compiles the exclusion chain from cfg. Keywords holding glob meta
// characters are compiled as globs, the rest match as substrings.
func newFilter(cfg *config.Config) (*filter, error) {
	f := &filter{
		level:           cfg.FilterLevel,
		excludeExternal: cfg.ExcludeExternalLinks,
		excludeInternal: cfg.ExcludeInternalLinks,
		excludeSamePage: cfg.ExcludeLinksToSamePage,
		schemes:         make(map[string]bool, len(cfg.ExcludedSchemes)),
		honorRobots:     cfg.HonorRobotExclusions,
	}

	for _, scheme := range cfg.ExcludedSchemes {
		f.schemes[strings.ToLower(strings.TrimSuffix(scheme, ":"))] = true
	}

	for _, keyword := range cfg.ExcludedKeywords {
		if keyword == "" {
			continue
		}
		m := keywordMatcher{keyword: keyword}
		if strings.ContainsAny(keyword, "*?[{") {
			pattern, err := glob.Compile(keyword)
			if err != nil {
				return nil, fmt.Errorf("invalid excluded keyword %q: %w", keyword, err)
			}
			m.pattern = pattern
		}
		f.keywords = append(f.keywords, m)
	}

	return f, nil
}

// exclusionReason runs the chain in order and returns the first matching
// reason, or "" when the link is kept
func (f *filter) exclusionReason(l *link.Link, directives *robots.Directives) string {
	if !scraper.IsSupported(f.level, l.Source.TagName, l.Source.AttrName) {
		return link.ReasonUnsupportedHTMLLocation
	}

	// classification only exists for resolved links
	if l.Valid() {
		if f.excludeExternal && !l.Internal {
			return link.ReasonExternal
		}
		if f.excludeInternal && l.Internal {
			return link.ReasonInternal
		}
		if f.excludeSamePage && l.SamePage {
			return link.ReasonSamePage
		}
	}

	if scheme := linkScheme(l); scheme != "" && f.schemes[scheme] {
		return link.ReasonScheme
	}

	if f.honorRobots && directives != nil {
		if directives.OneIs(robots.NoFollow, robots.NoIndex) {
			return link.ReasonRobots
		}
		if directives.Is(robots.NoImageIndex) && scraper.IsImageLocation(l.Source.TagName, l.Source.AttrName) {
			return link.ReasonRobots
		}
		if hasNoFollowRel(l) {
			return link.ReasonRobots
		}
	}

	if len(f.keywords) > 0 {
		target := l.RebasedString()
		for _, m := range f.keywords {
			if m.match(target) {
				return link.ReasonKeyword
			}
		}
	}

	if f.custom != nil {
		if excluded, reason := f.custom(l).Excluded(); excluded {
			return reason
		}
	}

	return ""
}

func linkScheme(l *link.Link) string {
	switch {
	case l.URL.Rebased != nil:
		return strings.ToLower(l.URL.Rebased.Scheme)
	case l.URL.Parsed != nil:
		return strings.ToLower(l.URL.Parsed.Scheme)
	}
	return ""
}

// hasNoFollowRel reports whether the rel attribute carries the nofollow link type
func hasNoFollowRel(l *link.Link) bool {
	for _, token := range strings.Fields(l.Source.Attrs["rel"]) {
		if strings.EqualFold(token, robots.NoFollow) {
			return true
		}
	}
	return false
}
