// Package scraper walks a parsed HTML document and collects, in document
// order, every attribute value that references a URL.
package scraper

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/robots"
)

// Scrape returns the links of doc resolved against page, and the effective
// <base href> of the document. When directives is not nil, robots meta
// elements are fed into it in document order.
func Scrape(doc *html.Node, page link.PageContext, level int, directives *robots.Directives) ([]*link.Link, string) {
	root := rootElement(doc)
	if root == nil {
		return nil, ""
	}

	base := preliminary(root, directives)
	table := tableFor(level)

	var links []*link.Link
	walk(root, func(node *html.Node) visitResult {
		if node.Namespace != "" && node.Namespace != "svg" {
			return visitContinue
		}
		attrs := table[node.Data]
		if attrs == nil {
			return visitContinue
		}

		// element metadata is shared by every link of the element
		var source *link.Source
		for _, attr := range node.Attr {
			name := attrName(attr)
			if !attrs[name] {
				continue
			}
			for _, raw := range extractURLs(node, name, attr.Val) {
				if source == nil {
					source = &link.Source{
						TagName:  node.Data,
						Attrs:    attributeMap(node),
						Tag:      openingTag(node),
						Selector: selector(node),
						Text:     innerText(node),
						Base:     base,
					}
				}

				l := link.New()
				l.Source = *source
				l.Source.AttrName = name
				l.Source.AttrValue = attr.Val
				l.Source.Index = len(links)
				link.Resolve(l, raw, page)
				links = append(links, l)
			}
		}
		return visitContinue
	})

	return links, base
}

// preliminary finds the document base and feeds robots meta elements to
// directives. It stops at the first base only when directives is nil.
func preliminary(root *html.Node, directives *robots.Directives) string {
	var base string
	walk(root, func(node *html.Node) visitResult {
		if node.Namespace != "" {
			return visitContinue
		}
		switch node.Data {
		case "base":
			if base != "" {
				break
			}
			href, ok := getAttr(node, "href")
			href = strings.Trim(href, htmlSpace)
			if !ok || href == "" {
				break
			}
			base = href
			if directives == nil {
				return visitStop
			}

		case "meta":
			if directives == nil {
				break
			}
			name, hasName := getAttr(node, "name")
			content, hasContent := getAttr(node, "content")
			if hasName && hasContent && robots.IsBotName(name) {
				directives.Meta(name, content)
			}
		}
		return visitContinue
	})
	return base
}
