package scraper

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// visitResult tells the tree walk whether to keep going
type visitResult int

const (
	visitContinue visitResult = iota
	visitStop
)

// walk visits node and its element descendants in pre-order
func walk(node *html.Node, visit func(*html.Node) visitResult) visitResult {
	if node.Type == html.ElementNode {
		if visit(node) == visitStop {
			return visitStop
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if walk(child, visit) == visitStop {
			return visitStop
		}
	}
	return visitContinue
}

// rootElement skips the doctype and returns the first node that has children
func rootElement(doc *html.Node) *html.Node {
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		if child.FirstChild != nil {
			return child
		}
	}
	return nil
}

// selector builds a CSS selector addressing node from the document root
func selector(node *html.Node) string {
	var segments []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		segment := n.Data
		switch n.Data {
		case "html", "head", "body":
		default:
			segment += ":nth-child(" + strconv.Itoa(elementPosition(n)) + ")"
		}
		segments = append(segments, segment)
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

// elementPosition is the 1-based index of node among its element siblings
func elementPosition(node *html.Node) int {
	position := 1
	for sibling := node.PrevSibling; sibling != nil; sibling = sibling.PrevSibling {
		if sibling.Type == html.ElementNode {
			position++
		}
	}
	return position
}

// openingTag reconstructs the start tag of node
func openingTag(node *html.Node) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(node.Data)
	for _, attr := range node.Attr {
		sb.WriteByte(' ')
		sb.WriteString(attrName(attr))
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(attr.Val))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	return sb.String()
}

// innerText returns nil for an element without children, otherwise its
// descendant text with whitespace collapsed
func innerText(node *html.Node) *string {
	if node.FirstChild == nil {
		return nil
	}

	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(node)

	text := strings.Join(strings.Fields(sb.String()), " ")
	return &text
}

func attributeMap(node *html.Node) map[string]string {
	attrs := make(map[string]string, len(node.Attr))
	for _, attr := range node.Attr {
		name := attrName(attr)
		if _, seen := attrs[name]; !seen {
			attrs[name] = attr.Val
		}
	}
	return attrs
}
