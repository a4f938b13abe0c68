package scraper

import (
	"strings"

	"golang.org/x/net/html"
)

const htmlSpace = "\t\n\f\r "

func isSpace(c byte) bool {
	return strings.IndexByte(htmlSpace, c) >= 0
}

// attrName is the attribute key, prefixed by its namespace for foreign content
func attrName(attr html.Attribute) string {
	if attr.Namespace != "" {
		return attr.Namespace + ":" + attr.Key
	}
	return attr.Key
}

func getAttr(node *html.Node, name string) (string, bool) {
	for _, attr := range node.Attr {
		if attrName(attr) == name {
			return attr.Val, true
		}
	}
	return "", false
}

// extractURLs returns the candidate URL strings carried by one attribute
func extractURLs(node *html.Node, name, value string) []string {
	switch {
	case name == "content" && node.Data == "meta":
		httpEquiv, _ := getAttr(node, "http-equiv")
		if !strings.EqualFold(strings.Trim(httpEquiv, htmlSpace), "refresh") {
			return nil
		}
		if refresh, ok := parseMetaRefresh(value); ok {
			return []string{refresh}
		}
		return nil

	case name == "ping":
		return parsePing(value)

	case name == "srcset":
		return parseSrcset(value)
	}

	value = strings.Trim(value, htmlSpace)
	if value == "" {
		return nil
	}
	return []string{value}
}

// parseMetaRefresh extracts the URL of a "<seconds>; url=<url>" value
func parseMetaRefresh(content string) (string, bool) {
	s := strings.TrimLeft(content, htmlSpace)

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return "", false
	}
	s = strings.TrimLeft(s[i:], htmlSpace)
	if s == "" {
		return "", false
	}
	if s[0] == ';' || s[0] == ',' {
		s = strings.TrimLeft(s[1:], htmlSpace)
	}

	if len(s) >= 3 && strings.EqualFold(s[:3], "url") {
		rest := strings.TrimLeft(s[3:], htmlSpace)
		if strings.HasPrefix(rest, "=") {
			s = strings.TrimLeft(rest[1:], htmlSpace)
		}
	}

	if s != "" && (s[0] == '"' || s[0] == '\'') {
		quote := s[0]
		s = s[1:]
		if end := strings.IndexByte(s, quote); end >= 0 {
			s = s[:end]
		}
	}

	s = strings.Trim(s, htmlSpace)
	if s == "" {
		return "", false
	}
	return s, true
}

func parsePing(value string) []string {
	var urls []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Trim(part, htmlSpace)
		if part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}

// parseSrcset returns the image URLs of a srcset descriptor list
func parseSrcset(value string) []string {
	var urls []string
	i := 0
	for {
		for i < len(value) && (isSpace(value[i]) || value[i] == ',') {
			i++
		}
		if i >= len(value) {
			return urls
		}

		start := i
		for i < len(value) && !isSpace(value[i]) {
			i++
		}
		candidate := value[start:i]

		if strings.HasSuffix(candidate, ",") {
			candidate = strings.TrimRight(candidate, ",")
		} else {
			// descriptors run up to the next comma outside parentheses
			inParens := false
		descriptors:
			for i < len(value) {
				switch value[i] {
				case '(':
					inParens = true
				case ')':
					inParens = false
				case ',':
					if !inParens {
						i++
						break descriptors
					}
				}
				i++
			}
		}

		if candidate != "" {
			urls = append(urls, candidate)
		}
	}
}
