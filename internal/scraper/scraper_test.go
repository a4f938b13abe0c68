package scraper

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/robots"
)

const testDocument = `<!DOCTYPE html>
<html>
<head>
  <meta name="robots" content="noindex">
  <meta http-equiv="refresh" content="5; url=redirect.html">
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <!-- comment -->
  <p>Intro <a href=" /a.html "> First   <b>link</b> </a></p>
  <img src="img.png" srcset="small.png 1x, large.png 2x">
  <a href="">empty</a>
  <a href="b.html" ping="/p1, /p2">B</a>
  <base href="/x/">
  <a href="y.html">Y</a>
</body>
</html>`

func parse(t *testing.T, doc string) *html.Node {
	t.Helper()
	node, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return node
}

func testPage(t *testing.T) link.PageContext {
	t.Helper()
	pageURL, err := url.Parse("http://example.com/dir/page.html")
	require.NoError(t, err)
	return link.TransitiveAuth(pageURL, nil)
}

func originals(links []*link.Link) []string {
	var out []string
	for _, l := range links {
		out = append(out, l.URL.Original)
	}
	return out
}

func TestScrapeLevels(t *testing.T) {
	tests := []struct {
		level    int
		expected []string
	}{
		{level: 0, expected: []string{"/a.html", "b.html", "y.html"}},
		{level: 1, expected: []string{"redirect.html", "/a.html", "img.png", "small.png", "large.png", "b.html", "y.html"}},
		{level: 3, expected: []string{"redirect.html", "style.css", "/a.html", "img.png", "small.png", "large.png", "b.html", "/p1", "/p2", "y.html"}},
	}

	for _, tt := range tests {
		links, base := Scrape(parse(t, testDocument), testPage(t), tt.level, nil)
		assert.Equal(t, "/x/", base)
		assert.Equal(t, tt.expected, originals(links), "level %d", tt.level)

		for i, l := range links {
			assert.Equal(t, i, l.Source.Index, "indexes are dense and in document order")
		}
	}
}

func TestScrapeSourceMetadata(t *testing.T) {
	doc := parse(t, testDocument)
	links, _ := Scrape(doc, testPage(t), MaxFilterLevel, nil)
	require.Len(t, links, 10)

	first := links[2]
	assert.Equal(t, "a", first.Source.TagName)
	assert.Equal(t, "href", first.Source.AttrName)
	assert.Equal(t, " /a.html ", first.Source.AttrValue)
	assert.Equal(t, `<a href=" /a.html ">`, first.Source.Tag)
	assert.Equal(t, "html > body > p:nth-child(1) > a:nth-child(1)", first.Source.Selector)
	require.NotNil(t, first.Source.Text)
	assert.Equal(t, "First link", *first.Source.Text)
	assert.Equal(t, "/x/", first.Source.Base)
	assert.Equal(t, "http://example.com/a.html", first.URL.Rebased.String())

	img := links[3]
	assert.Nil(t, img.Source.Text, "elements without children have no text")
	assert.Equal(t, "img.png", img.Source.Attrs["src"])

	last := links[9]
	assert.Equal(t, "http://example.com/x/y.html", last.URL.Rebased.String())
	assert.Equal(t, "html > body > a:nth-child(6)", last.Source.Selector)

	ping := links[7]
	assert.Equal(t, "ping", ping.Source.AttrName)
	assert.Equal(t, "/p1, /p2", ping.Source.AttrValue)
	assert.Equal(t, "http://example.com/p1", ping.URL.Rebased.String())
}

func TestScrapeSelectorsAddressSourceElement(t *testing.T) {
	doc := parse(t, testDocument)
	links, _ := Scrape(doc, testPage(t), MaxFilterLevel, nil)
	query := goquery.NewDocumentFromNode(doc)

	for _, l := range links {
		selection := query.Find(l.Source.Selector)
		require.Equal(t, 1, selection.Length(), l.Source.Selector)
		assert.Equal(t, l.Source.TagName, goquery.NodeName(selection))
		value, ok := selection.Attr(l.Source.AttrName)
		assert.True(t, ok)
		assert.Equal(t, l.Source.AttrValue, value)
	}
}

func TestScrapeRobotsMeta(t *testing.T) {
	doc := parse(t, `<html><head><base href="/first/"><base href="/second/"></head>
<body><meta name="robots" content="nofollow"><meta name="GoogleBot" content="noimageindex">
<meta name="description" content="noindex"></body></html>`)

	directives := robots.New("link-weaver")
	_, base := Scrape(doc, testPage(t), MaxFilterLevel, directives)
	assert.Equal(t, "/first/", base)
	assert.True(t, directives.Is(robots.NoFollow), "meta elements after the base are still collected")
	assert.False(t, directives.Is(robots.NoImageIndex), "directive for another bot")
	assert.False(t, directives.Is(robots.NoIndex))
}

func TestScrapeBaseWithoutHref(t *testing.T) {
	doc := parse(t, `<html><head><base target="_blank"><base href="  "><base href="/real/"></head><body><a href="z">z</a></body></html>`)
	links, base := Scrape(doc, testPage(t), 0, nil)
	assert.Equal(t, "/real/", base)
	require.Len(t, links, 1)
	assert.Equal(t, "http://example.com/real/z", links[0].URL.Rebased.String())
}

func TestScrapeMetaRefresh(t *testing.T) {
	doc := parse(t, `<html><head><meta http-equiv="refresh" content="5; url=redirect.html"></head><body></body></html>`)
	links, _ := Scrape(doc, testPage(t), 1, nil)
	require.Len(t, links, 1)
	assert.Equal(t, "redirect.html", links[0].URL.Original)
	assert.Equal(t, "content", links[0].Source.AttrName)
}

func TestScrapeNoLinks(t *testing.T) {
	links, base := Scrape(parse(t, `<html><body><p>nothing here</p></body></html>`), testPage(t), MaxFilterLevel, nil)
	assert.Empty(t, links)
	assert.Empty(t, base)
}

func TestScrapeSVGImage(t *testing.T) {
	doc := parse(t, `<html><body><svg><image xlink:href="pic.svg"></image></svg></body></html>`)
	links, _ := Scrape(doc, testPage(t), 0, nil)
	require.Len(t, links, 1)
	assert.Equal(t, "xlink:href", links[0].Source.AttrName)
	assert.Equal(t, "pic.svg", links[0].URL.Original)
}

func TestParseMetaRefresh(t *testing.T) {
	tests := []struct {
		content  string
		expected string
		ok       bool
	}{
		{content: "5; url=redirect.html", expected: "redirect.html", ok: true},
		{content: "0;URL='quoted.html'", expected: "quoted.html", ok: true},
		{content: `  3 , url = "spaced.html" `, expected: "spaced.html", ok: true},
		{content: "1; plain.html", expected: "plain.html", ok: true},
		{content: "10", ok: false},
		{content: "url=missing-delay.html", ok: false},
		{content: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := parseMetaRefresh(tt.content)
		assert.Equal(t, tt.ok, ok, tt.content)
		assert.Equal(t, tt.expected, got, tt.content)
	}
}

func TestParseSrcset(t *testing.T) {
	tests := map[string][]string{
		"a.png":                               {"a.png"},
		"a.png 1x, b.png 2x":                  {"a.png", "b.png"},
		" a.png 100w,b.png 200w ":             {"a.png", "b.png"},
		"a.png, b.png":                        {"a.png", "b.png"},
		"data:image/png;base64,xyz 1x, c.png": {"data:image/png;base64,xyz", "c.png"},
		"a.png (max-width: 1px, 2px), b.png":  {"a.png", "b.png"},
		"":                                    nil,
	}
	for value, expected := range tests {
		assert.Equal(t, expected, parseSrcset(value), value)
	}
}

func TestParsePing(t *testing.T) {
	assert.Equal(t, []string{"/p1", "/p2"}, parsePing(" /p1 ,, /p2 "))
	assert.Nil(t, parsePing(" , "))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(0, "a", "href"))
	assert.False(t, IsSupported(0, "img", "src"))
	assert.True(t, IsSupported(1, "img", "src"))
	assert.False(t, IsSupported(1, "link", "href"))
	assert.True(t, IsSupported(2, "link", "href"))
	assert.True(t, IsSupported(3, "a", "ping"))
	assert.True(t, IsSupported(99, "q", "cite"))
	assert.True(t, IsImageLocation("img", "srcset"))
	assert.False(t, IsImageLocation("a", "href"))
}
