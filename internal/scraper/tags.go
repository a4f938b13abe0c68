package scraper

// MaxFilterLevel is the level covering every known link-bearing location
const MaxFilterLevel = 3

// tags maps each filter level to element name -> attributes that may carry a URL.
// Every level includes the locations of the levels below it.
var tags = buildTags()

// imageLocations are the locations a "noimageindex" robots directive excludes
var imageLocations = map[string]map[string]bool{
	"img":    {"src": true, "srcset": true},
	"image":  {"xlink:href": true, "href": true},
	"input":  {"src": true},
	"source": {"srcset": true},
	"video":  {"poster": true},
}

func buildTags() [MaxFilterLevel + 1]map[string]map[string]bool {
	levels := [MaxFilterLevel + 1]map[string][]string{
		// clickable links
		{
			"a":     {"href"},
			"area":  {"href"},
			"image": {"xlink:href", "href"},
		},
		// media, frames and meta refreshes
		{
			"audio":    {"src"},
			"embed":    {"src"},
			"frame":    {"src", "longdesc"},
			"iframe":   {"src", "longdesc"},
			"img":      {"src", "srcset", "longdesc"},
			"input":    {"src"},
			"menuitem": {"icon"},
			"meta":     {"content"},
			"object":   {"data"},
			"source":   {"src", "srcset"},
			"track":    {"src"},
			"video":    {"poster", "src"},
		},
		// stylesheets, scripts and forms
		{
			"button": {"formaction"},
			"form":   {"action"},
			"input":  {"formaction"},
			"link":   {"href"},
			"script": {"src"},
		},
		// metadata
		{
			"a":          {"ping"},
			"applet":     {"archive", "code", "codebase", "src"},
			"area":       {"ping"},
			"blockquote": {"cite"},
			"body":       {"background"},
			"del":        {"cite"},
			"head":       {"profile"},
			"html":       {"manifest"},
			"ins":        {"cite"},
			"object":     {"classid", "codebase"},
			"q":          {"cite"},
		},
	}

	var result [MaxFilterLevel + 1]map[string]map[string]bool
	current := map[string]map[string]bool{}
	for level, additions := range levels {
		for tag, attrs := range additions {
			if current[tag] == nil {
				current[tag] = map[string]bool{}
			}
			for _, attr := range attrs {
				current[tag][attr] = true
			}
		}
		result[level] = copyTable(current)
	}
	return result
}

func copyTable(table map[string]map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(table))
	for tag, attrs := range table {
		out[tag] = make(map[string]bool, len(attrs))
		for attr := range attrs {
			out[tag][attr] = true
		}
	}
	return out
}

func tableFor(level int) map[string]map[string]bool {
	if level < 0 {
		level = 0
	}
	if level > MaxFilterLevel {
		level = MaxFilterLevel
	}
	return tags[level]
}

// IsSupported reports whether the filter level treats tag[attr] as link-bearing
func IsSupported(level int, tag, attr string) bool {
	return tableFor(level)[tag][attr]
}

// IsImageLocation reports whether tag[attr] references an image
func IsImageLocation(tag, attr string) bool {
	return imageLocations[tag][attr]
}
