package fetcher

import "strings"

// qualityMarkers maps name tokens to canonical quality tags, best first.
var qualityMarkers = []struct {
	token string
	tag   string
}{
	{"UHD", "2160p"},
	{"4K", "2160p"},
	{"FHD", "1080p"},
	{"1080P", "1080p"},
	{"HD", "720p"},
	{"720P", "720p"},
	{"SD", "480p"},
	{"480P", "480p"},
}

// QualityTags derives quality tags from markers in a source name, e.g.
// "ESPN FHD" yields ["1080p"]. Names without a marker get no tags.
func QualityTags(name string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToUpper(name)) {
		tok = strings.Trim(tok, "[]()|")
		for _, m := range qualityMarkers {
			if tok == m.token && !seen[m.tag] {
				seen[m.tag] = true
				tags = append(tags, m.tag)
			}
		}
	}
	return tags
}
