package fetcher

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/voyagen/streamvault/internal/models"
)

var (
	reTvgName   = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgID     = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo   = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup     = regexp.MustCompile(`group-title="([^"]*)"`)
	reCommaName = regexp.MustCompile(`,([^\n\r\t]*)`)
)

// ParseM3U reads an M3U playlist from r and returns one Source per entry.
// The provider stream id comes from tvg-id; entries without one fall back to
// the stream URL so repeated scans still key consistently. AccountID is left
// zero for the caller to fill in.
func ParseM3U(r io.Reader) ([]models.Source, error) {
	var sources []models.Source
	scanner := bufio.NewScanner(r)
	// Some providers emit very long EXTINF lines.
	const maxSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxSize)

	var extinfLine string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(strings.ToUpper(trimmed), "#EXTINF"):
			extinfLine = line
		case strings.HasPrefix(trimmed, "#"):
			// #EXTM3U header, #EXTVLCOPT and friends.
		case trimmed != "":
			// URL line.
			if extinfLine == "" {
				continue
			}
			name := sourceName(extinfLine)
			if name == "" {
				extinfLine = ""
				continue
			}
			streamID := matchFirst(reTvgID, extinfLine)
			if streamID == "" {
				streamID = trimmed
			}
			sources = append(sources, models.Source{
				StreamID:  streamID,
				Name:      name,
				Icon:      matchFirst(reTvgLogo, extinfLine),
				Category:  matchFirst(reGroup, extinfLine),
				URL:       trimmed,
				Qualities: QualityTags(name),
			})
			extinfLine = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// sourceName extracts the display name: tvg-name first, comma-alt second.
func sourceName(extinf string) string {
	if n := matchFirst(reTvgName, extinf); n != "" {
		return n
	}
	return matchFirst(reCommaName, extinf)
}
