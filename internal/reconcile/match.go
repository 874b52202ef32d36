package reconcile

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/voyagen/streamvault/internal/models"
)

// Matcher decides which channel a provider source belongs to.
type Matcher interface {
	// Match returns the best channel for sourceName with a confidence in
	// [0,1], or models.ErrNotFound when no channel is comparable at all.
	// The caller applies the confidence threshold.
	Match(ctx context.Context, sourceName string, channels []models.Channel) (*models.Channel, float64, error)
}

var (
	qualitySuffix = regexp.MustCompile(`(?i)\b(uhd|fhd|hd|sd|4k|8k|1080p?|720p?|480p?)\b`)
	countryPrefix = regexp.MustCompile(`(?i)^[a-z]{2,3}\s*[:|\-]\s*`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9 ]+`)
	spaces        = regexp.MustCompile(`\s+`)

	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize canonicalizes a channel or source name for comparison:
// lowercase, diacritics folded, country prefix ("US:", "uk |") and quality
// markers stripped, punctuation removed, whitespace collapsed.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = countryPrefix.ReplaceAllString(s, "")
	s = qualitySuffix.ReplaceAllString(s, " ")
	s = nonAlnum.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DiceSimilarity is the Sørensen–Dice coefficient over character bigrams.
// Returns 1 for identical strings, 0 for strings with no bigrams in common.
func DiceSimilarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	common := 0
	for g, n := range ba {
		if m := bb[g]; m > 0 {
			if n < m {
				common += n
			} else {
				common += m
			}
		}
	}
	totalA, totalB := 0, 0
	for _, n := range ba {
		totalA += n
	}
	for _, n := range bb {
		totalB += n
	}
	return 2 * float64(common) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	out := make(map[string]int)
	r := []rune(s)
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

// NameMatcher matches by normalized name equality, falling back to bigram
// similarity. It is the default strategy and needs no external services.
type NameMatcher struct{}

func (NameMatcher) Match(_ context.Context, sourceName string, channels []models.Channel) (*models.Channel, float64, error) {
	if len(channels) == 0 {
		return nil, 0, models.ErrNotFound
	}
	needle := Normalize(sourceName)

	var best *models.Channel
	bestScore := -1.0
	for i := range channels {
		ch := &channels[i]
		candidate := Normalize(ch.Name)
		var score float64
		if needle != "" && needle == candidate {
			score = 1.0
		} else {
			score = DiceSimilarity(needle, candidate)
		}
		if score > bestScore {
			bestScore = score
			best = ch
		}
	}
	return best, bestScore, nil
}
