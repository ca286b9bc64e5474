package tools

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
)

const (
	matchExact    = 100
	matchPrefix   = 70
	matchContains = 45

	bonusSeries  = 20
	bonusMovie   = 15
	bonusEpisode = 10

	minTokenTermLen = 3
)

// normalizeForMatch folds compatibility forms, drops combining marks,
// lowercases, and collapses everything outside [a-z0-9] into single spaces.
func normalizeForMatch(value string) string {
	folder := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(folder, value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(folded)

	var out strings.Builder
	pendingSpace := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSpace && out.Len() > 0 {
				out.WriteByte(' ')
			}
			pendingSpace = false
			out.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return out.String()
}

func scoreMatch(item jellyfin.Item, normalizedQuery string) int {
	if normalizedQuery == "" {
		return 0
	}
	name := normalizeForMatch(item.Name)

	var score int
	switch {
	case name == normalizedQuery:
		score = matchExact
	case strings.HasPrefix(name, normalizedQuery):
		score = matchPrefix
	case strings.Contains(name, normalizedQuery):
		score = matchContains
	default:
		return 0
	}

	switch item.Type {
	case "Series":
		score += bonusSeries
	case "Movie":
		score += bonusMovie
	case "Episode":
		score += bonusEpisode
	}
	return score
}

// chooseBestMatch returns the highest scoring item; the first listed wins ties.
func chooseBestMatch(items []jellyfin.Item, query string) (jellyfin.Item, bool) {
	normalized := normalizeForMatch(query)
	type scored struct {
		item  jellyfin.Item
		score int
	}
	ranked := make([]scored, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, scored{item: item, score: scoreMatch(item, normalized)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) == 0 || ranked[0].score <= 0 {
		return jellyfin.Item{}, false
	}
	return ranked[0].item, true
}

// buildSearchTerms derives the server-side searches tried for one query:
// the raw text, its normalized form, the normalized form without spaces and
// its first token when long enough. Duplicates are dropped, order is kept.
func buildSearchTerms(query string) []string {
	var terms []string
	seen := map[string]bool{}
	add := func(term string) {
		if strings.TrimSpace(term) == "" || seen[term] {
			return
		}
		seen[term] = true
		terms = append(terms, term)
	}

	normalized := normalizeForMatch(query)
	add(query)
	add(normalized)
	add(strings.ReplaceAll(normalized, " ", ""))
	if fields := strings.Fields(normalized); len(fields) > 0 && len(fields[0]) >= minTokenTermLen {
		add(fields[0])
	}
	return terms
}
