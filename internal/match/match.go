// Package match resolves user supplied names against a list of known names:
// exact key, then substring, then difflib-style close matches.
package match

import (
	"sort"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	// Cutoff is the minimal similarity for a close match.
	Cutoff = 0.6
	// MaxClose is how many close matches are considered.
	MaxClose = 3
	// MaxAlternatives is how many alternatives accompany a substring match.
	MaxAlternatives = 2
)

// Normalize lowercases s and drops everything except letters, digits and spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func chars(s string) []string { return strings.Split(s, "") }

// Score is the SequenceMatcher ratio of the normalized forms of a and b, in [0, 1].
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	return difflib.NewMatcher(chars(na), chars(nb)).Ratio()
}

// Find looks query up in items. name returns the display name of an item.
// The best item is returned together with up to two alternatives. ok is false
// when nothing matches; an empty query never matches.
func Find[T any](items []T, name func(T) string, query string) (best T, alternatives []T, ok bool) {
	q := strings.TrimSpace(Normalize(query))
	if q == "" || len(items) == 0 {
		return best, nil, false
	}

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = Normalize(name(it))
		if keys[i] == q {
			return it, nil, true
		}
	}

	var hits []T
	for i, k := range keys {
		if strings.Contains(k, q) {
			hits = append(hits, items[i])
		}
	}
	if len(hits) > 0 {
		rest := hits[1:]
		if len(rest) > MaxAlternatives {
			rest = rest[:MaxAlternatives]
		}
		return hits[0], rest, true
	}

	near := closeMatches(keys, q, MaxClose, Cutoff)
	if len(near) == 0 {
		return best, nil, false
	}
	best = items[near[0]]
	for _, i := range near[1:] {
		alternatives = append(alternatives, items[i])
	}
	return best, alternatives, true
}

// closeMatches returns indexes of up to n keys whose ratio to q is at least
// cutoff, best first. Equal scores keep the order of keys.
func closeMatches(keys []string, q string, n int, cutoff float64) []int {
	type scored struct {
		idx   int
		score float64
	}
	m := difflib.NewMatcher(nil, chars(q))
	var found []scored
	for i, k := range keys {
		m.SetSeq1(chars(k))
		if m.RealQuickRatio() >= cutoff && m.QuickRatio() >= cutoff {
			if r := m.Ratio(); r >= cutoff {
				found = append(found, scored{i, r})
			}
		}
	}
	sort.SliceStable(found, func(a, b int) bool { return found[a].score > found[b].score })
	if len(found) > n {
		found = found[:n]
	}
	out := make([]int, len(found))
	for i, s := range found {
		out[i] = s.idx
	}
	return out
}

// Suggest returns up to limit names for autocompletion: names containing the
// query first, in the given order, then names similar to it.
func Suggest(names []string, query string, limit int) []string {
	q := strings.TrimSpace(Normalize(query))
	if q == "" {
		if len(names) > limit {
			return names[:limit]
		}
		return names
	}
	var out []string
	used := make(map[int]bool)
	for i, n := range names {
		if len(out) == limit {
			return out
		}
		if strings.Contains(Normalize(n), q) {
			out = append(out, n)
			used[i] = true
		}
	}
	rest := make([]int, 0, len(names))
	scores := make(map[int]float64, len(names))
	for i, n := range names {
		if used[i] {
			continue
		}
		if s := Score(n, q); s >= 0.4 {
			rest = append(rest, i)
			scores[i] = s
		}
	}
	sort.SliceStable(rest, func(a, b int) bool { return scores[rest[a]] > scores[rest[b]] })
	for _, i := range rest {
		if len(out) == limit {
			break
		}
		out = append(out, names[i])
	}
	return out
}
