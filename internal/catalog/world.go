package catalog

import (
	"regexp"
	"strings"
)

// DefaultWorld is used when no pattern matches the route name.
const DefaultWorld = "Watopia"

type worldPattern struct {
	world    string
	patterns []string
}

// порядок важен: первый совпавший мир выигрывает
var worldPatterns = []worldPattern{
	{"Makuri", []string{"makuri", "neokyo", "urukazi", "castle", "temple", "rooftop"}},
	{"France", []string{"france", "ven-top", "casse-pattes", "petit", "ventoux"}},
	{"London", []string{"london", "greater london", "london loop", "leith", "box hill", "surrey"}},
	{"Yorkshire", []string{"yorkshire", "harrogate", "royal pump"}},
	{"Innsbruck", []string{"innsbruck", "lutscher"}},
	{"Richmond", []string{"richmond"}},
	{"Paris", []string{"paris", "champs", "lutece"}},
	{"Scotland", []string{"glasgow", "scotland", "sgurr", "loch"}},
	{"New York", []string{"new york", `\bny\b`, "central park", "astoria"}},
}

var shortWord = regexp.MustCompile(`\bny\b`)

// WorldFor guesses the Zwift world from a route name.
func WorldFor(routeName string) string {
	lower := strings.ToLower(routeName)
	for _, wp := range worldPatterns {
		for _, p := range wp.patterns {
			if p == `\bny\b` {
				if shortWord.MatchString(lower) {
					return wp.world
				}
				continue
			}
			if strings.Contains(lower, p) {
				return wp.world
			}
		}
	}
	return DefaultWorld
}

// KnownWorlds lists every world WorldFor can return.
func KnownWorlds() []string {
	out := []string{DefaultWorld}
	for _, wp := range worldPatterns {
		out = append(out, wp.world)
	}
	return out
}
