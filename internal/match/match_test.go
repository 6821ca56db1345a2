package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named struct{ Name string }

func nameOf(n named) string { return n.Name }

var fixture = func() []named {
	var out []named
	for _, s := range []string{
		"Volcano Circuit", "Volcano Circuit CCW", "Volcano Flat", "Tempus Fugit",
		"Tick Tock", "Road to Sky", "Mountain Route", "Greater London Flat",
		"Greatest London Flat", "London Loop", "Ven-Top", "Innsbruckring",
		"Lutscher", "Champs-Élysées", "Sgurr Strats", "Mont Ventoux", "Alpe du Zwift",
	} {
		out = append(out, named{s})
	}
	return out
}()

func TestNormalize(t *testing.T) {
	assert.Equal(t, "champsélysées", Normalize("Champs-Élysées"))
	assert.Equal(t, "road to sky", Normalize("Road to Sky!"))
	assert.Equal(t, "venttop", Normalize("Vent'Top"))
	assert.Equal(t, "", Normalize("--!!"))
}

func TestFindExact(t *testing.T) {
	for _, it := range fixture {
		got, alts, ok := Find(fixture, nameOf, it.Name)
		require.True(t, ok, it.Name)
		assert.Equal(t, it.Name, got.Name)
		assert.Empty(t, alts)

		got, _, ok = Find(fixture, nameOf, "  "+Normalize(it.Name))
		require.True(t, ok)
		assert.Equal(t, it.Name, got.Name)
	}
}

func TestFindTypo(t *testing.T) {
	for _, it := range fixture {
		r := []rune(it.Name)
		i := len(r) / 2
		if r[i] == 'q' {
			r[i] = 'z'
		} else {
			r[i] = 'q'
		}
		typo := string(r)

		got, _, ok := Find(fixture, nameOf, typo)
		require.True(t, ok, typo)
		assert.Equal(t, it.Name, got.Name, typo)
	}
}

func TestFindSubstring(t *testing.T) {
	got, alts, ok := Find(fixture, nameOf, "Ventoux")
	require.True(t, ok)
	assert.Equal(t, "Mont Ventoux", got.Name)
	assert.Empty(t, alts)

	got, alts, ok = Find(fixture, nameOf, "london")
	require.True(t, ok)
	assert.Equal(t, "Greater London Flat", got.Name)
	assert.Equal(t, []named{{"Greatest London Flat"}, {"London Loop"}}, alts)
}

func TestFindClose(t *testing.T) {
	got, alts, ok := Find(fixture, nameOf, "vulcano flat")
	require.True(t, ok)
	assert.Equal(t, "Volcano Flat", got.Name)
	assert.Empty(t, alts)

	got, alts, ok = Find(fixture, nameOf, "Greater Lqndon Flat")
	require.True(t, ok)
	assert.Equal(t, "Greater London Flat", got.Name)
	assert.Equal(t, []named{{"Greatest London Flat"}}, alts)
}

func TestFindNotFound(t *testing.T) {
	for _, q := range []string{"zzz-unknown", "", "   ", "---"} {
		_, alts, ok := Find(fixture, nameOf, q)
		assert.False(t, ok, q)
		assert.Empty(t, alts)
	}

	_, _, ok := Find([]named(nil), nameOf, "Volcano Flat")
	assert.False(t, ok)
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 1.0, Score("Road to Sky", "road to sky!"), 1e-9)
	assert.InDelta(t, 0.0, Score("abc", "xyz"), 1e-9)
	assert.Greater(t, Score("Volcano Flat", "vulcano flat"), Cutoff)
}

func TestSuggest(t *testing.T) {
	names := make([]string, len(fixture))
	for i, it := range fixture {
		names[i] = it.Name
	}

	assert.Len(t, Suggest(names, "", 5), 5)
	assert.Equal(t, []string{"Volcano Circuit", "Volcano Circuit CCW", "Volcano Flat"}, Suggest(names, "volc", 25))
	assert.Equal(t, []string{"Volcano Circuit"}, Suggest(names, "volc", 1))

	got := Suggest(names, "vulcano", 25)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0], "Volcano")
}
