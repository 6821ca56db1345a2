package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldFor(t *testing.T) {
	cases := map[string]string{
		"Castle to Castle":     "Makuri",
		"Ven-Top":              "France",
		"Greater London Flat":  "London",
		"Harrogate Circuit":    "Yorkshire",
		"Lutscher":             "Innsbruck",
		"Richmond UCI Worlds":  "Richmond",
		"Champs-Élysées":       "Paris",
		"Glasgow Crit Circuit": "Scotland",
		"Astoria Line 8":       "New York",
		"NY Uptown Loop":       "New York",
		"Tiny Races":           "Watopia",
		"Sunny Side Loop":      "Watopia",
		"Canyon Climb":         "Watopia",
		"Tempus Fugit":         "Watopia",
	}
	for name, want := range cases {
		assert.Equal(t, want, WorldFor(name), name)
	}
}

func TestLoadEmbedded(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.NotEmpty(t, c.Routes())
	assert.NotEmpty(t, c.Sprints())
	assert.NotEmpty(t, c.KOMs())
	assert.Contains(t, c.Source(), "embedded:")

	r, ok := c.Route("Ven-Top")
	require.True(t, ok)
	assert.Equal(t, "France", r.World)

	r, ok = c.Route("Park Perimeter Loop")
	require.True(t, ok)
	assert.Equal(t, "New York", r.World, "explicit world wins over the name heuristic")
}

func TestLoadKeysAreUnique(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range c.Routes() {
		assert.False(t, seen[r.Key()], r.Name)
		seen[r.Key()] = true
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RoutesFile),
		[]byte(`[{"Route":"Mont Ventoux","URL":"https://example.com/mv/"}]`), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, c.Routes(), 1)
	assert.Equal(t, "France", c.Routes()[0].World)
	assert.NotEmpty(t, c.KOMs(), "missing files fall back to the embedded copy")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RoutesFile), []byte(`{`), 0o644))
	_, err := Load(dir)
	require.Error(t, err)
}

func TestNewDuplicateKey(t *testing.T) {
	_, err := New([]Route{
		{Name: "Volcano Flat"},
		{Name: "volcano flat!"},
	}, nil, nil)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestCyccalImage(t *testing.T) {
	assert.Equal(t, "", Route{ImageURL: "https://example.com/a.png"}.CyccalImage())
	assert.Equal(t, "https://raw.githubusercontent.com/x.png",
		Route{ImageURL: "https://raw.githubusercontent.com/x.png"}.CyccalImage())
}

func TestWorlds(t *testing.T) {
	c, err := New([]Route{
		{Name: "Volcano Flat"}, {Name: "London Loop"}, {Name: "Tempus Fugit"},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Watopia", "London"}, c.Worlds())

	c, err = New([]Route{
		{Name: "Atlantis Loop", World: "Atlantis"}, {Name: "Casse-Pattes"}, {Name: "Volcano Flat"},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Watopia", "France", "Atlantis"}, c.Worlds(), "known worlds first, then the rest")
}
