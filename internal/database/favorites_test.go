package database

import (
	"path/filepath"
	"strings"
	"testing"

	"jukebox/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFavorites(t *testing.T) *FavoritesStore {
	t.Helper()
	fs, err := NewFavoritesStore(filepath.Join(t.TempDir(), "favorites.db"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFavoritesSaveLoadUpdate(t *testing.T) {
	fs := newTestFavorites(t)

	favorites := []models.FavoriteTrack{
		{UniqueSongID: "s1", Title: "One", Artist: "A", Duration: 180},
		{UniqueSongID: "s2", Title: "Two", Artist: "B"},
	}

	code, err := fs.CreateUniqueCode()
	require.NoError(t, err)
	parts := strings.Split(code, "-")
	assert.Len(t, parts, 3)

	require.NoError(t, fs.Save(code, favorites))

	loaded, err := fs.Load(code)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "One", loaded[0].Title)

	updated, err := fs.Update(code, favorites[:1])
	require.NoError(t, err)
	assert.True(t, updated)

	loaded, err = fs.Load(code)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	updated, err = fs.Update("unknown-code-here", favorites)
	require.NoError(t, err)
	assert.False(t, updated)

	missing, err := fs.Load("unknown-code-here")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
