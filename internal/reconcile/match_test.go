package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ESPN HD", "espn"},
		{"US: ESPN FHD", "espn"},
		{"UK | BBC One", "bbc one"},
		{"Canal+ Décalé", "canal decale"},
		{"Sky Sports [4K]", "sky sports"},
		{"  CNN   International  ", "cnn international"},
		{"TV2 1080p", "tv2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestDiceSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, DiceSimilarity("espn", "espn"))
	assert.Equal(t, 0.0, DiceSimilarity("espn", "xyzq"))
	assert.Equal(t, 0.0, DiceSimilarity("", ""))

	closer := DiceSimilarity("sky sports main event", "sky sports main")
	farther := DiceSimilarity("sky sports main event", "sky news")
	assert.Greater(t, closer, farther)
}

func TestNameMatcher(t *testing.T) {
	channels := []models.Channel{
		{ID: 1, Name: "ESPN"},
		{ID: 2, Name: "BBC One"},
		{ID: 3, Name: "Sky Sports Main Event"},
	}

	m := NameMatcher{}
	ctx := context.Background()

	best, conf, err := m.Match(ctx, "US: ESPN FHD", channels)
	require.NoError(t, err)
	assert.Equal(t, int64(1), best.ID)
	assert.Equal(t, 1.0, conf, "normalized equality is a perfect match")

	best, conf, err = m.Match(ctx, "Sky Sp. Main Event HD", channels)
	require.NoError(t, err)
	assert.Equal(t, int64(3), best.ID)
	assert.Greater(t, conf, 0.7)

	_, conf, err = m.Match(ctx, "Completely Unrelated Shopping", channels)
	require.NoError(t, err)
	assert.Less(t, conf, 0.5)

	_, _, err = m.Match(ctx, "ESPN", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
