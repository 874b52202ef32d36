package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/models"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="espn.us" tvg-name="ESPN FHD" tvg-logo="http://logo/espn.png" group-title="Sports",ESPN FHD
http://provider.example.com/live/espn.ts
#EXTINF:-1 tvg-id="bbc1.uk" group-title="UK",BBC One HD
http://provider.example.com/live/bbc1.ts
#EXTINF:-1 ,Unnamed Channel
http://provider.example.com/live/unnamed.ts
#EXTVLCOPT:http-user-agent=SomePlayer/1.0
#EXTINF:-1 tvg-name=""
http://provider.example.com/live/nameless.ts
`

func TestParseM3U(t *testing.T) {
	sources, err := ParseM3U(strings.NewReader(samplePlaylist))
	require.NoError(t, err)
	require.Len(t, sources, 3, "nameless entry is skipped")

	espn := sources[0]
	assert.Equal(t, "espn.us", espn.StreamID)
	assert.Equal(t, "ESPN FHD", espn.Name)
	assert.Equal(t, "http://logo/espn.png", espn.Icon)
	assert.Equal(t, "Sports", espn.Category)
	assert.Equal(t, "http://provider.example.com/live/espn.ts", espn.URL)
	assert.Equal(t, []string{"1080p"}, espn.Qualities)

	bbc := sources[1]
	assert.Equal(t, "bbc1.uk", bbc.StreamID)
	assert.Equal(t, "BBC One HD", bbc.Name, "comma-alt name when tvg-name is absent")

	// No tvg-id: the URL doubles as a stable stream id.
	unnamed := sources[2]
	assert.Equal(t, "http://provider.example.com/live/unnamed.ts", unnamed.StreamID)
}

func TestParseM3UEmpty(t *testing.T) {
	sources, err := ParseM3U(strings.NewReader("#EXTM3U\n"))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestQualityTags(t *testing.T) {
	assert.Equal(t, []string{"1080p"}, QualityTags("ESPN FHD"))
	assert.Equal(t, []string{"720p"}, QualityTags("BBC One HD"))
	assert.Equal(t, []string{"2160p"}, QualityTags("Sky Sports [4K]"))
	assert.Empty(t, QualityTags("CNN International"))
	assert.Empty(t, QualityTags("HDTV Classics"), "HD must be a standalone token")
}

func TestFetchCatalog(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(samplePlaylist))
	}))
	defer srv.Close()

	f := New("streamvault/1.0", 5*time.Second)
	account := &models.Account{ID: 7, PlaylistURL: srv.URL}
	sources, err := f.FetchCatalog(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, "streamvault/1.0", gotUA)
	for _, s := range sources {
		assert.Equal(t, int64(7), s.AccountID)
	}
}

func TestFetchCatalogHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New("", 5*time.Second)
	_, err := f.FetchCatalog(context.Background(), &models.Account{PlaylistURL: srv.URL})
	assert.ErrorContains(t, err, "502")
}
