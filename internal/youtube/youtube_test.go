package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/recall/internal/ytdirect"
)

type fakeYouTube struct {
	m        sync.Mutex
	tokens   []string
	keys     []string
	videos   map[string]map[string]interface{}
	liked    [][]string
	status   int
	oembed   int
	newToken string
}

func thumbs(id string, sizes ...string) map[string]interface{} {
	m := map[string]interface{}{}
	for _, size := range sizes {
		m[size] = map[string]interface{}{"url": "https://i.ytimg.com/vi/" + id + "/" + size + ".jpg"}
	}
	return m
}

func newFakeYouTube() *fakeYouTube {
	return &fakeYouTube{
		videos: map[string]map[string]interface{}{
			"aaaaaaaaaaa": {"id": "aaaaaaaaaaa", "snippet": map[string]interface{}{"title": "Go Tutorial", "channelTitle": "Gopher", "thumbnails": thumbs("aaaaaaaaaaa", "default", "medium", "high")}, "contentDetails": map[string]interface{}{"duration": "PT1H2M3S"}},
			"bbbbbbbbbbb": {"id": "bbbbbbbbbbb", "snippet": map[string]interface{}{"title": "Cooking pasta", "channelTitle": "Chef", "thumbnails": thumbs("bbbbbbbbbbb", "default", "medium")}, "contentDetails": map[string]interface{}{"duration": "PT4M13S"}},
			"ddddddddddd": {"id": "ddddddddddd", "snippet": map[string]interface{}{"title": "Daily vlog", "channelTitle": "Me", "thumbnails": thumbs("ddddddddddd", "default")}, "contentDetails": map[string]interface{}{"duration": "PT45S"}},
		},
		liked: [][]string{
			{"aaaaaaaaaaa", "ccccccccccc"},
			{"bbbbbbbbbbb", "ddddddddddd"},
		},
	}
}

func (f *fakeYouTube) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	f.m.Lock()
	f.tokens = append(f.tokens, r.Header.Get("authorization"))
	f.keys = append(f.keys, r.URL.Query().Get("key"))
	f.m.Unlock()

	writeJSON := func(v interface{}) {
		rw.Header().Set("content-type", "application/json")
		json.NewEncoder(rw).Encode(v)
	}

	switch {
	case r.URL.Path == "/token":
		writeJSON(map[string]interface{}{"access_token": f.newToken, "token_type": "Bearer", "expires_in": 3600})
	case r.URL.Path == "/oembed":
		if f.oembed != 0 {
			rw.WriteHeader(f.oembed)
			return
		}
		if !strings.Contains(r.URL.Query().Get("url"), "watch?v=bbbbbbbbbbb") {
			http.NotFound(rw, r)
			return
		}
		writeJSON(map[string]interface{}{"title": "Cooking pasta", "author_name": "Chef", "thumbnail_url": "https://i.ytimg.com/vi/bbbbbbbbbbb/hqdefault.jpg"})
	case f.status != 0:
		rw.WriteHeader(f.status)
		writeJSON(map[string]interface{}{"error": map[string]interface{}{"code": f.status, "message": "nope"}})
	case strings.HasSuffix(r.URL.Path, "/playlistItems"):
		page := 0
		if r.URL.Query().Get("pageToken") == "p2" {
			page = 1
		}
		var items []interface{}
		for i, id := range f.liked[page] {
			items = append(items, map[string]interface{}{
				"snippet":        map[string]interface{}{"publishedAt": time.Date(2024, 1, 10-page*2-i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)},
				"contentDetails": map[string]interface{}{"videoId": id},
			})
		}
		resp := map[string]interface{}{"items": items}
		if page == 0 {
			resp["nextPageToken"] = "p2"
		}
		writeJSON(resp)
	case strings.HasSuffix(r.URL.Path, "/videos"):
		var items []interface{}
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		// reversed, to check that playlist order wins
		for i := len(ids) - 1; i >= 0; i-- {
			if v, ok := f.videos[ids[i]]; ok {
				items = append(items, v)
			}
		}
		writeJSON(map[string]interface{}{"items": items})
	default:
		http.NotFound(rw, r)
	}
}

func setup(t *testing.T, f *fakeYouTube, apiKey string) (*Client, *httptest.Server) {
	s := httptest.NewServer(f)
	t.Cleanup(s.Close)

	c := NewClient(Config{
		ClientID:          "client",
		ClientSecret:      "secret",
		APIKey:            apiKey,
		RequestsPerSecond: 1000,
		APIEndpoint:       s.URL + "/",
		OEmbedURL:         s.URL + "/oembed",
		TokenURL:          s.URL + "/token",
	})

	return c, s
}

func TestLikedVideos(t *testing.T) {
	a := assert.New(t)

	f := newFakeYouTube()
	c, _ := setup(t, f, "")

	videos, err := c.LikedVideos(context.Background(), Tokens{AccessToken: "tok"}, 250, nil)
	a.NoError(err)

	var ids []string
	for _, v := range videos {
		ids = append(ids, v.YouTubeID)
	}
	// ccccccccccc is private, so it has no details
	a.Equal([]string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ddddddddddd"}, ids)

	if a.Len(videos, 3) {
		a.Equal("Go Tutorial", videos[0].Title)
		a.Equal("Gopher", videos[0].ChannelName)
		a.Equal("1:02:03", videos[0].Duration)
		a.Equal("https://i.ytimg.com/vi/aaaaaaaaaaa/high.jpg", videos[0].ThumbnailURL)
		a.Equal("https://i.ytimg.com/vi/aaaaaaaaaaa/default.jpg", videos[0].ChannelThumbnail)
		if a.NotNil(videos[0].LikedAt) {
			a.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *videos[0].LikedAt)
		}

		a.Equal("https://i.ytimg.com/vi/bbbbbbbbbbb/medium.jpg", videos[1].ThumbnailURL)
		a.Equal("4:13", videos[1].Duration)

		a.Equal("https://i.ytimg.com/vi/ddddddddddd/default.jpg", videos[2].ThumbnailURL)
		a.Equal("0:45", videos[2].Duration)
	}

	for _, h := range f.tokens {
		a.Equal("Bearer tok", h)
	}
}

func TestLikedVideosStopsAtMax(t *testing.T) {
	a := assert.New(t)

	f := newFakeYouTube()
	c, _ := setup(t, f, "")

	videos, err := c.LikedVideos(context.Background(), Tokens{AccessToken: "tok"}, 1, nil)
	a.NoError(err)
	if a.Len(videos, 1) {
		a.Equal("aaaaaaaaaaa", videos[0].YouTubeID)
	}

	// one page of liked videos, one batch of details
	a.Len(f.tokens, 2)
}

func TestLikedVideosErrors(t *testing.T) {
	a := assert.New(t)

	f := newFakeYouTube()
	c, _ := setup(t, f, "")

	_, err := c.LikedVideos(context.Background(), Tokens{}, 250, nil)
	a.ErrorIs(err, ErrNotConnected)

	f.status = http.StatusUnauthorized
	_, err = c.LikedVideos(context.Background(), Tokens{AccessToken: "tok"}, 250, nil)
	a.ErrorIs(err, ErrTokenExpired)

	f.status = http.StatusForbidden
	_, err = c.LikedVideos(context.Background(), Tokens{AccessToken: "tok"}, 250, nil)
	a.Error(err)
	a.False(errors.Is(err, ErrTokenExpired))
}

func TestLikedVideosRefreshesTokens(t *testing.T) {
	a := assert.New(t)

	f := newFakeYouTube()
	f.newToken = "fresh"
	c, _ := setup(t, f, "")

	var refreshed []Tokens
	videos, err := c.LikedVideos(context.Background(), Tokens{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}, 250, func(tokens Tokens) error {
		refreshed = append(refreshed, tokens)
		return nil
	})
	a.NoError(err)
	a.Len(videos, 3)

	if a.Len(refreshed, 1) {
		a.Equal("fresh", refreshed[0].AccessToken)
		a.Equal("refresh", refreshed[0].RefreshToken)
		a.True(refreshed[0].Expiry.After(time.Now()))
	}

	a.Contains(f.tokens, "Bearer fresh")
	a.NotContains(f.tokens, "Bearer stale")
}

func TestVideoByID(t *testing.T) {
	t.Run("api", func(t *testing.T) {
		a := assert.New(t)

		f := newFakeYouTube()
		c, _ := setup(t, f, "key")

		v, err := c.VideoByID(context.Background(), "aaaaaaaaaaa")
		a.NoError(err)
		if a.NotNil(v) {
			a.Equal("api", v.Source)
			a.Equal("Go Tutorial", v.Title)
			a.Equal("1:02:03", v.Duration)
		}
		a.Equal([]string{"key"}, f.keys)
	})

	t.Run("oembed", func(t *testing.T) {
		a := assert.New(t)

		f := newFakeYouTube()
		c, _ := setup(t, f, "")

		v, err := c.VideoByID(context.Background(), "bbbbbbbbbbb")
		a.NoError(err)
		a.Equal(&VideoMetadata{
			ID:           "bbbbbbbbbbb",
			Title:        "Cooking pasta",
			ChannelName:  "Chef",
			ThumbnailURL: "https://i.ytimg.com/vi/bbbbbbbbbbb/hqdefault.jpg",
			Source:       "oembed",
		}, v)
	})

	t.Run("watch page", func(t *testing.T) {
		a := assert.New(t)

		f := newFakeYouTube()
		f.oembed = http.StatusUnauthorized
		c, _ := setup(t, f, "")

		page := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.Write([]byte(`<html><body><script>var ytInitialPlayerResponse = {"videoDetails": {"videoId": "eeeeeeeeeee", "title": "Embedding disabled", "author": "Someone", "lengthSeconds": "75"}};</script></body></html>`))
		}))
		defer page.Close()

		old := ytdirect.BaseURL
		ytdirect.BaseURL = page.URL
		defer func() { ytdirect.BaseURL = old }()

		v, err := c.VideoByID(context.Background(), "eeeeeeeeeee")
		a.NoError(err)
		if a.NotNil(v) {
			a.Equal("watch_page", v.Source)
			a.Equal("Embedding disabled", v.Title)
			a.Equal("Someone", v.ChannelName)
			a.Equal("1:15", v.Duration)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		a := assert.New(t)

		f := newFakeYouTube()
		f.status = http.StatusForbidden
		f.oembed = http.StatusNotFound
		c, s := setup(t, f, "key")

		old := ytdirect.BaseURL
		ytdirect.BaseURL = s.URL
		defer func() { ytdirect.BaseURL = old }()

		v, err := c.VideoByID(context.Background(), "zzzzzzzzzzz")
		a.Nil(v)
		a.ErrorIs(err, ErrMetadataUnavailable)
	})
}
