package youtube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"fknsrs.biz/p/recall/internal/ctxhttpclient"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/ytutil"
)

// notifyingTokenSource reports every token it hasn't handed out before, so
// refreshed tokens can be stored.
type notifyingTokenSource struct {
	m         sync.Mutex
	base      oauth2.TokenSource
	last      string
	onRefresh func(Tokens) error
	err       error
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.m.Lock()
	defer s.m.Unlock()

	if tok.AccessToken != s.last {
		s.last = tok.AccessToken

		if s.onRefresh != nil {
			if err := s.onRefresh(Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}); err != nil && s.err == nil {
				s.err = err
			}
		}
	}

	return tok, nil
}

// LikedVideos fetches up to max of the user's liked videos, most recently
// liked first.
func (c *Client) LikedVideos(ctx context.Context, tokens Tokens, max int, onRefresh func(Tokens) error) ([]LikedVideo, error) {
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("youtube.Client.LikedVideos: %w", ErrNotConnected)
	}

	l := ctxlogger.GetLogger(ctx)

	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, ctxhttpclient.GetHTTPClient(ctx))

	tok := &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       tokens.Expiry,
		TokenType:    "Bearer",
	}

	ts := &notifyingTokenSource{
		base:      oauth2.ReuseTokenSource(tok, c.oauth.TokenSource(oauthCtx, tok)),
		last:      tokens.AccessToken,
		onRefresh: onRefresh,
	}

	svc, err := c.newService(ctx, oauth2.NewClient(oauthCtx, ts))
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.LikedVideos: %w", err)
	}

	type entry struct {
		id      string
		likedAt *time.Time
	}

	var entries []entry
	pageToken := ""

	for len(entries) < max {
		if err := c.wait(ctx); err != nil {
			return nil, fmt.Errorf("youtube.Client.LikedVideos: %w", err)
		}

		resp, err := svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(LikedPlaylistID).
			MaxResults(pageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("youtube.Client.LikedVideos: could not list liked videos: %w", mapAPIError(err))
		}

		for _, item := range resp.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}

			e := entry{id: item.ContentDetails.VideoId}
			if item.Snippet != nil && item.Snippet.PublishedAt != "" {
				if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
					t = t.UTC()
					e.likedAt = &t
				}
			}

			entries = append(entries, e)
		}

		l.WithFields(logrus.Fields{
			"youtube.page_items": len(resp.Items),
			"youtube.total":      len(entries),
		}).Debug("fetched liked videos page")

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(entries) > max {
		entries = entries[:max]
	}

	var videos []LikedVideo

	for start := 0; start < len(entries); start += pageSize {
		end := start + pageSize
		if end > len(entries) {
			end = len(entries)
		}

		var ids []string
		for _, e := range entries[start:end] {
			ids = append(ids, e.id)
		}

		if err := c.wait(ctx); err != nil {
			return nil, fmt.Errorf("youtube.Client.LikedVideos: %w", err)
		}

		resp, err := svc.Videos.List([]string{"snippet", "contentDetails"}).Id(ids...).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("youtube.Client.LikedVideos: could not get video details: %w", mapAPIError(err))
		}

		details := make(map[string]LikedVideo)
		for _, item := range resp.Items {
			v := LikedVideo{YouTubeID: item.Id}
			if item.Snippet != nil {
				v.Title = item.Snippet.Title
				v.ChannelName = item.Snippet.ChannelTitle
				v.ThumbnailURL = bestThumbnail(item.Snippet.Thumbnails)
				v.ChannelThumbnail = defaultThumbnail(item.Snippet.Thumbnails)
			}
			if item.ContentDetails != nil {
				v.Duration = ytutil.ParseISODuration(item.ContentDetails.Duration)
			}
			details[item.Id] = v
		}

		// private and deleted videos are missing from details
		for _, e := range entries[start:end] {
			v, ok := details[e.id]
			if !ok {
				continue
			}
			v.LikedAt = e.likedAt
			videos = append(videos, v)
		}
	}

	if ts.err != nil {
		l.WithError(ts.err).Warn("could not store refreshed youtube tokens")
	}

	return videos, nil
}
