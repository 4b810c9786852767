package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Jeffail/gabs/v2"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxhttpclient"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/ytdirect"
	"fknsrs.biz/p/recall/internal/ytutil"
)

// VideoByID looks up public metadata for a video. The Data API is tried
// first when there's an API key, then oEmbed, then the watch page.
func (c *Client) VideoByID(ctx context.Context, id string) (*VideoMetadata, error) {
	l := ctxlogger.GetLogger(ctx).WithField("video.youtube_id", id)

	type source struct {
		name string
		fn   func(ctx context.Context, id string) (*VideoMetadata, error)
	}

	var sources []source
	if c.apiKey != "" {
		sources = append(sources, source{"api", c.videoFromAPI})
	}
	sources = append(sources, source{"oembed", c.videoFromOEmbed}, source{"watch_page", videoFromWatchPage})

	var errs []error
	for _, s := range sources {
		v, err := s.fn(ctx, id)
		if err != nil {
			l.WithError(err).WithFields(logrus.Fields{"youtube.metadata_source": s.name}).Debug("metadata source failed")
			errs = append(errs, err)
			continue
		}

		v.Source = s.name

		return v, nil
	}

	return nil, fmt.Errorf("youtube.Client.VideoByID: %w: %w", ErrMetadataUnavailable, errors.Join(errs...))
}

func (c *Client) videoFromAPI(ctx context.Context, id string) (*VideoMetadata, error) {
	svc, err := c.newService(ctx, c.apiKeyClient(ctx))
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.videoFromAPI: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("youtube.Client.videoFromAPI: %w", err)
	}

	resp, err := svc.Videos.List([]string{"snippet", "contentDetails"}).Id(id).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.videoFromAPI: %w", err)
	}

	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, fmt.Errorf("youtube.Client.videoFromAPI: video %s not found", id)
	}

	item := resp.Items[0]

	v := VideoMetadata{
		ID:               id,
		Title:            item.Snippet.Title,
		ChannelName:      item.Snippet.ChannelTitle,
		ThumbnailURL:     bestThumbnail(item.Snippet.Thumbnails),
		ChannelThumbnail: defaultThumbnail(item.Snippet.Thumbnails),
	}
	if item.ContentDetails != nil {
		v.Duration = ytutil.ParseISODuration(item.ContentDetails.Duration)
	}

	return &v, nil
}

func (c *Client) videoFromOEmbed(ctx context.Context, id string) (*VideoMetadata, error) {
	u := c.oembedURL + "?url=" + url.QueryEscape(ytutil.WatchURL(id)) + "&format=json"

	res, err := ctxhttpclient.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.videoFromOEmbed: %w", err)
	}
	defer res.Body.Close()

	j, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.videoFromOEmbed: %w", err)
	}

	title, _ := j.Path("title").Data().(string)
	if title == "" {
		return nil, fmt.Errorf("youtube.Client.videoFromOEmbed: response has no title")
	}

	author, _ := j.Path("author_name").Data().(string)
	thumbnail, _ := j.Path("thumbnail_url").Data().(string)
	if thumbnail == "" {
		thumbnail = "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
	}

	return &VideoMetadata{
		ID:           id,
		Title:        title,
		ChannelName:  author,
		ThumbnailURL: thumbnail,
	}, nil
}

func videoFromWatchPage(ctx context.Context, id string) (*VideoMetadata, error) {
	v, err := ytdirect.GetVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("youtube.videoFromWatchPage: %w", err)
	}

	if v.Title == "" {
		return nil, fmt.Errorf("youtube.videoFromWatchPage: page has no title")
	}

	return &VideoMetadata{
		ID:           id,
		Title:        v.Title,
		ChannelName:  v.Author,
		ThumbnailURL: v.ThumbnailURL,
		Duration:     ytutil.FormatSeconds(v.LengthSeconds),
	}, nil
}
