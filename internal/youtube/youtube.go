// Package youtube talks to YouTube on behalf of users: their liked videos
// through the Data API with their own tokens, and public metadata for single
// videos through whatever source answers first.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"fknsrs.biz/p/recall/internal/ctxhttpclient"
)

var (
	ErrNotConnected        = fmt.Errorf("YouTube not connected")
	ErrTokenExpired        = fmt.Errorf("YouTube token expired or revoked")
	ErrMetadataUnavailable = fmt.Errorf("Could not fetch video metadata")
)

const (
	LikedPlaylistID = "LL"
	pageSize        = 50

	DefaultOEmbedURL = "https://www.youtube.com/oembed"
)

type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type LikedVideo struct {
	YouTubeID        string
	Title            string
	ChannelName      string
	ChannelThumbnail string
	ThumbnailURL     string
	Duration         string
	LikedAt          *time.Time
}

type VideoMetadata struct {
	ID               string
	Title            string
	ChannelName      string
	ChannelThumbnail string
	ThumbnailURL     string
	Duration         string
	Source           string
}

type LikedVideoSource interface {
	LikedVideos(ctx context.Context, tokens Tokens, max int, onRefresh func(Tokens) error) ([]LikedVideo, error)
}

type MetadataFetcher interface {
	VideoByID(ctx context.Context, id string) (*VideoMetadata, error)
}

type Config struct {
	ClientID          string
	ClientSecret      string
	APIKey            string
	RequestsPerSecond int
	// APIEndpoint, OEmbedURL and TokenURL override where requests go; empty
	// means the real services.
	APIEndpoint string
	OEmbedURL   string
	TokenURL    string
}

type Client struct {
	oauth       *oauth2.Config
	apiKey      string
	limiter     *rate.Limiter
	apiEndpoint string
	oembedURL   string
}

func NewClient(cfg Config) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	oembedURL := cfg.OEmbedURL
	if oembedURL == "" {
		oembedURL = DefaultOEmbedURL
	}

	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{ytapi.YoutubeReadonlyScope},
		},
		apiKey:      cfg.APIKey,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		apiEndpoint: cfg.APIEndpoint,
		oembedURL:   oembedURL,
	}
}

func (c *Client) newService(ctx context.Context, httpClient *http.Client) (*ytapi.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.apiEndpoint))
	}

	svc, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube.Client.newService: %w", err)
	}

	return svc, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("youtube.Client.wait: %w", err)
	}

	return nil
}

// apiKeyClient wraps the context http client so every request carries the
// API key.
func (c *Client) apiKeyClient(ctx context.Context) *http.Client {
	base := ctxhttpclient.GetHTTPClient(ctx)

	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &http.Client{
		Transport: &transport.APIKey{Key: c.apiKey, Transport: rt},
		Timeout:   base.Timeout,
	}
}

func mapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrTokenExpired, err.Error())
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %s", ErrTokenExpired, err.Error())
	}

	return err
}

func bestThumbnail(t *ytapi.ThumbnailDetails) string {
	if t == nil {
		return ""
	}

	for _, e := range []*ytapi.Thumbnail{t.High, t.Medium, t.Default} {
		if e != nil && e.Url != "" {
			return e.Url
		}
	}

	return ""
}

func defaultThumbnail(t *ytapi.ThumbnailDetails) string {
	if t == nil || t.Default == nil {
		return ""
	}

	return t.Default.Url
}
