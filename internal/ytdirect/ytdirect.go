package ytdirect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fknsrs.biz/p/recall/internal/ctxhttpclient"
)

var BaseURL = "https://www.youtube.com"

func getDocument(ctx context.Context, url string) (*goquery.Document, error) {
	res, err := ctxhttpclient.Get(ctx, url, http.Header{"Accept-Language": []string{"en-US,en;q=0.9"}})
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}
	defer res.Body.Close()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	return doc, nil
}

// findScriptData finds the inline script assigning the named variable and
// parses the JSON value assigned to it.
func findScriptData(doc *goquery.Document, variable string) (*gabs.Container, error) {
	prefix := "var " + variable + " ="

	for _, node := range doc.Find("script").Nodes {
		if node.FirstChild == nil || node.FirstChild.Type != html.TextNode {
			continue
		}

		jsContent := strings.TrimSpace(node.FirstChild.Data)

		if !strings.HasPrefix(jsContent, prefix) {
			continue
		}

		j, err := gabs.ParseJSONDecoder(json.NewDecoder(strings.NewReader(strings.TrimPrefix(jsContent, prefix))))
		if err != nil {
			return nil, fmt.Errorf("ytdirect.findScriptData: %s: %w", variable, err)
		}

		return j, nil
	}

	return nil, nil
}

type Video struct {
	ID            string
	ChannelID     string
	Title         string
	Author        string
	LengthSeconds int
	ThumbnailURL  string
	PublishDate   string
}

func stringAt(j *gabs.Container, paths ...string) string {
	for _, path := range paths {
		if s, ok := j.Path(path).Data().(string); ok && s != "" {
			return s
		}
	}

	return ""
}

func GetVideo(ctx context.Context, id string) (*Video, error) {
	doc, err := getDocument(ctx, BaseURL+"/watch?v="+id)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.GetVideo: %w", err)
	}

	j, err := findScriptData(doc, "ytInitialPlayerResponse")
	if err != nil {
		return nil, fmt.Errorf("ytdirect.GetVideo: %w", err)
	}
	if j == nil {
		return nil, fmt.Errorf("ytdirect.GetVideo: could not find player response in page")
	}

	const (
		thumbnailsPath = "videoDetails.thumbnail.thumbnails"
	)

	v := Video{
		ID:          stringAt(j, "videoDetails.videoId"),
		ChannelID:   stringAt(j, "videoDetails.channelId", "microformat.playerMicroformatRenderer.externalChannelId"),
		Title:       stringAt(j, "videoDetails.title", "microformat.playerMicroformatRenderer.title.simpleText"),
		Author:      stringAt(j, "videoDetails.author", "microformat.playerMicroformatRenderer.ownerChannelName"),
		PublishDate: stringAt(j, "microformat.playerMicroformatRenderer.publishDate", "microformat.playerMicroformatRenderer.uploadDate"),
	}

	if s := stringAt(j, "videoDetails.lengthSeconds"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			v.LengthSeconds = n
		}
	}

	if thumbnails := j.Path(thumbnailsPath).Children(); len(thumbnails) > 0 {
		v.ThumbnailURL = stringAt(thumbnails[len(thumbnails)-1], "url")
	}

	if v.ID == "" {
		return nil, fmt.Errorf("ytdirect.GetVideo: could not find suitable data in page")
	}

	return &v, nil
}
