package ytutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"fknsrs.biz/p/recall/internal/timeutil"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func IsVideoID(s string) bool {
	return videoIDPattern.MatchString(s)
}

func checkVideoID(id, where string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("no video id found in %s url", where)
	}

	if !IsVideoID(id) {
		return "", fmt.Errorf("invalid video id in %s url; should be 11 characters of [A-Za-z0-9_-]", where)
	}

	return id, nil
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

func ExtractVideoID(urlOrID string) (string, error) {
	urlOrID = strings.TrimSpace(urlOrID)

	if IsVideoID(urlOrID) {
		return urlOrID, nil
	}

	if !strings.Contains(urlOrID, "://") {
		urlOrID = "https://" + urlOrID
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil {
		return "", fmt.Errorf("ytutil.ExtractVideoID: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())

	if host == "youtu.be" {
		id, err := checkVideoID(strings.Trim(parsed.Path, "/"), "youtu.be")
		if err != nil {
			return "", fmt.Errorf("ytutil.ExtractVideoID: %w", err)
		}
		return id, nil
	}

	if youtubeHosts[host] {
		if parsed.Path == "/watch" {
			id, err := checkVideoID(parsed.Query().Get("v"), "youtube.com watch")
			if err != nil {
				return "", fmt.Errorf("ytutil.ExtractVideoID: %w", err)
			}
			return id, nil
		}

		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if strings.HasPrefix(parsed.Path, prefix) {
				rest := strings.TrimPrefix(parsed.Path, prefix)
				if i := strings.Index(rest, "/"); i != -1 {
					rest = rest[:i]
				}

				id, err := checkVideoID(rest, "youtube.com"+strings.TrimSuffix(prefix, "/"))
				if err != nil {
					return "", fmt.Errorf("ytutil.ExtractVideoID: %w", err)
				}
				return id, nil
			}
		}
	}

	return "", fmt.Errorf("ytutil.ExtractVideoID: invalid url or id; could not find a known pattern")
}

func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}

// ParseISODuration renders an ISO 8601 duration like PT4M13S as h:mm:ss, or
// m:ss when it's under an hour. Anything unparseable gives an empty string.
func ParseISODuration(s string) string {
	d, err := timeutil.ParseDayTimeDuration(s)
	if err != nil || d < 0 {
		return ""
	}

	return d.Clock()
}

// FormatSeconds renders a length in seconds the same way ParseISODuration
// does.
func FormatSeconds(n int) string {
	if n <= 0 {
		return ""
	}

	return timeutil.DayTimeDuration(time.Duration(n) * time.Second).Clock()
}
