// Package config defines the application's settings and the text forms
// they take in config files, flags, and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LevelList is a comma separated list of log levels. "-" is the empty list.
type LevelList []logrus.Level

func (a LevelList) MarshalText() ([]byte, error) {
	if len(a) == 0 {
		return []byte("-"), nil
	}

	names := make([]string, len(a))
	for i, l := range a {
		names[i] = l.String()
	}

	return []byte(strings.Join(names, ",")), nil
}

func (a *LevelList) UnmarshalText(d []byte) error {
	list := LevelList{}

	for _, e := range strings.Split(string(d), ",") {
		e = strings.TrimSpace(e)
		if e == "" || e == "-" {
			continue
		}

		l, err := logrus.ParseLevel(e)
		if err != nil {
			return fmt.Errorf("config.LevelList.UnmarshalText: %w", err)
		}

		list = append(list, l)
	}

	*a = list

	return nil
}

// LogQueries is "none", "all", or ">duration" to log only queries slower
// than duration.
type LogQueries struct {
	Enabled    bool
	SlowerThan time.Duration
}

func (l LogQueries) String() string {
	switch {
	case !l.Enabled:
		return "none"
	case l.SlowerThan > 0:
		return ">" + l.SlowerThan.String()
	default:
		return "all"
	}
}

func (l LogQueries) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogQueries) UnmarshalText(d []byte) error {
	s := strings.TrimSpace(string(d))

	switch {
	case s == "" || s == "none":
		*l = LogQueries{}
	case s == "all":
		*l = LogQueries{Enabled: true}
	case strings.HasPrefix(s, ">"):
		v, err := time.ParseDuration(strings.TrimSpace(s[1:]))
		if err != nil {
			return fmt.Errorf("config.LogQueries.UnmarshalText: could not parse value as duration: %w", err)
		}
		*l = LogQueries{Enabled: true, SlowerThan: v}
	default:
		return fmt.Errorf("config.LogQueries.UnmarshalText: unrecognised input %q; valid options are none, all, or >x where x is a duration", s)
	}

	return nil
}

func (l LogQueries) IsZero() bool {
	return !l.Enabled && l.SlowerThan == 0
}

// Duration is a time.Duration that reads and writes the same text form as
// time.ParseDuration, so it can be used in config files, flags, and the
// environment.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config.Duration.UnmarshalText: could not parse value as duration: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("config.Duration.UnmarshalText: duration must not be negative; was %s", v)
	}

	*d = Duration(v)

	return nil
}

type Config struct {
	Config                   string       `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	LogLevel                 logrus.Level `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogDebugLevels           LevelList    `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries               LogQueries   `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM                  bool         `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`
	LogFile                  string       `name:"log_file" toml:"log_file" yaml:"log_file" help:"Also write logs to this file, rotating it as it grows."`
	ApplicationAddr          string       `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on for application server."`
	ApplicationDatabase      string       `name:"application_database" toml:"application_database" yaml:"application_database" help:"Database location for application."`
	ApplicationCachePath     string       `name:"application_cache_path" toml:"application_cache_path" yaml:"application_cache_path" help:"Location for HTTP client cache."`
	BackgroundWorkers        int          `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run."`
	AuthJWTSecret            string       `name:"auth_jwt_secret" toml:"auth_jwt_secret" yaml:"auth_jwt_secret" help:"Secret used to verify session tokens (HS256)."`
	AuthCookieName           string       `name:"auth_cookie_name" toml:"auth_cookie_name" yaml:"auth_cookie_name" help:"Name of the cookie carrying the session token."`
	GoogleClientID           string       `name:"google_client_id" toml:"google_client_id" yaml:"google_client_id" help:"OAuth client ID used to refresh YouTube tokens."`
	GoogleClientSecret       string       `name:"google_client_secret" toml:"google_client_secret" yaml:"google_client_secret" help:"OAuth client secret used to refresh YouTube tokens."`
	YouTubeAPIKey            string       `name:"youtube_api_key" toml:"youtube_api_key" yaml:"youtube_api_key" help:"YouTube Data API key for looking up videos added by URL."`
	YouTubeRequestsPerSecond int          `name:"youtube_requests_per_second" toml:"youtube_requests_per_second" yaml:"youtube_requests_per_second" help:"Client-side rate limit for YouTube Data API calls."`
	SyncMaxVideos            int          `name:"sync_max_videos" toml:"sync_max_videos" yaml:"sync_max_videos" help:"Maximum number of liked videos to look at per sync."`
	AutoSyncInterval         Duration     `name:"auto_sync_interval" toml:"auto_sync_interval" yaml:"auto_sync_interval" help:"Minimum time between automatic syncs for a profile."`
	AutoSyncCheckInterval    Duration     `name:"auto_sync_check_interval" toml:"auto_sync_check_interval" yaml:"auto_sync_check_interval" help:"How often to look for profiles due an automatic sync; 0 disables automatic sync."`
	FolderCacheTTL           Duration     `name:"folder_cache_ttl" toml:"folder_cache_ttl" yaml:"folder_cache_ttl" help:"How long folder lists stay cached."`
}

func (c Config) Validate() error {
	var problems []string

	if c.AuthJWTSecret == "" {
		problems = append(problems, "auth_jwt_secret is required")
	}
	if c.AuthCookieName == "" {
		problems = append(problems, "auth_cookie_name is required")
	}
	if c.BackgroundWorkers < 0 {
		problems = append(problems, "background_workers must not be negative")
	}
	if c.SyncMaxVideos < 1 {
		problems = append(problems, "sync_max_videos must be at least 1")
	}
	if c.YouTubeRequestsPerSecond < 1 {
		problems = append(problems, "youtube_requests_per_second must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config.Config.Validate: %s", strings.Join(problems, "; "))
	}

	return nil
}
