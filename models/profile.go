package models

import (
	"time"
)

type Profile struct {
	ID                  int        `sql:",table:profiles" json:"id"`
	CreatedAt           time.Time  `json:"created_at"`
	Subject             string     `json:"-"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name"`
	AvatarURL           string     `sql:"avatar_url" json:"avatar_url"`
	YouTubeAccessToken  *string    `sql:"youtube_access_token" json:"-"`
	YouTubeRefreshToken *string    `sql:"youtube_refresh_token" json:"-"`
	YouTubeTokenExpiry  *time.Time `sql:"youtube_token_expiry" json:"-"`
	YouTubeConnectedAt  *time.Time `sql:"youtube_connected_at" json:"youtube_connected_at"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
}

func (p *Profile) YouTubeConnected() bool {
	return p.YouTubeAccessToken != nil && *p.YouTubeAccessToken != ""
}
