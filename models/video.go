package models

import (
	"time"

	"fknsrs.biz/p/recall/internal/sqlbuilderutil"
)

var (
	VideoTable *sqlbuilderutil.Table
)

func init() {
	VideoTable = sqlbuilderutil.MustMakeTable(Video{})
}

type Video struct {
	ID               int        `sql:",table:videos" json:"id"`
	CreatedAt        time.Time  `json:"created_at"`
	UserID           int        `json:"user_id"`
	FolderID         *int       `json:"folder_id"`
	YouTubeID        string     `sql:"youtube_id" json:"youtube_id"`
	Title            string     `json:"title"`
	ChannelName      string     `json:"channel_name"`
	ChannelThumbnail *string    `json:"channel_thumbnail"`
	ThumbnailURL     string     `sql:"thumbnail_url" json:"thumbnail_url"`
	Duration         *string    `json:"duration"`
	Notes            string     `json:"notes"`
	LikedAt          *time.Time `json:"liked_at"`
	ResumeAtSeconds  int        `json:"resume_at_seconds"`
}

// VideoWithRelations is a video as returned by the API, with its folder and
// tags attached.
type VideoWithRelations struct {
	Video
	Folder *Folder `json:"folder"`
	Tags   []Tag   `json:"tags"`
}
