package models

import (
	"time"
)

type Tag struct {
	ID        int       `sql:",table:tags" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	ParentID  *int      `json:"parent_id"`
}

type TagWithChildren struct {
	Tag
	Children []Tag `json:"children"`
}

type VideoTag struct {
	ID      int `sql:",table:video_tags" json:"id"`
	VideoID int `json:"video_id"`
	TagID   int `json:"tag_id"`
}
