package models

import (
	"time"
)

const DefaultFolderName = "Inbox"

type Folder struct {
	ID            int       `sql:",table:folders" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UserID        int       `json:"user_id"`
	Name          string    `json:"name"`
	PositionIndex int       `json:"position_index"`
	IsDefault     bool      `json:"is_default"`
}

// FolderWithCount is what folder listings return. VideoCount is only set
// when counts were asked for.
type FolderWithCount struct {
	Folder
	VideoCount *int `json:"video_count,omitempty"`
}
