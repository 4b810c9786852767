package sqlbuilderutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleRecord struct {
	ID        int    `sql:",table:samples"`
	YouTubeID string `sql:"youtube_id"`
	FolderID  *int
	Scratch   string `sql:"-"`
}

type plainThing struct {
	ID   int
	Name string
}

func TestMakeTable(t *testing.T) {
	a := assert.New(t)

	tbl, err := MakeTable(sampleRecord{})
	if !a.NoError(err) {
		return
	}

	a.Equal(map[string]string{
		"ID":         "id",
		"id":         "id",
		"YouTubeID":  "youtube_id",
		"youtubeid":  "youtube_id",
		"youtube_id": "youtube_id",
		"FolderID":   "folder_id",
		"folderid":   "folder_id",
		"folder_id":  "folder_id",
	}, tbl.columns)

	a.NotNil(tbl.C("FolderID"))
	a.NotNil(tbl.C("unknown"))

	plain := MustMakeTable(plainThing{})
	a.Equal("name", plain.columns["Name"])
}
