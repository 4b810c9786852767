package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/monoculum/formam"

	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/internal/youtube"
	"fknsrs.biz/p/recall/models"
)

const videoNotFound = "Video not found"

var queryDecoder = formam.NewDecoder(&formam.DecoderOptions{TagName: "formam", IgnoreUnknownKeys: true})

type videoQuery struct {
	FolderID string `formam:"folderId"`
	Unfiled  bool   `formam:"unfiled"`
	Search   string `formam:"search"`
	TagIDs   string `formam:"tagIds"`
	Limit    int    `formam:"limit"`
	Offset   int    `formam:"offset"`
}

func (q videoQuery) filter() (library.VideoFilter, error) {
	f := library.VideoFilter{
		Unfiled: q.Unfiled,
		Search:  q.Search,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}

	if q.FolderID != "" {
		id, ok := parseID(q.FolderID)
		if !ok {
			return f, &httputil.BadRequestError{Message: "folderId is invalid"}
		}
		f.FolderID = &id
	}

	for _, s := range strings.Split(q.TagIDs, ",") {
		if strings.TrimSpace(s) == "" {
			continue
		}

		id, ok := parseID(s)
		if !ok {
			return f, &httputil.BadRequestError{Message: "tagIds is invalid"}
		}
		f.TagIDs = append(f.TagIDs, id)
	}

	if q.Limit < 0 || q.Offset < 0 {
		return f, &httputil.BadRequestError{Message: "limit and offset must not be negative"}
	}

	return f, nil
}

func Videos(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var q videoQuery
	if err := queryDecoder.Decode(r.URL.Query(), &q); err != nil {
		httputil.Error(rw, http.StatusBadRequest, "Invalid query")
		return
	}

	filter, err := q.filter()
	if err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to fetch videos")
		return
	}

	videos, err := library.ListVideos(r.Context(), ctxdb.GetDB(r.Context()), p.ID, filter)
	if err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to fetch videos")
		return
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"videos": videos})
}

func videoID(rw http.ResponseWriter, r *http.Request) (int, bool) {
	s, ok := mux.Vars(r)["id"]
	if !ok {
		s = r.URL.Query().Get("id")
	}

	id, ok := parseID(s)
	if !ok {
		httputil.Error(rw, http.StatusBadRequest, "Video ID is required")
		return 0, false
	}

	return id, true
}

func Video(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	id, ok := videoID(rw, r)
	if !ok {
		return
	}

	video, err := library.GetVideo(r.Context(), ctxdb.GetDB(r.Context()), p.ID, id)
	if err != nil {
		libraryError(rw, r, err, videoNotFound, "Failed to fetch video")
		return
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"video": video})
}

func UpdateVideo(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	id, ok := videoID(rw, r)
	if !ok {
		return
	}

	var input struct {
		Notes           *string `json:"notes" validate:"omitempty,max=10000"`
		ResumeAtSeconds *int    `json:"resumeAtSeconds" validate:"omitempty,gte=0"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, videoNotFound, "Failed to update video")
		return
	}

	var video *models.VideoWithRelations
	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		v, err := library.UpdateVideo(ctx, tx, p.ID, id, library.VideoUpdate{
			Notes:           input.Notes,
			ResumeAtSeconds: input.ResumeAtSeconds,
		})
		video = v
		return err
	}); err != nil {
		libraryError(rw, r, err, videoNotFound, "Failed to update video")
		return
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"video": video})
}

func DeleteVideo(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	id, ok := videoID(rw, r)
	if !ok {
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.DeleteVideo(ctx, tx, p.ID, id)
	}); err != nil {
		libraryError(rw, r, err, videoNotFound, "Failed to delete video")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	success(rw)
}

func MoveVideo(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var input struct {
		VideoID     int  `json:"videoId" validate:"required"`
		NewFolderID *int `json:"newFolderId"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, videoNotFound, "Failed to move video")
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.MoveVideo(ctx, tx, p.ID, input.VideoID, input.NewFolderID)
	}); err != nil {
		libraryError(rw, r, err, "Video or folder not found", "Failed to move video")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	success(rw)
}

func AddVideoByURL(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)
	s := services(r)

	var input struct {
		URL      string `json:"url"`
		FolderID *int   `json:"folderId"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to add video")
		return
	}

	video, err := library.AddVideoByURL(r.Context(), p.ID, library.AddVideoInput{
		URL:      input.URL,
		FolderID: input.FolderID,
	}, s.Metadata)

	var saved *library.AlreadySavedError

	switch {
	case err == nil:
		s.Folders.Invalidate(p.ID)

		httputil.JSON(rw, http.StatusCreated, map[string]interface{}{
			"success": true,
			"video":   video,
			"message": "Video added successfully",
		})
	case errors.As(err, &saved):
		httputil.JSON(rw, http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   library.ErrAlreadySaved.Error(),
			"message": saved.Error(),
		})
	case errors.Is(err, library.ErrAlreadySaved):
		httputil.JSON(rw, http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   library.ErrAlreadySaved.Error(),
			"message": library.ErrAlreadySaved.Error(),
		})
	case errors.Is(err, youtube.ErrMetadataUnavailable):
		httputil.ErrorWithMessage(rw, http.StatusBadGateway, "Failed to fetch video details from YouTube", err.Error())
	case errors.Is(err, library.ErrNoDefaultFolder):
		httputil.Error(rw, http.StatusInternalServerError, library.ErrNoDefaultFolder.Error())
	default:
		libraryError(rw, r, err, folderNotFound, "Failed to add video")
	}
}
