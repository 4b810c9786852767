package handlers

import (
	"context"
	"database/sql"
	"net/http"

	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/models"
)

const folderNotFound = "Folder not found"

func Folders(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)
	s := services(r)

	includeCount := r.URL.Query().Get("includeCount") == "true"

	folders, gen, ok := s.Folders.Get(p.ID, includeCount)
	if !ok {
		v, err := library.ListFolders(r.Context(), ctxdb.GetDB(r.Context()), p.ID, includeCount)
		if err != nil {
			httputil.Fail(rw, r, err, "Failed to fetch folders")
			return
		}

		s.Folders.Set(p.ID, includeCount, gen, v)
		folders = v
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"folders": folders})
}

func CreateFolder(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var input struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to create folder")
		return
	}

	var folder *models.Folder
	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		v, err := library.CreateFolder(ctx, tx, p.ID, input.Name)
		folder = v
		return err
	}); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to create folder")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	httputil.JSON(rw, http.StatusCreated, map[string]interface{}{"folder": folder})
}

func RenameFolder(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var input struct {
		ID   int    `json:"id" validate:"required"`
		Name string `json:"name" validate:"required,max=100"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to update folder")
		return
	}

	var folder *models.Folder
	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		v, err := library.RenameFolder(ctx, tx, p.ID, input.ID, input.Name)
		folder = v
		return err
	}); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to update folder")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"folder": folder})
}

func ReorderFolders(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var input struct {
		FolderIDs []int `json:"folderIds" validate:"required,min=1"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to reorder folders")
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.ReorderFolders(ctx, tx, p.ID, input.FolderIDs)
	}); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to reorder folders")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	success(rw)
}

func DeleteFolder(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	id, ok := queryID(r, "id")
	if !ok {
		httputil.Error(rw, http.StatusBadRequest, "Folder ID is required")
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.DeleteFolder(ctx, tx, p.ID, id)
	}); err != nil {
		libraryError(rw, r, err, folderNotFound, "Failed to delete folder")
		return
	}

	services(r).Folders.Invalidate(p.ID)

	success(rw)
}
