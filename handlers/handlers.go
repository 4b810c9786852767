// Package handlers is the JSON API used by the web app and the browser
// extension.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fknsrs.biz/p/recall/internal/ctxauth"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/models"
)

func currentProfile(r *http.Request) *models.Profile {
	p := ctxauth.GetProfile(r.Context())
	if p == nil {
		panic("handlers: no profile in request context")
	}

	return p
}

// libraryError answers with the status that fits err, falling back to a 500
// described by what.
func libraryError(rw http.ResponseWriter, r *http.Request, err error, notFound, what string) {
	var input *library.InputError

	switch {
	case httputil.BadRequest(rw, err):
	case errors.As(err, &input):
		httputil.Error(rw, http.StatusBadRequest, input.Message)
	case errors.Is(err, library.ErrInvalidURL):
		httputil.Error(rw, http.StatusBadRequest, library.ErrInvalidURL.Error())
	case errors.Is(err, library.ErrNotFound):
		httputil.Error(rw, http.StatusNotFound, notFound)
	case errors.Is(err, library.ErrDefaultFolder):
		httputil.Error(rw, http.StatusConflict, library.ErrDefaultFolder.Error())
	case errors.Is(err, library.ErrFolderNotEmpty):
		httputil.Error(rw, http.StatusConflict, library.ErrFolderNotEmpty.Error())
	default:
		httputil.Fail(rw, r, err, what)
	}
}

// queryID reads a positive integer id from the query string.
func queryID(r *http.Request, name string) (int, bool) {
	return parseID(r.URL.Query().Get(name))
}

func parseID(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}

	return n, true
}

func success(rw http.ResponseWriter) {
	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"success": true})
}
