package handlers

import (
	"net/http"

	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
)

func Tags(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	tags, all, err := library.ListTags(r.Context(), ctxdb.GetDB(r.Context()), p.ID)
	if err != nil {
		httputil.Fail(rw, r, err, "Failed to fetch tags")
		return
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{
		"tags":    tags,
		"allTags": all,
	})
}
