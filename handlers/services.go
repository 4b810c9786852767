package handlers

import (
	"context"
	"net/http"

	"fknsrs.biz/p/recall/internal/foldercache"
	"fknsrs.biz/p/recall/internal/syncer"
	"fknsrs.biz/p/recall/internal/youtube"
)

// Services are the long lived helpers the API handlers share.
type Services struct {
	Folders  *foldercache.Cache
	Syncer   *syncer.Runner
	Metadata youtube.MetadataFetcher
}

// context registration

var servicesKey int

func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, &servicesKey, s)
}

func GetServices(ctx context.Context) *Services {
	if v := ctx.Value(&servicesKey); v != nil {
		return v.(*Services)
	}

	return nil
}

// middleware

func RegisterServices(s *Services) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithServices(r.Context(), s)))
	}
}

func services(r *http.Request) *Services {
	s := GetServices(r.Context())
	if s == nil {
		panic("handlers: no services in request context")
	}

	return s
}
