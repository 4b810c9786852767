// Package httpcache is a bbolt backed http.RoundTripper for the public,
// unauthenticated YouTube lookups (oEmbed and watch pages). Anything
// carrying credentials or going to the Google APIs always hits the network.
package httpcache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxlogger"
)

const DefaultMaxAge = time.Hour * 24

type cachedResponse struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *cachedResponse) makeResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

type Storage interface {
	Fetch(u *url.URL) (*cachedResponse, error)
	Save(u *url.URL, r *cachedResponse) error
	Purge(olderThan time.Time) (int, error)
}

var bboltBucketName = []byte("http_cache")

type BBoltStorage struct {
	db *bbolt.DB
}

func NewBBoltStorage(db *bbolt.DB) *BBoltStorage {
	return &BBoltStorage{db: db}
}

func makeBBoltKey(u *url.URL) []byte {
	h := sha1.New()
	io.WriteString(h, u.String())
	return []byte(path.Join(u.Host, hex.EncodeToString(h.Sum(nil))))
}

func (s *BBoltStorage) Fetch(u *url.URL) (*cachedResponse, error) {
	var d []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bboltBucketName); b != nil {
			// bbolt values are only valid inside the transaction
			if v := b.Get(makeBBoltKey(u)); v != nil {
				d = append([]byte(nil), v...)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: %w", err)
	}

	if d == nil {
		return nil, nil
	}

	var r cachedResponse
	if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&r); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: could not decode entry: %w", err)
	}

	return &r, nil
}

func (s *BBoltStorage) Save(u *url.URL, r *cachedResponse) error {
	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(r); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Save: could not encode entry: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bboltBucketName)
		if err != nil {
			return err
		}

		return b.Put(makeBBoltKey(u), buf.Bytes())
	}); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	return nil
}

// Purge deletes entries stored before olderThan, returning how many.
func (s *BBoltStorage) Purge(olderThan time.Time) (int, error) {
	n := 0

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bboltBucketName)
		if b == nil {
			return nil
		}

		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var r cachedResponse
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&r); err != nil || r.UpdatedAt.Before(olderThan) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		n = len(stale)

		return nil
	}); err != nil {
		return 0, fmt.Errorf("httpcache.BBoltStorage.Purge: %w", err)
	}

	return n, nil
}

type Transport struct {
	transport http.RoundTripper
	storage   Storage
	maxAge    time.Duration
	clock     ctxclock.Clock
}

func NewTransport(transport http.RoundTripper, storage Storage, maxAge time.Duration, clock ctxclock.Clock) *Transport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if clock == nil {
		clock = ctxclock.NewRealClock()
	}

	return &Transport{
		transport: transport,
		storage:   storage,
		maxAge:    maxAge,
		clock:     clock,
	}
}

func (t *Transport) now() time.Time {
	if n, err := t.clock.Now(); err == nil {
		return n
	}

	return time.Now().UTC()
}

// Cacheable reports whether req may be answered from or stored in the cache.
func Cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}

	if req.Header.Get("authorization") != "" {
		return false
	}

	host := strings.ToLower(req.URL.Hostname())
	if host == "googleapis.com" || strings.HasSuffix(host, ".googleapis.com") {
		return false
	}

	// api keys travel in the query string
	if req.URL.Query().Has("key") {
		return false
	}

	return true
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !Cacheable(req) {
		return t.transport.RoundTrip(req)
	}

	l := ctxlogger.GetLogger(req.Context()).WithField("http.url", req.URL.String())

	cr, err := t.storage.Fetch(req.URL)
	if err != nil {
		l.WithError(err).Warn("could not read http cache entry")
	} else if cr != nil && t.now().Sub(cr.UpdatedAt) < t.maxAge {
		l.Trace("http cache hit")
		return cr.makeResponse(req), nil
	}

	res, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return res, nil
	}

	d, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: could not read body: %w", err)
	}

	cr = &cachedResponse{
		UpdatedAt:  t.now(),
		URL:        req.URL.String(),
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       d,
	}

	if err := t.storage.Save(req.URL, cr); err != nil {
		l.WithError(err).Warn("could not write http cache entry")
	}

	return cr.makeResponse(req), nil
}
