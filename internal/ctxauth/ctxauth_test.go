package ctxauth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/recall/internal/auth"
	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/testdb"
)

func TestRegisterAndRequire(t *testing.T) {
	db := testdb.Open(t)
	clock := ctxclock.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	verifier := auth.NewVerifier("secret", clock)

	n := negroni.New()
	n.UseFunc(ctxdb.Register(db))
	n.UseFunc(ctxclock.Register(clock))
	n.UseFunc(Register(verifier, "recall_session"))
	n.UseHandler(Require(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		p := GetProfile(r.Context())
		fmt.Fprintf(rw, "%d %s %s", p.ID, p.Email, p.FullName)
	})))

	sign := func(sub, email, name string) string {
		s, err := verifier.Sign(auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
			Email:            email,
			UserMetadata:     auth.UserMetadata{Name: name},
		}, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	first := sign("sub-1", "a@example.com", "Ada")
	renamed := sign("sub-1", "a@example.com", "Ada L")
	expired, _ := verifier.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}, -time.Minute)

	for _, tc := range []struct {
		name   string
		bearer string
		cookie string
		status int
		body   string
	}{
		{"anonymous", "", "", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"garbage", "garbage", "", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"expired", expired, "", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"bearer", first, "", http.StatusOK, "1 a@example.com Ada"},
		{"cookie", "", first, http.StatusOK, "1 a@example.com Ada"},
		{"renamed", renamed, "", http.StatusOK, "1 a@example.com Ada L"},
		{"second user", sign("sub-2", "b@example.com", "Bo"), "", http.StatusOK, "2 b@example.com Bo"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tc.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			if tc.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "recall_session", Value: tc.cookie})
			}

			rw := httptest.NewRecorder()
			n.ServeHTTP(rw, r)

			a.Equal(tc.status, rw.Code)
			if tc.status == http.StatusOK {
				a.Equal(tc.body, rw.Body.String())
			} else {
				a.JSONEq(tc.body, rw.Body.String())
			}
		})
	}

	a := assert.New(t)
	a.Equal(2, testdb.Count(t, db, "select count(1) from profiles"))
	a.Equal(2, testdb.Count(t, db, "select count(1) from folders where is_default"))
}

func TestRegisterWithoutDatabase(t *testing.T) {
	a := assert.New(t)

	verifier := auth.NewVerifier("secret", nil)
	token, err := verifier.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}, time.Hour)
	a.NoError(err)

	n := negroni.New()
	n.UseFunc(Register(verifier, "recall_session"))
	n.UseHandler(Require(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	})))

	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	rw := httptest.NewRecorder()
	n.ServeHTTP(rw, r)

	a.Equal(http.StatusUnauthorized, rw.Code)
}

func TestRegisterConcurrentFirstLogin(t *testing.T) {
	a := assert.New(t)

	db := testdb.Open(t)
	verifier := auth.NewVerifier("secret", nil)

	token, err := verifier.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "new-user"}, Email: "new@example.com"}, time.Hour)
	a.NoError(err)

	n := negroni.New()
	n.UseFunc(ctxdb.Register(db))
	n.UseFunc(Register(verifier, "recall_session"))
	n.UseHandler(Require(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(rw, "%d", GetProfile(r.Context()).ID)
	})))

	const requests = 8

	var wg sync.WaitGroup
	codes := make([]int, requests)
	bodies := make([]string, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			r.Header.Set("Authorization", "Bearer "+token)

			rw := httptest.NewRecorder()
			n.ServeHTTP(rw, r)

			codes[i] = rw.Code
			bodies[i] = rw.Body.String()
		}(i)
	}

	wg.Wait()

	for i := 0; i < requests; i++ {
		a.Equal(http.StatusOK, codes[i], bodies[i])
		a.Equal(bodies[0], bodies[i])
	}

	a.Equal(1, testdb.Count(t, db, "select count(1) from profiles"))
	a.Equal(1, testdb.Count(t, db, "select count(1) from folders where is_default"))
}
