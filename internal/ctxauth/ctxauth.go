package ctxauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/auth"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/models"
)

// context registration

var profileKey int

func WithProfile(ctx context.Context, p *models.Profile) context.Context {
	return context.WithValue(ctx, &profileKey, p)
}

func GetProfile(ctx context.Context) *models.Profile {
	if v := ctx.Value(&profileKey); v != nil {
		return v.(*models.Profile)
	}

	return nil
}

// middleware

// Register resolves the request's session token to a profile, creating the
// profile on first sight. Requests without a usable token pass through
// without one; use Require to reject them.
func Register(verifier *auth.Verifier, cookieName string) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := r.Context()
		l := ctxlogger.GetLogger(ctx)

		token, err := auth.TokenFromRequest(r, cookieName)
		if err != nil {
			if !errors.Is(err, auth.ErrNoToken) {
				l.WithError(err).Debug("could not read session token")
			}
			next(rw, r)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			l.WithError(err).Debug("rejected session token")
			next(rw, r)
			return
		}

		profile, err := ensureProfile(ctx, claims)
		if err != nil {
			l.WithError(err).Error("could not load profile for session")
			next(rw, r)
			return
		}

		ctx = WithProfile(ctx, profile)
		ctx = ctxlogger.AddHookPair(ctx, nil, func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithField("user.id", profile.ID)
		})

		next(rw, r.WithContext(ctx))
	}
}

const ensureAttempts = 3

// ensureProfile loads or creates the profile for claims. Two first requests
// for a new subject race to create it, and the loser's transaction fails; the
// next attempt finds the winner's profile.
func ensureProfile(ctx context.Context, claims *auth.Claims) (*models.Profile, error) {
	l := ctxlogger.GetLogger(ctx)

	input := library.ProfileInput{
		Subject:   claims.Subject,
		Email:     claims.Email,
		FullName:  claims.DisplayName(),
		AvatarURL: claims.Avatar(),
	}

	var err error
	for attempt := 1; attempt <= ensureAttempts; attempt++ {
		var profile *models.Profile
		profile, err = ctxdb.UsingTxValue(ctx, nil, func(ctx context.Context, tx *sql.Tx) (*models.Profile, error) {
			p, created, err := library.EnsureProfile(ctx, tx, input)
			if err != nil {
				return nil, err
			}

			if created {
				l.WithField("user.id", p.ID).Info("created profile")
			}

			return p, nil
		})
		if err == nil {
			return profile, nil
		}
		if !library.IsConflict(err) {
			break
		}

		l.WithError(err).WithField("auth.attempt", attempt).Debug("profile changed underneath us, trying again")
	}

	return nil, fmt.Errorf("ctxauth.ensureProfile: %w", err)
}

// Require answers 401 for requests that Register couldn't attach a profile
// to.
func Require(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if GetProfile(r.Context()) == nil {
			httputil.Unauthorized(rw, r)
			return
		}

		h.ServeHTTP(rw, r)
	})
}
