package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ptr"
	"fknsrs.biz/p/recall/models"
)

type ProfileInput struct {
	Subject   string
	Email     string
	FullName  string
	AvatarURL string
}

// EnsureProfile finds the profile for a subject, creating it along with its
// Inbox folder on first sight. Identity fields are refreshed when they've
// changed. The second return value reports whether it was created.
func EnsureProfile(ctx context.Context, tx *sql.Tx, input ProfileInput) (*models.Profile, bool, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return nil, false, fmt.Errorf("library.EnsureProfile: %w", invalidInput("subject is required"))
	}

	var profile models.Profile
	if err := sorm.FindFirstWhere(ctx, tx, &profile, "where subject = ?", input.Subject); err == nil {
		if profile.Email == input.Email && profile.FullName == input.FullName && profile.AvatarURL == input.AvatarURL {
			return &profile, false, nil
		}

		profile.Email = input.Email
		profile.FullName = input.FullName
		profile.AvatarURL = input.AvatarURL

		if err := sorm.SaveRecord(ctx, tx, &profile); err != nil {
			return nil, false, fmt.Errorf("library.EnsureProfile: could not save profile record: %w", err)
		}

		return &profile, false, nil
	} else if !notFound(err) {
		return nil, false, fmt.Errorf("library.EnsureProfile: could not find profile: %w", err)
	}

	profile = models.Profile{
		CreatedAt: ctxclock.NowOr(ctx),
		Subject:   input.Subject,
		Email:     input.Email,
		FullName:  input.FullName,
		AvatarURL: input.AvatarURL,
	}

	if err := sorm.CreateRecord(ctx, tx, &profile); err != nil {
		return nil, false, fmt.Errorf("library.EnsureProfile: could not create profile record: %w", err)
	}

	if _, err := createDefaultFolder(ctx, tx, profile.ID); err != nil {
		return nil, false, fmt.Errorf("library.EnsureProfile: %w", err)
	}

	return &profile, true, nil
}

func GetProfile(ctx context.Context, q Querier, userID int) (*models.Profile, error) {
	var profile models.Profile
	if err := sorm.FindFirstWhere(ctx, q, &profile, "where id = ?", userID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("library.GetProfile: profile %d: %w", userID, ErrNotFound)
		}

		return nil, fmt.Errorf("library.GetProfile: could not find profile: %w", err)
	}

	return &profile, nil
}

// SetYouTubeTokens stores a fresh set of tokens. An empty refresh token keeps
// the one already stored, since refreshes don't always issue a new one.
func SetYouTubeTokens(ctx context.Context, tx *sql.Tx, userID int, accessToken, refreshToken string, expiry *time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("library.SetYouTubeTokens: %w", invalidInput("accessToken is required"))
	}

	profile, err := GetProfile(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("library.SetYouTubeTokens: %w", err)
	}

	profile.YouTubeAccessToken = ptr.String(accessToken)
	if refreshToken != "" {
		profile.YouTubeRefreshToken = ptr.String(refreshToken)
	}
	profile.YouTubeTokenExpiry = expiry
	if profile.YouTubeConnectedAt == nil {
		profile.YouTubeConnectedAt = ptr.Time(ctxclock.NowOr(ctx))
	}

	if err := sorm.SaveRecord(ctx, tx, profile); err != nil {
		return fmt.Errorf("library.SetYouTubeTokens: could not save profile record: %w", err)
	}

	return nil
}

func ClearYouTubeTokens(ctx context.Context, tx *sql.Tx, userID int) error {
	profile, err := GetProfile(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("library.ClearYouTubeTokens: %w", err)
	}

	profile.YouTubeAccessToken = nil
	profile.YouTubeRefreshToken = nil
	profile.YouTubeTokenExpiry = nil
	profile.YouTubeConnectedAt = nil

	if err := sorm.SaveRecord(ctx, tx, profile); err != nil {
		return fmt.Errorf("library.ClearYouTubeTokens: could not save profile record: %w", err)
	}

	return nil
}

func TouchLastSync(ctx context.Context, tx *sql.Tx, userID int, at time.Time) error {
	res, err := tx.ExecContext(ctx, "update profiles set last_sync_at = ? where id = ?", at, userID)
	if err != nil {
		return fmt.Errorf("library.TouchLastSync: could not update profile: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("library.TouchLastSync: profile %d: %w", userID, ErrNotFound)
	}

	return nil
}

// ListProfilesDueForSync finds connected profiles that have never synced or
// last synced before the given time.
func ListProfilesDueForSync(ctx context.Context, q Querier, before time.Time) ([]models.Profile, error) {
	var profiles []models.Profile
	if err := sorm.FindWhere(
		ctx, q, &profiles,
		"where youtube_access_token is not null and youtube_access_token != '' and (last_sync_at is null or last_sync_at < ?) order by id asc",
		before,
	); err != nil {
		return nil, fmt.Errorf("library.ListProfilesDueForSync: could not find profiles: %w", err)
	}

	return profiles, nil
}
