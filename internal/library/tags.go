package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fknsrs.biz/p/sorm"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/dbsavepoint"
	"fknsrs.biz/p/recall/internal/tagger"
	"fknsrs.biz/p/recall/models"
)

// ListTags returns the user's tags as a one level tree along with the flat
// list, both ordered by name. Tags whose parent is missing are roots.
func ListTags(ctx context.Context, q Querier, userID int) ([]models.TagWithChildren, []models.Tag, error) {
	var all []models.Tag
	if err := sorm.FindWhere(ctx, q, &all, "where user_id = ? order by name asc, id asc", userID); err != nil {
		return nil, nil, fmt.Errorf("library.ListTags: could not find tags: %w", err)
	}

	byID := make(map[int]bool)
	for _, tag := range all {
		byID[tag.ID] = true
	}

	children := make(map[int][]models.Tag)
	for _, tag := range all {
		if tag.ParentID != nil && byID[*tag.ParentID] {
			children[*tag.ParentID] = append(children[*tag.ParentID], tag)
		}
	}

	tree := []models.TagWithChildren{}
	for _, tag := range all {
		if tag.ParentID != nil && byID[*tag.ParentID] {
			continue
		}

		c := children[tag.ID]
		if c == nil {
			c = []models.Tag{}
		}

		tree = append(tree, models.TagWithChildren{Tag: tag, Children: c})
	}

	if all == nil {
		all = []models.Tag{}
	}

	return tree, all, nil
}

func GetOrCreateTag(ctx context.Context, tx *sql.Tx, userID int, name, color string) (*models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("library.GetOrCreateTag: %w", invalidInput("Tag name is required"))
	}

	var tag models.Tag
	if err := sorm.FindFirstWhere(ctx, tx, &tag, "where user_id = ? and name = ?", userID, name); err == nil {
		return &tag, nil
	} else if !notFound(err) {
		return nil, fmt.Errorf("library.GetOrCreateTag: could not find tag: %w", err)
	}

	if color == "" {
		color = tagger.ColorFor(name)
	}

	tag = models.Tag{
		CreatedAt: ctxclock.NowOr(ctx),
		UserID:    userID,
		Name:      name,
		Color:     color,
	}

	if err := sorm.CreateRecord(ctx, tx, &tag); err != nil {
		return nil, fmt.Errorf("library.GetOrCreateTag: could not create tag record: %w", err)
	}

	return &tag, nil
}

func TagVideo(ctx context.Context, tx *sql.Tx, videoID, tagID int) error {
	if _, err := tx.ExecContext(ctx, "insert or ignore into video_tags (video_id, tag_id) values (?, ?)", videoID, tagID); err != nil {
		return fmt.Errorf("library.TagVideo: could not insert video tag: %w", err)
	}

	return nil
}

// AutoTagVideo applies the keyword tags for title to a video and returns how
// many it applied. Each tag is applied in its own savepoint, so a failure
// is logged and skipped without disturbing the rest of tx.
func AutoTagVideo(ctx context.Context, tx *sql.Tx, userID, videoID int, title string) int {
	names := tagger.DetectTags(title)
	if len(names) == 0 {
		return 0
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"video.id": videoID,
		"user.id":  userID,
	})

	ctx = ctxdb.WithTx(ctx, tx)

	applied := 0
	for _, name := range names {
		if err := ctxdb.UsingSavepoint(ctx, "auto_tag", func(ctx context.Context, sp *dbsavepoint.Savepoint) error {
			tag, err := GetOrCreateTag(ctx, tx, userID, name, tagger.ColorFor(name))
			if err != nil {
				return err
			}

			return TagVideo(ctx, tx, videoID, tag.ID)
		}); err != nil {
			l.WithError(err).WithField("tag.name", name).Warn("could not apply tag")
			continue
		}

		applied++
	}

	return applied
}
