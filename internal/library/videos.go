package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ptr"
	"fknsrs.biz/p/recall/internal/youtube"
	"fknsrs.biz/p/recall/internal/ytutil"
	"fknsrs.biz/p/recall/models"
)

const (
	DefaultVideoLimit = 50
	MaxVideoLimit     = 500
)

type VideoFilter struct {
	FolderID *int
	Unfiled  bool
	Search   string
	TagIDs   []int
	Limit    int
	Offset   int
}

func ListVideos(ctx context.Context, q Querier, userID int, filter VideoFilter) ([]models.VideoWithRelations, error) {
	t := models.VideoTable

	conditions := []sb.AsExpr{
		sb.BinaryOperator("=", t.C("UserID"), sb.Bind(userID)),
	}

	if filter.FolderID != nil {
		conditions = append(conditions, sb.BinaryOperator("=", t.C("FolderID"), sb.Bind(*filter.FolderID)))
	} else if filter.Unfiled {
		conditions = append(conditions, sb.BinaryOperator("is", t.C("FolderID"), sb.Literal("null")))
	}

	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		conditions = append(conditions, sb.BooleanOperator(
			"or",
			sb.Ne(sb.Func("instr", sb.Func("lower", t.C("Title")), sb.Bind(search)), sb.Literal("0")),
			sb.Ne(sb.Func("instr", sb.Func("lower", t.C("ChannelName")), sb.Bind(search)), sb.Literal("0")),
		))
	}

	if len(filter.TagIDs) > 0 {
		tagIDs, err := expandTagIDs(ctx, q, userID, filter.TagIDs)
		if err != nil {
			return nil, fmt.Errorf("library.ListVideos: %w", err)
		}

		if len(tagIDs) == 0 {
			return []models.VideoWithRelations{}, nil
		}

		conditions = append(conditions, sb.BinaryOperator(
			"in",
			t.C("ID"),
			sb.Literal("(select video_id from video_tags where tag_id in ("+intList(tagIDs)+"))"),
		))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultVideoLimit
	}
	if limit > MaxVideoLimit {
		limit = MaxVideoLimit
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var videos []models.Video
	if err := qsorm.FindWhere(
		ctx,
		q,
		&videos,
		sb.BooleanOperator("and", conditions...),
		[]sb.AsOrderingTerm{
			sb.OrderAsc(sb.BinaryOperator("is", t.C("LikedAt"), sb.Literal("null"))),
			sb.OrderDesc(t.C("LikedAt")),
			sb.OrderDesc(t.C("CreatedAt")),
			sb.OrderDesc(t.C("ID")),
		},
		sb.OffsetLimit(sb.Bind(offset), sb.Bind(limit)),
	); err != nil {
		return nil, fmt.Errorf("library.ListVideos: could not find videos: %w", err)
	}

	a, err := withRelations(ctx, q, userID, videos)
	if err != nil {
		return nil, fmt.Errorf("library.ListVideos: %w", err)
	}

	return a, nil
}

// expandTagIDs returns the user's tags among ids plus their direct children.
func expandTagIDs(ctx context.Context, q Querier, userID int, ids []int) ([]int, error) {
	var tags []models.Tag
	if err := sorm.FindWhere(
		ctx, q, &tags,
		"where user_id = ? and (id in ("+intList(ids)+") or parent_id in ("+intList(ids)+")) order by id",
		userID,
	); err != nil {
		return nil, fmt.Errorf("library.expandTagIDs: could not find tags: %w", err)
	}

	a := make([]int, len(tags))
	for i, tag := range tags {
		a[i] = tag.ID
	}

	return a, nil
}

func withRelations(ctx context.Context, q Querier, userID int, videos []models.Video) ([]models.VideoWithRelations, error) {
	a := make([]models.VideoWithRelations, len(videos))
	if len(videos) == 0 {
		return a, nil
	}

	var videoIDs []int
	folderIDs := make(map[int]bool)
	for _, video := range videos {
		videoIDs = append(videoIDs, video.ID)
		if video.FolderID != nil {
			folderIDs[*video.FolderID] = true
		}
	}

	folders := make(map[int]models.Folder)
	if len(folderIDs) > 0 {
		var ids []int
		for id := range folderIDs {
			ids = append(ids, id)
		}

		var list []models.Folder
		if err := sorm.FindWhere(ctx, q, &list, "where user_id = ? and id in ("+intList(ids)+")", userID); err != nil {
			return nil, fmt.Errorf("library.withRelations: could not find folders: %w", err)
		}

		for _, folder := range list {
			folders[folder.ID] = folder
		}
	}

	var links []models.VideoTag
	if err := sorm.FindWhere(ctx, q, &links, "where video_id in ("+intList(videoIDs)+") order by id"); err != nil {
		return nil, fmt.Errorf("library.withRelations: could not find video tags: %w", err)
	}

	tags := make(map[int]models.Tag)
	if len(links) > 0 {
		var list []models.Tag
		if err := sorm.FindWhere(ctx, q, &list, "where user_id = ? and id in (select tag_id from video_tags where video_id in ("+intList(videoIDs)+"))", userID); err != nil {
			return nil, fmt.Errorf("library.withRelations: could not find tags: %w", err)
		}

		for _, tag := range list {
			tags[tag.ID] = tag
		}
	}

	tagsByVideo := make(map[int][]models.Tag)
	for _, link := range links {
		if tag, ok := tags[link.TagID]; ok {
			tagsByVideo[link.VideoID] = append(tagsByVideo[link.VideoID], tag)
		}
	}

	for i, video := range videos {
		a[i].Video = video
		a[i].Tags = tagsByVideo[video.ID]
		if a[i].Tags == nil {
			a[i].Tags = []models.Tag{}
		}
		if video.FolderID != nil {
			if folder, ok := folders[*video.FolderID]; ok {
				a[i].Folder = &folder
			}
		}
	}

	return a, nil
}

func findVideo(ctx context.Context, q Querier, userID, videoID int) (*models.Video, error) {
	var video models.Video
	if err := sorm.FindFirstWhere(ctx, q, &video, "where id = ? and user_id = ?", videoID, userID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("library.findVideo: video %d: %w", videoID, ErrNotFound)
		}

		return nil, fmt.Errorf("library.findVideo: could not find video: %w", err)
	}

	return &video, nil
}

func GetVideo(ctx context.Context, q Querier, userID, videoID int) (*models.VideoWithRelations, error) {
	video, err := findVideo(ctx, q, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("library.GetVideo: %w", err)
	}

	a, err := withRelations(ctx, q, userID, []models.Video{*video})
	if err != nil {
		return nil, fmt.Errorf("library.GetVideo: %w", err)
	}

	return &a[0], nil
}

func DeleteVideo(ctx context.Context, tx *sql.Tx, userID, videoID int) error {
	res, err := tx.ExecContext(ctx, "delete from videos where id = ? and user_id = ?", videoID, userID)
	if err != nil {
		return fmt.Errorf("library.DeleteVideo: could not delete video: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("library.DeleteVideo: could not get affected rows: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("library.DeleteVideo: video %d: %w", videoID, ErrNotFound)
	}

	return nil
}

// MoveVideo puts a video in a folder, or takes it out of any folder when
// folderID is nil.
func MoveVideo(ctx context.Context, tx *sql.Tx, userID, videoID int, folderID *int) error {
	video, err := findVideo(ctx, tx, userID, videoID)
	if err != nil {
		return fmt.Errorf("library.MoveVideo: %w", err)
	}

	if folderID != nil {
		if _, err := GetFolder(ctx, tx, userID, *folderID); err != nil {
			return fmt.Errorf("library.MoveVideo: %w", err)
		}
	}

	video.FolderID = folderID

	if err := sorm.SaveRecord(ctx, tx, video); err != nil {
		return fmt.Errorf("library.MoveVideo: could not save video record: %w", err)
	}

	return nil
}

type VideoUpdate struct {
	Notes           *string
	ResumeAtSeconds *int
}

func UpdateVideo(ctx context.Context, tx *sql.Tx, userID, videoID int, update VideoUpdate) (*models.VideoWithRelations, error) {
	if update.ResumeAtSeconds != nil && *update.ResumeAtSeconds < 0 {
		return nil, fmt.Errorf("library.UpdateVideo: %w", invalidInput("resumeAtSeconds must not be negative"))
	}

	video, err := findVideo(ctx, tx, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("library.UpdateVideo: %w", err)
	}

	if update.Notes != nil {
		video.Notes = *update.Notes
	}
	if update.ResumeAtSeconds != nil {
		video.ResumeAtSeconds = *update.ResumeAtSeconds
	}

	if err := sorm.SaveRecord(ctx, tx, video); err != nil {
		return nil, fmt.Errorf("library.UpdateVideo: could not save video record: %w", err)
	}

	v, err := GetVideo(ctx, tx, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("library.UpdateVideo: %w", err)
	}

	return v, nil
}

const existingIDsBatchSize = 500

func FindExistingYouTubeIDs(ctx context.Context, q Querier, userID int, youtubeIDs []string) (map[string]bool, error) {
	m := make(map[string]bool)

	for start := 0; start < len(youtubeIDs); start += existingIDsBatchSize {
		end := start + existingIDsBatchSize
		if end > len(youtubeIDs) {
			end = len(youtubeIDs)
		}
		batch := youtubeIDs[start:end]

		args := []interface{}{userID}
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := q.QueryContext(ctx, "select youtube_id from videos where user_id = ? and youtube_id in ("+placeholders(len(batch))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("library.FindExistingYouTubeIDs: could not query videos: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("library.FindExistingYouTubeIDs: could not scan row: %w", err)
			}
			m[id] = true
		}

		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("library.FindExistingYouTubeIDs: %w", err)
		}
	}

	return m, nil
}

func FindVideoByYouTubeID(ctx context.Context, q Querier, userID int, youtubeID string) (*models.Video, error) {
	var video models.Video
	if err := sorm.FindFirstWhere(ctx, q, &video, "where user_id = ? and youtube_id = ?", userID, youtubeID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("library.FindVideoByYouTubeID: %s: %w", youtubeID, ErrNotFound)
		}

		return nil, fmt.Errorf("library.FindVideoByYouTubeID: could not find video: %w", err)
	}

	return &video, nil
}

func CountVideos(ctx context.Context, q Querier, userID int) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "select count(1) from videos where user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("library.CountVideos: %w", err)
	}

	return n, nil
}

// InsertVideo stores a new video. A video the user already has is
// ErrAlreadySaved.
func InsertVideo(ctx context.Context, tx *sql.Tx, video *models.Video) error {
	if video.CreatedAt.IsZero() {
		video.CreatedAt = ctxclock.NowOr(ctx)
	}

	if err := sorm.CreateRecord(ctx, tx, video); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("library.InsertVideo: %s: %w", video.YouTubeID, ErrAlreadySaved)
		}

		return fmt.Errorf("library.InsertVideo: could not create video record: %w", err)
	}

	return nil
}

type AddVideoInput struct {
	URL      string
	FolderID *int
}

// AddVideoByURL saves the video a URL points at. The duplicate check, folder
// lookup and metadata fetch all happen outside any transaction. The write
// transaction that follows inserts before it reads, so it holds the write lock
// for the whole of its work and never runs on a stale snapshot.
func AddVideoByURL(ctx context.Context, userID int, input AddVideoInput, fetcher youtube.MetadataFetcher) (*models.VideoWithRelations, error) {
	db := ctxdb.GetDB(ctx)
	if db == nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", ctxdb.ErrNoDB)
	}

	if strings.TrimSpace(input.URL) == "" {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", invalidInput("YouTube URL is required"))
	}

	youtubeID, err := ytutil.ExtractVideoID(input.URL)
	if err != nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w: %s", ErrInvalidURL, err.Error())
	}

	if err := checkNotSaved(ctx, db, userID, youtubeID); err != nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", err)
	}

	folder, err := resolveFolder(ctx, db, userID, input.FolderID)
	if err != nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", err)
	}

	meta, err := fetcher.VideoByID(ctx, youtubeID)
	if err != nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", err)
	}

	video := models.Video{
		UserID:       userID,
		FolderID:     ptr.Int(folder.ID),
		YouTubeID:    youtubeID,
		Title:        meta.Title,
		ChannelName:  meta.ChannelName,
		ThumbnailURL: meta.ThumbnailURL,
	}
	if meta.ChannelThumbnail != "" {
		video.ChannelThumbnail = ptr.String(meta.ChannelThumbnail)
	}
	if meta.Duration != "" {
		video.Duration = ptr.String(meta.Duration)
	}

	v, err := ctxdb.UsingTxValue(ctx, nil, func(ctx context.Context, tx *sql.Tx) (*models.VideoWithRelations, error) {
		if err := InsertVideo(ctx, tx, &video); err != nil {
			switch {
			case errors.Is(err, ErrAlreadySaved):
				if err := checkNotSaved(ctx, tx, userID, youtubeID); err != nil {
					return nil, err
				}
			case isForeignKeyViolation(err):
				if _, err := resolveFolder(ctx, tx, userID, input.FolderID); err != nil {
					return nil, err
				}
			}

			return nil, err
		}

		AutoTagVideo(ctx, tx, userID, video.ID, video.Title)

		return GetVideo(ctx, tx, userID, video.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("library.AddVideoByURL: %w", err)
	}

	return v, nil
}

// checkNotSaved returns an *AlreadySavedError naming the folder when the user
// already has the video.
func checkNotSaved(ctx context.Context, q Querier, userID int, youtubeID string) error {
	existing, err := FindVideoByYouTubeID(ctx, q, userID, youtubeID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return err
	}

	folderName := "Unfiled"
	if existing.FolderID != nil {
		if folder, err := GetFolder(ctx, q, userID, *existing.FolderID); err == nil {
			folderName = folder.Name
		}
	}

	return &AlreadySavedError{Title: existing.Title, FolderName: folderName}
}

func resolveFolder(ctx context.Context, q Querier, userID int, folderID *int) (*models.Folder, error) {
	if folderID != nil {
		return GetFolder(ctx, q, userID, *folderID)
	}

	return DefaultFolder(ctx, q, userID)
}
