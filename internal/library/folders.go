package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/models"
)

func ListFolders(ctx context.Context, q Querier, userID int, includeCount bool) ([]models.FolderWithCount, error) {
	var folders []models.Folder
	if err := sorm.FindWhere(ctx, q, &folders, "where user_id = ? order by position_index asc, id asc", userID); err != nil {
		return nil, fmt.Errorf("library.ListFolders: could not find folders: %w", err)
	}

	var counts map[int]int
	if includeCount {
		c, err := countVideosByFolder(ctx, q, userID)
		if err != nil {
			return nil, fmt.Errorf("library.ListFolders: %w", err)
		}
		counts = c
	}

	a := make([]models.FolderWithCount, len(folders))
	for i, folder := range folders {
		a[i].Folder = folder
		if includeCount {
			n := counts[folder.ID]
			a[i].VideoCount = &n
		}
	}

	return a, nil
}

func countVideosByFolder(ctx context.Context, q Querier, userID int) (map[int]int, error) {
	rows, err := q.QueryContext(ctx, "select folder_id, count(1) from videos where user_id = ? and folder_id is not null group by folder_id", userID)
	if err != nil {
		return nil, fmt.Errorf("library.countVideosByFolder: could not query counts: %w", err)
	}
	defer rows.Close()

	m := make(map[int]int)
	for rows.Next() {
		var folderID, count int
		if err := rows.Scan(&folderID, &count); err != nil {
			return nil, fmt.Errorf("library.countVideosByFolder: could not scan row: %w", err)
		}
		m[folderID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("library.countVideosByFolder: %w", err)
	}

	return m, nil
}

func GetFolder(ctx context.Context, q Querier, userID, folderID int) (*models.Folder, error) {
	var folder models.Folder
	if err := sorm.FindFirstWhere(ctx, q, &folder, "where id = ? and user_id = ?", folderID, userID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("library.GetFolder: folder %d: %w", folderID, ErrNotFound)
		}

		return nil, fmt.Errorf("library.GetFolder: could not find folder: %w", err)
	}

	return &folder, nil
}

func DefaultFolder(ctx context.Context, q Querier, userID int) (*models.Folder, error) {
	var folder models.Folder
	if err := sorm.FindFirstWhere(ctx, q, &folder, "where user_id = ? and is_default = 1", userID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("library.DefaultFolder: %w", ErrNoDefaultFolder)
		}

		return nil, fmt.Errorf("library.DefaultFolder: could not find folder: %w", err)
	}

	return &folder, nil
}

func createDefaultFolder(ctx context.Context, tx *sql.Tx, userID int) (*models.Folder, error) {
	folder := models.Folder{
		CreatedAt:     ctxclock.NowOr(ctx),
		UserID:        userID,
		Name:          models.DefaultFolderName,
		PositionIndex: 0,
		IsDefault:     true,
	}

	if err := sorm.CreateRecord(ctx, tx, &folder); err != nil {
		return nil, fmt.Errorf("library.createDefaultFolder: could not create folder record: %w", err)
	}

	return &folder, nil
}

func CreateFolder(ctx context.Context, tx *sql.Tx, userID int, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("library.CreateFolder: %w", invalidInput("Folder name is required"))
	}

	var position int
	if err := tx.QueryRowContext(ctx, "select coalesce(max(position_index), -1) + 1 from folders where user_id = ?", userID).Scan(&position); err != nil {
		return nil, fmt.Errorf("library.CreateFolder: could not find next position: %w", err)
	}

	folder := models.Folder{
		CreatedAt:     ctxclock.NowOr(ctx),
		UserID:        userID,
		Name:          name,
		PositionIndex: position,
	}

	if err := sorm.CreateRecord(ctx, tx, &folder); err != nil {
		return nil, fmt.Errorf("library.CreateFolder: could not create folder record: %w", err)
	}

	return &folder, nil
}

func RenameFolder(ctx context.Context, tx *sql.Tx, userID, folderID int, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("library.RenameFolder: %w", invalidInput("Folder name is required"))
	}

	folder, err := GetFolder(ctx, tx, userID, folderID)
	if err != nil {
		return nil, fmt.Errorf("library.RenameFolder: %w", err)
	}

	folder.Name = name

	if err := sorm.SaveRecord(ctx, tx, folder); err != nil {
		return nil, fmt.Errorf("library.RenameFolder: could not save folder record: %w", err)
	}

	return folder, nil
}

// ReorderFolders gives each folder in folderIDs its index in the list as its
// position. Folders left out keep their current position.
func ReorderFolders(ctx context.Context, tx *sql.Tx, userID int, folderIDs []int) error {
	if len(folderIDs) == 0 {
		return fmt.Errorf("library.ReorderFolders: %w", invalidInput("folderIds must be a non-empty array"))
	}

	var folders []models.Folder
	if err := sorm.FindWhere(ctx, tx, &folders, "where user_id = ?", userID); err != nil {
		return fmt.Errorf("library.ReorderFolders: could not find folders: %w", err)
	}

	owned := make(map[int]bool)
	for _, folder := range folders {
		owned[folder.ID] = true
	}

	seen := make(map[int]bool)
	for _, id := range folderIDs {
		if !owned[id] {
			return fmt.Errorf("library.ReorderFolders: folder %d: %w", id, ErrNotFound)
		}
		if seen[id] {
			return fmt.Errorf("library.ReorderFolders: %w", invalidInput("folderIds must not contain duplicates"))
		}
		seen[id] = true
	}

	for i, id := range folderIDs {
		if _, err := tx.ExecContext(ctx, "update folders set position_index = ? where id = ? and user_id = ?", i, id, userID); err != nil {
			return fmt.Errorf("library.ReorderFolders: could not update folder %d: %w", id, err)
		}
	}

	return nil
}

func DeleteFolder(ctx context.Context, tx *sql.Tx, userID, folderID int) error {
	folder, err := GetFolder(ctx, tx, userID, folderID)
	if err != nil {
		return fmt.Errorf("library.DeleteFolder: %w", err)
	}

	if folder.IsDefault {
		return fmt.Errorf("library.DeleteFolder: %w", ErrDefaultFolder)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "select count(1) from videos where folder_id = ? and user_id = ?", folderID, userID).Scan(&count); err != nil {
		return fmt.Errorf("library.DeleteFolder: could not count videos: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("library.DeleteFolder: %w", ErrFolderNotEmpty)
	}

	if _, err := tx.ExecContext(ctx, "delete from folders where id = ? and user_id = ?", folderID, userID); err != nil {
		return fmt.Errorf("library.DeleteFolder: could not delete folder: %w", err)
	}

	return nil
}
