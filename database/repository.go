package database

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calebmc/geosnap/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Repository handles database operations for the dedupe backend entities
type Repository struct {
	DB *gorm.DB
}

// NewRepository creates a new instance of Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{DB: db}
}

// UpsertLocation registers or refreshes a geotagged upload by image id
func (r *Repository) UpsertLocation(loc *models.Location) error {
	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_name", "latitude", "longitude"}),
	}).Create(loc).Error
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", loc.ImageID, err)
	}
	return nil
}

// ListLocations returns every registered location
func (r *Repository) ListLocations() ([]models.Location, error) {
	var locations []models.Location
	if err := r.DB.Order("created_at ASC, image_id ASC").Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// DeleteLocation removes a location and every pair referencing it
func (r *Repository) DeleteLocation(imageID string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Location{}, "image_id = ?", imageID).Error; err != nil {
			return fmt.Errorf("failed to delete location %s: %w", imageID, err)
		}
		if err := tx.Delete(&models.SimilarPair{}, "image_id_1 = ? OR image_id_2 = ?", imageID, imageID).Error; err != nil {
			return fmt.Errorf("failed to delete pairs referencing %s: %w", imageID, err)
		}
		return nil
	})
}

// ReplacePairs swaps the stored candidate pair set for a freshly computed one
func (r *Repository) ReplacePairs(pairs []models.SimilarPair) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.SimilarPair{}).Error; err != nil {
			return fmt.Errorf("failed to clear pairs: %w", err)
		}
		if len(pairs) == 0 {
			return nil
		}
		if err := tx.Create(&pairs).Error; err != nil {
			return fmt.Errorf("failed to insert pairs: %w", err)
		}
		return nil
	})
}

// GetPair fetches a candidate pair by id
func (r *Repository) GetPair(pairID string) (*models.SimilarPair, error) {
	var pair models.SimilarPair
	err := r.DB.Where("pair_id = ?", pairID).First(&pair).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get pair %s: %w", pairID, err)
	}
	return &pair, nil
}

// DeletePair removes a single candidate pair
func (r *Repository) DeletePair(pairID string) error {
	if err := r.DB.Delete(&models.SimilarPair{}, "pair_id = ?", pairID).Error; err != nil {
		return fmt.Errorf("failed to delete pair %s: %w", pairID, err)
	}
	return nil
}

// SaveDecision appends a resolution decision to the audit table
func (r *Repository) SaveDecision(decision *models.Decision) error {
	if err := r.DB.Create(decision).Error; err != nil {
		return fmt.Errorf("failed to save decision for pair %s: %w", decision.PairID, err)
	}
	return nil
}

// CreateStoredImage inserts a cloud-storage record with thumbnailing pending
func (r *Repository) CreateStoredImage(img *models.StoredImage) error {
	img.ThumbnailStatus = models.StatusPending
	if err := r.DB.Create(img).Error; err != nil {
		return fmt.Errorf("failed to create stored image %s: %w", img.ID, err)
	}
	return nil
}

// GetStoredImage fetches a stored image by id
func (r *Repository) GetStoredImage(id string) (*models.StoredImage, error) {
	var img models.StoredImage
	err := r.DB.Where("id = ?", id).First(&img).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get stored image %s: %w", id, err)
	}
	return &img, nil
}

// MarkStoredImageThumbnailProcessing flips the thumbnail task to processing
// and clears any previous error
func (r *Repository) MarkStoredImageThumbnailProcessing(id string) error {
	updates := map[string]interface{}{
		"thumbnail_status": models.StatusProcessing,
		"thumbnail_error":  gorm.Expr("NULL"),
	}
	result := r.DB.Model(&models.StoredImage{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark thumbnail processing for %s: %w", id, result.Error)
	}
	return nil
}

// UpdateStoredImageThumbnailResult records the outcome of a thumbnail task
func (r *Repository) UpdateStoredImageThumbnailResult(id string, thumbPath *string, taskErr error) error {
	now := time.Now().Unix()
	updates := map[string]interface{}{
		"thumbnail_processed_at": now,
	}
	if taskErr != nil {
		errMsg := taskErr.Error()
		updates["thumbnail_status"] = models.StatusError
		updates["thumbnail_error"] = errMsg
	} else {
		updates["thumbnail_status"] = models.StatusDone
		updates["thumbnail_path"] = thumbPath
		updates["thumbnail_error"] = gorm.Expr("NULL")
	}

	result := r.DB.Model(&models.StoredImage{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update thumbnail result for %s: %w", id, result.Error)
	}
	return nil
}

// ListStoredImages returns the cloud-storage listing. status filters by
// thumbnail status; nameQuery does a substring match on the original name.
// Built with squirrel because the filter set is dynamic.
func (r *Repository) ListStoredImages(status, nameQuery string) ([]models.StoredImage, error) {
	queryBuilder := psql.Select(
		"id", "name", "storage_path", "size_bytes", "created_at",
		"thumbnail_path", "thumbnail_status", "thumbnail_processed_at", "thumbnail_error",
	).From("stored_images").OrderBy("created_at DESC, id ASC")

	if status != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"thumbnail_status": status})
	}
	if nameQuery != "" {
		queryBuilder = queryBuilder.Where(sq.Like{"name": "%" + nameQuery + "%"})
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stored image query: %w", err)
	}

	sqlDB, err := r.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	rows, err := sqlDB.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored images: %w", err)
	}
	defer rows.Close()

	var images []models.StoredImage
	for rows.Next() {
		var img models.StoredImage
		err := rows.Scan(
			&img.ID, &img.Name, &img.StoragePath, &img.SizeBytes, &img.CreatedAt,
			&img.ThumbnailPath, &img.ThumbnailStatus, &img.ThumbnailProcessedAt, &img.ThumbnailError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stored image row: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
