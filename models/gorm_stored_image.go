package models

// Stored image thumbnail task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// StoredImage is an image persisted to the backend's cloud storage area via
// /upload-image or /bulk-save. Thumbnail generation runs asynchronously; the
// status columns track it. It corresponds to the 'stored_images' table.
type StoredImage struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"not null" json:"name"`
	StoragePath  string `gorm:"not null" json:"storage_path"`
	SizeBytes    int64  `gorm:"not null" json:"size_bytes"`
	CreatedAt    int64  `gorm:"autoCreateTime" json:"created_at"`

	ThumbnailPath *string `gorm:"" json:"thumbnail_path,omitempty"` // Nullable

	ThumbnailStatus      string  `gorm:"not null;default:pending" json:"thumbnail_status"`
	ThumbnailProcessedAt *int64  `gorm:"" json:"thumbnail_processed_at,omitempty"` // Nullable, Unix timestamp
	ThumbnailError       *string `gorm:"" json:"thumbnail_error,omitempty"`        // Nullable
}

// TableName explicitly sets the table name for GORM.
func (StoredImage) TableName() string {
	return "stored_images"
}
