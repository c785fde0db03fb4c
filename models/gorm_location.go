package models

// Location is a geotagged upload registered with the dedupe backend. It
// corresponds to the 'locations' table.
type Location struct {
	ImageID   string  `gorm:"primaryKey" json:"image_id"`
	ImageName string  `gorm:"not null" json:"image_name"`
	Latitude  float64 `gorm:"not null" json:"latitude"`
	Longitude float64 `gorm:"not null" json:"longitude"`
	CreatedAt int64   `gorm:"autoCreateTime" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (Location) TableName() string {
	return "locations"
}
