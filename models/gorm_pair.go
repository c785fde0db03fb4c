package models

// SimilarPair is a backend-side candidate pair of locations within the
// proximity threshold. The pair id is stable across re-checks of the same two
// images. It corresponds to the 'similar_pairs' table.
type SimilarPair struct {
	PairID    string  `gorm:"primaryKey" json:"pair_id"`
	ImageID1  string  `gorm:"not null;index" json:"image_id_1"`
	ImageID2  string  `gorm:"not null;index" json:"image_id_2"`
	Distance  float64 `gorm:"not null" json:"distance"`
	CreatedAt int64   `gorm:"autoCreateTime" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (SimilarPair) TableName() string {
	return "similar_pairs"
}
