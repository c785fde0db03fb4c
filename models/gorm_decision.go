package models

// Decision is a recorded user resolution for a candidate pair. Kept as an
// append-only audit of what the user chose. It corresponds to the 'decisions'
// table.
type Decision struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PairID    string `gorm:"not null;index" json:"pair_id"`
	Action    string `gorm:"not null" json:"action"`
	ImageID1  string `gorm:"not null" json:"image_id_1"`
	ImageID2  string `gorm:"not null" json:"image_id_2"`
	CreatedAt int64  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (Decision) TableName() string {
	return "decisions"
}
