package models

import "strings"

// Coordinates is a GPS position in signed decimal degrees. Negative latitude
// is south, negative longitude is west. Records without GPS metadata simply
// have no Coordinates; absence is a normal state, not an error.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Prediction is a single classifier output. Probability is in [0, 1].
// Labels are not unique within a prediction list.
type Prediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

// ImageRecord is one uploaded image held in the gallery. Data holds the
// original bytes for later persistence to cloud storage; PreviewPath points at
// the generated preview asset, which must be released exactly once when the
// record is destroyed.
type ImageRecord struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Data        []byte       `json:"-"`
	PreviewPath string       `json:"preview_path"`
	Predictions []Prediction `json:"predictions"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	UploadedAt  int64        `json:"uploaded_at"`

	// optional camera metadata, extracted alongside the GPS tags
	CameraMake  *string `json:"camera_make,omitempty"`
	CameraModel *string `json:"camera_model,omitempty"`
	TakenAt     *int64  `json:"taken_at,omitempty"`
}

// DuplicatePair is a candidate near-duplicate reported by the proximity
// backend. Distance is in meters. A pair lives until the user resolves it or
// either referenced record is removed by other means.
type DuplicatePair struct {
	PairID   string  `json:"pairId"`
	ImageID1 string  `json:"imageId1"`
	ImageID2 string  `json:"imageId2"`
	Distance float64 `json:"distance"`
}

// Resolution actions accepted by /save-decision.
const (
	ActionSaveBoth              = "save_both"
	ActionKeepFirstRemoveSecond = "keep_first_remove_second"
	ActionRemoveFirstKeepSecond = "remove_first_keep_second"
)

// NormalizeID is the single canonical identifier equality rule. Every
// comparison of record or pair identifiers goes through it; call sites never
// re-derive their own matching logic.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IsValidAction reports whether action is one of the three resolution actions.
func IsValidAction(action string) bool {
	switch action {
	case ActionSaveBoth, ActionKeepFirstRemoveSecond, ActionRemoveFirstKeepSecond:
		return true
	default:
		return false
	}
}
