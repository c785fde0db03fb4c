package classify

import (
	"context"
	"image"
	"sort"

	"github.com/calebmc/geosnap/models"
)

// Classifier produces an ordered prediction list for a decoded image. A
// failure for one image must not abort processing of sibling images in the
// same batch; callers skip the failed image and continue.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) ([]models.Prediction, error)
}

// Classifier selection modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
	ModeDemo   = "demo"
)

// Normalize orders predictions by descending probability and caps the list at
// topK entries (topK <= 0 keeps all). Labels are not deduplicated; the model
// owns label semantics.
func Normalize(preds []models.Prediction, topK int) []models.Prediction {
	out := make([]models.Prediction, len(preds))
	copy(out, preds)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
