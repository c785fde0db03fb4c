package classify

import (
	"context"
	"image"
	"math/rand"
	"sync"

	"github.com/calebmc/geosnap/models"
)

// demoLabels is a small fixed label set for demonstration sessions.
var demoLabels = []string{
	"building", "street", "park", "beach", "mountain",
	"vehicle", "person", "animal", "food", "sign",
}

// DemoClassifier fabricates randomized predictions. It is only wired up when
// CLASSIFIER_MODE=demo is set explicitly, and the active demo mode is exposed
// through the status endpoint; it is never used as a fallback for a failed
// model load.
type DemoClassifier struct {
	mu   sync.Mutex
	rng  *rand.Rand
	topK int
}

// NewDemoClassifier creates a demo classifier. seed allows deterministic
// output in tests.
func NewDemoClassifier(seed int64, topK int) *DemoClassifier {
	if topK <= 0 || topK > len(demoLabels) {
		topK = 3
	}
	return &DemoClassifier{rng: rand.New(rand.NewSource(seed)), topK: topK}
}

// Classify returns topK random labels with random probabilities.
func (dc *DemoClassifier) Classify(ctx context.Context, img image.Image) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	picked := dc.rng.Perm(len(demoLabels))[:dc.topK]
	preds := make([]models.Prediction, 0, dc.topK)
	for _, idx := range picked {
		preds = append(preds, models.Prediction{
			ClassName:   demoLabels[idx],
			Probability: dc.rng.Float64(),
		})
	}
	return Normalize(preds, dc.topK), nil
}
