package classify

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/calebmc/geosnap/models"
)

// LocalClassifier runs a DNN classification model (e.g. MobileNet) through
// OpenCV. The network is loaded once at construction and reused for the whole
// session; a model that fails to load is a construction error, never a silent
// substitute classifier.
type LocalClassifier struct {
	net    gocv.Net
	labels []string
	topK   int

	// configuration parameters used during inference
	InputSizeW  int
	InputSizeH  int
	ScaleFactor float64
	MeanVal     gocv.Scalar
	SwapRB      bool
}

// NewLocalClassifier loads the DNN model and its class label list.
func NewLocalClassifier(configPath, modelPath, labelsPath string, topK int) (*LocalClassifier, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("classify(local): model path is empty")
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("classify(local): failed to load labels: %w", err)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("classify(local): failed to load network: config=%s, model=%s", configPath, modelPath)
	}
	log.Printf("classify(local): loaded classification model from %s", modelPath)

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("classify(local): Set backend/target to CUDA")
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("classify(local): Set backend/target to CPU (Default)")
	}

	return &LocalClassifier{
		net:         net,
		labels:      labels,
		topK:        topK,
		InputSizeW:  224,
		InputSizeH:  224,
		ScaleFactor: 1.0 / 127.5,
		MeanVal:     gocv.NewScalar(127.5, 127.5, 127.5, 0),
		SwapRB:      true,
	}, nil
}

func loadLabels(labelsPath string) ([]string, error) {
	if labelsPath == "" {
		return nil, fmt.Errorf("labels path is empty")
	}
	raw, err := os.ReadFile(labelsPath)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			labels = append(labels, line)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", labelsPath)
	}
	return labels, nil
}

// Close releases the network.
func (lc *LocalClassifier) Close() {
	lc.net.Close()
}

// Classify runs a forward pass and maps the class score vector to labeled
// predictions.
func (lc *LocalClassifier) Classify(ctx context.Context, img image.Image) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("classify(local): failed to convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("classify(local): empty image")
	}

	blob := gocv.BlobFromImage(mat, lc.ScaleFactor, image.Pt(lc.InputSizeW, lc.InputSizeH), lc.MeanVal, lc.SwapRB, false)
	defer blob.Close()

	lc.net.SetInput(blob, "")
	probMat := lc.net.Forward("")
	defer probMat.Close()

	total := probMat.Total()
	if total == 0 {
		return nil, fmt.Errorf("classify(local): network produced no output")
	}

	// output is a 1xN score vector; flatten for indexed access
	flat := probMat.Reshape(1, 1)
	defer flat.Close()

	preds := make([]models.Prediction, 0, total)
	for i := 0; i < total; i++ {
		label := fmt.Sprintf("class_%d", i)
		if i < len(lc.labels) {
			label = lc.labels[i]
		}
		preds = append(preds, models.Prediction{
			ClassName:   label,
			Probability: float64(flat.GetFloatAt(0, i)),
		})
	}

	return Normalize(preds, lc.topK), nil
}
