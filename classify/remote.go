package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/calebmc/geosnap/media"
	"github.com/calebmc/geosnap/models"
)

// RemoteClassifier submits images to the backend classification endpoint and
// returns its predictions verbatim (normalized for ordering only).
type RemoteClassifier struct {
	baseURL    string
	modelType  string
	topK       int
	httpClient *http.Client
}

// NewRemoteClassifier creates a classifier backed by POST {baseURL}/classify-image.
// httpClient may be nil, in which case http.DefaultClient is used.
func NewRemoteClassifier(baseURL, modelType string, topK int, httpClient *http.Client) *RemoteClassifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelType:  modelType,
		topK:       topK,
		httpClient: httpClient,
	}
}

type classifyRequest struct {
	ImageData string `json:"image_data"`
	ModelType string `json:"model_type"`
}

type classifyResponse struct {
	Predictions []models.Prediction `json:"predictions"`
}

// Classify re-encodes the decoded image as PNG and submits it for
// classification.
func (rc *RemoteClassifier) Classify(ctx context.Context, img image.Image) ([]models.Prediction, error) {
	raster, err := media.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("classify: failed to encode image: %w", err)
	}

	payload := classifyRequest{
		ImageData: base64.StdEncoding.EncodeToString(raster),
		ModelType: rc.modelType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("classify: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.baseURL+"/classify-image", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classify: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classify: endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("classify: failed to decode response: %w", err)
	}

	return Normalize(parsed.Predictions, rc.topK), nil
}
