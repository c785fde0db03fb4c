// Package dedupe is the HTTP client for the duplicate-detection backend. The
// backend owns the proximity threshold and pairing algorithm; this client
// treats both as opaque.
package dedupe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calebmc/geosnap/models"
)

// LocationEntry is one geotagged record submitted for a proximity check.
type LocationEntry struct {
	ImageName string  `json:"imageName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ImageID   string  `json:"imageId"`
}

// UploadEntry is one image pushed to cloud storage.
type UploadEntry struct {
	ImageID   string `json:"imageId"`
	Name      string `json:"name"`
	ImageData []byte `json:"image_data"` // base64 on the wire
}

// Client talks to the dedupe/persistence backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. httpClient may be nil, in which case
// http.DefaultClient is used; the caller configures any timeout on the
// client it passes in.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dedupe: failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dedupe: failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dedupe: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dedupe: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("dedupe: failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// CheckProximity submits geotagged records and returns the backend's full
// candidate pair list. Callers must only submit records that actually carry
// coordinates; with no entries there is nothing to check and no call is made.
func (c *Client) CheckProximity(ctx context.Context, locations []LocationEntry) ([]models.DuplicatePair, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	var parsed struct {
		SimilarPairs []models.DuplicatePair `json:"similar_pairs"`
	}
	payload := map[string]any{"locations": locations}
	if err := c.postJSON(ctx, "/check-proximity", payload, &parsed); err != nil {
		return nil, err
	}
	return parsed.SimilarPairs, nil
}

// SaveDecision records a pair resolution with the backend. Local state must
// only be mutated after this returns nil.
func (c *Client) SaveDecision(ctx context.Context, pairID, action, imageID1, imageID2 string) error {
	payload := map[string]string{
		"pairId":   pairID,
		"action":   action,
		"imageId1": imageID1,
		"imageId2": imageID2,
	}
	return c.postJSON(ctx, "/save-decision", payload, nil)
}

// UploadImage persists one approved image to the backend's cloud storage.
func (c *Client) UploadImage(ctx context.Context, entry UploadEntry) (*models.StoredImage, error) {
	var stored models.StoredImage
	if err := c.postJSON(ctx, "/upload-image", entry, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// BulkSave persists a batch of approved images in one call.
func (c *Client) BulkSave(ctx context.Context, entries []UploadEntry) ([]models.StoredImage, error) {
	var parsed struct {
		Images []models.StoredImage `json:"images"`
	}
	payload := map[string]any{"images": entries}
	if err := c.postJSON(ctx, "/bulk-save", payload, &parsed); err != nil {
		return nil, err
	}
	return parsed.Images, nil
}

// ListCloudStorage fetches the backend's stored image listing.
func (c *Client) ListCloudStorage(ctx context.Context) ([]models.StoredImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cloud-storage", nil)
	if err != nil {
		return nil, fmt.Errorf("dedupe: failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dedupe: request to /cloud-storage failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dedupe: /cloud-storage returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed struct {
		Images []models.StoredImage `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("dedupe: failed to decode /cloud-storage response: %w", err)
	}
	return parsed.Images, nil
}
