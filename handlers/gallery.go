package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calebmc/geosnap/classify"
	"github.com/calebmc/geosnap/config"
	"github.com/calebmc/geosnap/dedupe"
	"github.com/calebmc/geosnap/gallery"
	"github.com/calebmc/geosnap/media"
	"github.com/calebmc/geosnap/models"
	"github.com/calebmc/geosnap/utils"
)

const maxUploadBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Error encoding JSON response: %v", err)
		}
	}
}

// DedupeClient is the slice of the backend client the gallery handlers use.
type DedupeClient interface {
	CheckProximity(ctx context.Context, locations []dedupe.LocationEntry) ([]models.DuplicatePair, error)
	SaveDecision(ctx context.Context, pairID, action, imageID1, imageID2 string) error
	UploadImage(ctx context.Context, entry dedupe.UploadEntry) (*models.StoredImage, error)
	BulkSave(ctx context.Context, entries []dedupe.UploadEntry) ([]models.StoredImage, error)
	ListCloudStorage(ctx context.Context) ([]models.StoredImage, error)
}

type GalleryHandler struct {
	Store          *gallery.Store
	Classifier     classify.Classifier
	Dedupe         DedupeClient
	MediaProcessor *media.Processor
	Cfg            config.Config
}

// recordView is the wire shape of a record, with the preview path mapped to a
// servable URL.
type recordView struct {
	*models.ImageRecord
	PreviewURL string `json:"preview_url"`
}

func viewOf(rec *models.ImageRecord) recordView {
	return recordView{ImageRecord: rec, PreviewURL: "/api/" + rec.PreviewPath}
}

func viewsOf(records []*models.ImageRecord) []recordView {
	out := make([]recordView, len(records))
	for i, rec := range records {
		out[i] = viewOf(rec)
	}
	return out
}

// uploadError reports one file that was skipped during a batch.
type uploadError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// UploadBatch handles POST /api/gallery. Files are processed sequentially;
// failure of one file never aborts its siblings. Newly added geotagged
// records are then submitted for a proximity check.
func (gh *GalleryHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid multipart form: " + err.Error()})
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No files in 'images' field"})
		return
	}

	var added []*models.ImageRecord
	skipped := []uploadError{}

	for _, fh := range files {
		rec, err := gh.processFile(r.Context(), fh)
		if err != nil {
			log.Printf("Upload: skipping %s: %v", fh.Filename, err)
			skipped = append(skipped, uploadError{Name: fh.Filename, Error: err.Error()})
			continue
		}
		gh.Store.Append(rec)
		added = append(added, rec)
	}

	// only records that actually carry coordinates are submitted; a batch
	// with none makes no network call at all
	var locations []dedupe.LocationEntry
	for _, rec := range added {
		if rec.Coordinates == nil {
			continue
		}
		locations = append(locations, dedupe.LocationEntry{
			ImageName: rec.Name,
			Latitude:  rec.Coordinates.Latitude,
			Longitude: rec.Coordinates.Longitude,
			ImageID:   rec.ID,
		})
	}

	proximityError := ""
	if len(locations) > 0 {
		pairs, err := gh.Dedupe.CheckProximity(r.Context(), locations)
		if err != nil {
			// prior pairs stay untouched; the failure is surfaced instead
			log.Printf("Upload: proximity check failed: %v", err)
			proximityError = err.Error()
		} else {
			gh.Store.ReplacePairs(pairs)
		}
	}

	resp := map[string]interface{}{
		"added":  viewsOf(added),
		"errors": skipped,
		"pairs":  gh.Store.VisiblePairs(),
	}
	if proximityError != "" {
		resp["proximity_error"] = proximityError
	}
	writeJSON(w, http.StatusOK, resp)
}

// processFile turns one uploaded file into a gallery record: metadata
// extraction, decode, classification, preview generation.
func (gh *GalleryHandler) processFile(ctx context.Context, fh *multipart.FileHeader) (*models.ImageRecord, error) {
	if !utils.IsRasterImage(fh.Filename) {
		return nil, fmt.Errorf("unsupported file type")
	}

	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	// metadata extraction never fails; missing GPS is a normal state
	coords := utils.ExtractCoordinates(bytes.NewReader(data))
	camera := utils.ExtractCameraInfo(bytes.NewReader(data))

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	predictions, err := gh.Classifier.Classify(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	previewPath, err := gh.MediaProcessor.GeneratePreview(img, gh.Cfg.PreviewMaxSize)
	if err != nil {
		return nil, fmt.Errorf("preview generation failed: %w", err)
	}

	return &models.ImageRecord{
		ID:          uuid.NewString(),
		Name:        fh.Filename,
		Data:        data,
		PreviewPath: previewPath,
		Predictions: predictions,
		Coordinates: coords,
		UploadedAt:  time.Now().Unix(),
		CameraMake:  camera.CameraMake,
		CameraModel: camera.CameraModel,
		TakenAt:     camera.TakenAt,
	}, nil
}

// ListGallery handles GET /api/gallery. The sort order is a derived display
// view only.
func (gh *GalleryHandler) ListGallery(w http.ResponseWriter, r *http.Request) {
	sortOrder := r.URL.Query().Get("sort")
	if !gallery.IsValidSortOrder(sortOrder) {
		sortOrder = gallery.DefaultSortOrder
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"images": viewsOf(gh.Store.List(sortOrder)),
		"pairs":  gh.Store.VisiblePairs(),
	})
}

// RemoveRecord handles DELETE /api/gallery/{image_id}. Removing an unknown
// identifier is a no-op, not an error.
func (gh *GalleryHandler) RemoveRecord(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "image_id")
	gh.Store.Remove(imageID)
	writeJSON(w, http.StatusNoContent, nil)
}

// ClearGallery handles DELETE /api/gallery.
func (gh *GalleryHandler) ClearGallery(w http.ResponseWriter, r *http.Request) {
	n := gh.Store.Clear()
	log.Printf("Gallery cleared: %d record(s) removed", n)
	writeJSON(w, http.StatusNoContent, nil)
}

// SaveRecord handles POST /api/gallery/{image_id}/save, pushing one record's
// original to the backend's cloud storage.
func (gh *GalleryHandler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "image_id")
	rec, ok := gh.Store.Get(imageID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Image not found"})
		return
	}

	stored, err := gh.Dedupe.UploadImage(r.Context(), dedupe.UploadEntry{
		ImageID:   rec.ID,
		Name:      rec.Name,
		ImageData: rec.Data,
	})
	if err != nil {
		log.Printf("Save: upload of %s failed: %v", rec.ID, err)
		WriteAPIError(w, http.StatusBadGateway, ErrCodeUploadFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// SaveAll handles POST /api/gallery/save-all, persisting every record in one
// bulk call.
func (gh *GalleryHandler) SaveAll(w http.ResponseWriter, r *http.Request) {
	records := gh.Store.List(gallery.SortDateAsc)
	if len(records) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"images": []models.StoredImage{}})
		return
	}

	entries := make([]dedupe.UploadEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, dedupe.UploadEntry{
			ImageID:   rec.ID,
			Name:      rec.Name,
			ImageData: rec.Data,
		})
	}

	stored, err := gh.Dedupe.BulkSave(r.Context(), entries)
	if err != nil {
		log.Printf("SaveAll: bulk save failed: %v", err)
		WriteAPIError(w, http.StatusBadGateway, ErrCodeBulkSaveFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": stored})
}

// CloudStorage handles GET /api/cloud, proxying the backend listing.
func (gh *GalleryHandler) CloudStorage(w http.ResponseWriter, r *http.Request) {
	images, err := gh.Dedupe.ListCloudStorage(r.Context())
	if err != nil {
		log.Printf("Cloud: listing failed: %v", err)
		WriteAPIError(w, http.StatusBadGateway, ErrCodeCloudStorageFailed, err.Error())
		return
	}
	if images == nil {
		images = []models.StoredImage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": images})
}

// Status handles GET /api/status. The active classifier mode is always
// visible here, so a demo session is never mistaken for real predictions.
func (gh *GalleryHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"classifier_mode":  gh.Cfg.ClassifierMode,
		"demo_mode":        gh.Cfg.ClassifierMode == classify.ModeDemo,
		"backend_url":      gh.Cfg.BackendBaseURL,
		"embedded_backend": gh.Cfg.EmbeddedBackend,
		"records":          gh.Store.Len(),
		"pairs":            len(gh.Store.VisiblePairs()),
	})
}
