// Package dupeserver is a reference implementation of the dedupe backend the
// gallery client talks to: proximity checks over registered upload locations,
// decision recording, cloud-storage persistence and image classification. It
// owns the proximity threshold and the pairing algorithm. Classification is
// served by whatever Classifier it is constructed with; the default is a
// stand-in model so the whole system runs without external services.
package dupeserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmc/geosnap/classify"
	"github.com/calebmc/geosnap/database"
	"github.com/calebmc/geosnap/media"
	"github.com/calebmc/geosnap/models"
	"github.com/calebmc/geosnap/workers"
)

// pairNamespace seeds deterministic pair ids so re-checking the same two
// images yields the same pairId.
var pairNamespace = uuid.MustParse("8e2c9d1a-4b4f-4f7e-9f23-0c6a1d2b3e4f")

// Server implements the backend HTTP endpoints.
type Server struct {
	Repo            *database.Repository
	Store           media.Store
	ThumbGen        *workers.ThumbnailProcessor
	Classifier      classify.Classifier
	ThresholdMeters float64
}

// NewServer creates the backend. A nil classifier falls back to the stand-in
// demo model so /classify-image always answers.
func NewServer(repo *database.Repository, store media.Store, thumbGen *workers.ThumbnailProcessor, classifier classify.Classifier, thresholdMeters float64) *Server {
	if thresholdMeters <= 0 {
		thresholdMeters = 1.0
	}
	if classifier == nil {
		classifier = classify.NewDemoClassifier(time.Now().UnixNano(), 5)
	}
	return &Server{
		Repo:            repo,
		Store:           store,
		ThumbGen:        thumbGen,
		Classifier:      classifier,
		ThresholdMeters: thresholdMeters,
	}
}

// Routes returns the backend router, mountable under any base path.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/classify-image", s.handleClassifyImage)
	r.Post("/check-proximity", s.handleCheckProximity)
	r.Post("/save-decision", s.handleSaveDecision)
	r.Post("/upload-image", s.handleUploadImage)
	r.Post("/bulk-save", s.handleBulkSave)
	r.Get("/cloud-storage", s.handleCloudStorage)
	r.Get("/cloud-storage/{image_id}", s.handleCloudStorageDetail)
	return r
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("dupeserver: Error encoding JSON response: %v", err)
		}
	}
}

// PairID derives the stable identifier for an unordered image id pair.
func PairID(imageID1, imageID2 string) string {
	a := models.NormalizeID(imageID1)
	b := models.NormalizeID(imageID2)
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(pairNamespace, []byte(a+"|"+b)).String()
}

// computePairs returns every unordered location pair within the threshold.
func (s *Server) computePairs(locations []models.Location) []models.SimilarPair {
	var pairs []models.SimilarPair
	for i := 0; i < len(locations); i++ {
		for j := i + 1; j < len(locations); j++ {
			d := HaversineMeters(
				locations[i].Latitude, locations[i].Longitude,
				locations[j].Latitude, locations[j].Longitude,
			)
			if d <= s.ThresholdMeters {
				pairs = append(pairs, models.SimilarPair{
					PairID:   PairID(locations[i].ImageID, locations[j].ImageID),
					ImageID1: locations[i].ImageID,
					ImageID2: locations[j].ImageID,
					Distance: math.Round(d*100) / 100,
				})
			}
		}
	}
	return pairs
}

func (s *Server) handleClassifyImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageData string `json:"image_data"`
		ModelType string `json:"model_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.ImageData == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing image_data"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image_data is not valid base64"})
		return
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not decode image data"})
		return
	}

	preds, err := s.Classifier.Classify(r.Context(), img)
	if err != nil {
		log.Printf("dupeserver: Error classifying image: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Classification failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": preds})
}

func (s *Server) handleCheckProximity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locations []struct {
			ImageName string  `json:"imageName"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			ImageID   string  `json:"imageId"`
		} `json:"locations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(req.Locations) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No locations submitted"})
		return
	}

	for _, loc := range req.Locations {
		if loc.ImageID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Location missing imageId"})
			return
		}
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Location %s has out-of-range coordinates", loc.ImageID)})
			return
		}
		err := s.Repo.UpsertLocation(&models.Location{
			ImageID:   models.NormalizeID(loc.ImageID),
			ImageName: loc.ImageName,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
		})
		if err != nil {
			log.Printf("dupeserver: Error upserting location %s: %v", loc.ImageID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to register location"})
			return
		}
	}

	locations, err := s.Repo.ListLocations()
	if err != nil {
		log.Printf("dupeserver: Error listing locations: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load locations"})
		return
	}

	pairs := s.computePairs(locations)
	if err := s.Repo.ReplacePairs(pairs); err != nil {
		log.Printf("dupeserver: Error storing pairs: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to store candidate pairs"})
		return
	}

	if pairs == nil {
		pairs = []models.SimilarPair{}
	}
	out := make([]models.DuplicatePair, len(pairs))
	for i, p := range pairs {
		out[i] = models.DuplicatePair{
			PairID:   p.PairID,
			ImageID1: p.ImageID1,
			ImageID2: p.ImageID2,
			Distance: p.Distance,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"similar_pairs": out})
}

func (s *Server) handleSaveDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PairID   string `json:"pairId"`
		Action   string `json:"action"`
		ImageID1 string `json:"imageId1"`
		ImageID2 string `json:"imageId2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.PairID == "" || req.ImageID1 == "" || req.ImageID2 == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields: pairId, imageId1, imageId2"})
		return
	}
	if !models.IsValidAction(req.Action) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action: " + req.Action})
		return
	}

	// when the pair is still on record, the submitted image ids must match
	// it; a pair retired by an earlier re-check is accepted as audit-only
	if stored, err := s.Repo.GetPair(req.PairID); err == nil {
		if stored.ImageID1 != models.NormalizeID(req.ImageID1) || stored.ImageID2 != models.NormalizeID(req.ImageID2) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Image ids do not match pair " + req.PairID})
			return
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("dupeserver: Error loading pair %s: %v", req.PairID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load pair"})
		return
	}

	err := s.Repo.SaveDecision(&models.Decision{
		PairID:   req.PairID,
		Action:   req.Action,
		ImageID1: models.NormalizeID(req.ImageID1),
		ImageID2: models.NormalizeID(req.ImageID2),
	})
	if err != nil {
		log.Printf("dupeserver: Error saving decision for pair %s: %v", req.PairID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record decision"})
		return
	}

	// a removal decision retires the losing image's location so it can no
	// longer produce pairs; save_both just retires the pair
	var cleanupErr error
	switch req.Action {
	case models.ActionKeepFirstRemoveSecond:
		cleanupErr = s.Repo.DeleteLocation(models.NormalizeID(req.ImageID2))
	case models.ActionRemoveFirstKeepSecond:
		cleanupErr = s.Repo.DeleteLocation(models.NormalizeID(req.ImageID1))
	case models.ActionSaveBoth:
		cleanupErr = s.Repo.DeletePair(req.PairID)
	}
	if cleanupErr != nil {
		log.Printf("dupeserver: Error applying decision cleanup for pair %s: %v", req.PairID, cleanupErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to apply decision"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeImage persists one upload entry and queues its thumbnail.
func (s *Server) storeImage(imageID, name string, data []byte) (*models.StoredImage, error) {
	if imageID == "" {
		imageID = uuid.NewString()
	}
	imageID = models.NormalizeID(imageID)

	relPath, err := s.Store.Save(media.AssetTypeCloud, imageID+".bin", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to store image data: %w", err)
	}

	img := &models.StoredImage{
		ID:          imageID,
		Name:        name,
		StoragePath: relPath,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().Unix(),
	}
	if err := s.Repo.CreateStoredImage(img); err != nil {
		if delErr := s.Store.Delete(relPath); delErr != nil {
			log.Printf("dupeserver: Error cleaning up stored data for %s: %v", imageID, delErr)
		}
		return nil, err
	}

	if s.ThumbGen != nil {
		s.ThumbGen.QueueJob(workers.ThumbnailJob{ImageID: imageID, StoragePath: relPath})
	}
	return img, nil
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageID   string `json:"imageId"`
		Name      string `json:"name"`
		ImageData []byte `json:"image_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(req.ImageData) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing image_data"})
		return
	}

	img, err := s.storeImage(req.ImageID, req.Name, req.ImageData)
	if err != nil {
		log.Printf("dupeserver: Error storing uploaded image: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to store image"})
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleBulkSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []struct {
			ImageID   string `json:"imageId"`
			Name      string `json:"name"`
			ImageData []byte `json:"image_data"`
		} `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(req.Images) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No images submitted"})
		return
	}

	stored := make([]models.StoredImage, 0, len(req.Images))
	for _, entry := range req.Images {
		if len(entry.ImageData) == 0 {
			continue
		}
		img, err := s.storeImage(entry.ImageID, entry.Name, entry.ImageData)
		if err != nil {
			// one bad entry does not abort the batch
			log.Printf("dupeserver: Error storing bulk entry %s: %v", entry.ImageID, err)
			continue
		}
		stored = append(stored, *img)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": stored})
}

func (s *Server) handleCloudStorage(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	nameQuery := r.URL.Query().Get("q")

	images, err := s.Repo.ListStoredImages(status, nameQuery)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"images": []models.StoredImage{}})
			return
		}
		log.Printf("dupeserver: Error listing stored images: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list cloud storage"})
		return
	}
	if images == nil {
		images = []models.StoredImage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": images})
}

func (s *Server) handleCloudStorageDetail(w http.ResponseWriter, r *http.Request) {
	imageID := models.NormalizeID(chi.URLParam(r, "image_id"))

	img, err := s.Repo.GetStoredImage(imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Stored image not found"})
			return
		}
		log.Printf("dupeserver: Error loading stored image %s: %v", imageID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load stored image"})
		return
	}
	writeJSON(w, http.StatusOK, img)
}
