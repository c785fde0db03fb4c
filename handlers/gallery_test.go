package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmc/geosnap/classify"
	"github.com/calebmc/geosnap/config"
	"github.com/calebmc/geosnap/dedupe"
	"github.com/calebmc/geosnap/gallery"
	"github.com/calebmc/geosnap/media"
	"github.com/calebmc/geosnap/models"
)

// fakeClassifier returns a fixed prediction list without touching any model.
type fakeClassifier struct {
	preds []models.Prediction
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, _ image.Image) ([]models.Prediction, error) {
	return f.preds, f.err
}

type savedDecision struct {
	PairID, Action, ImageID1, ImageID2 string
}

// fakeDedupe records backend calls instead of making them.
type fakeDedupe struct {
	mu             sync.Mutex
	proximityCalls [][]dedupe.LocationEntry
	pairsToReturn  []models.DuplicatePair
	proximityErr   error
	decisions      []savedDecision
	decisionErr    error
	uploads        []dedupe.UploadEntry
	bulkCalls      [][]dedupe.UploadEntry
	cloud          []models.StoredImage
}

func (f *fakeDedupe) CheckProximity(_ context.Context, locations []dedupe.LocationEntry) ([]models.DuplicatePair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proximityCalls = append(f.proximityCalls, locations)
	if f.proximityErr != nil {
		return nil, f.proximityErr
	}
	return f.pairsToReturn, nil
}

func (f *fakeDedupe) SaveDecision(_ context.Context, pairID, action, imageID1, imageID2 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decisionErr != nil {
		return f.decisionErr
	}
	f.decisions = append(f.decisions, savedDecision{pairID, action, imageID1, imageID2})
	return nil
}

func (f *fakeDedupe) UploadImage(_ context.Context, entry dedupe.UploadEntry) (*models.StoredImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, entry)
	return &models.StoredImage{ID: entry.ImageID, Name: entry.Name}, nil
}

func (f *fakeDedupe) BulkSave(_ context.Context, entries []dedupe.UploadEntry) ([]models.StoredImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, entries)
	stored := make([]models.StoredImage, len(entries))
	for i, e := range entries {
		stored[i] = models.StoredImage{ID: e.ImageID, Name: e.Name}
	}
	return stored, nil
}

func (f *fakeDedupe) ListCloudStorage(_ context.Context) ([]models.StoredImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloud, nil
}

func newTestHandler(t *testing.T) (*GalleryHandler, *fakeDedupe) {
	t.Helper()

	mediaStore, err := media.NewLocalStorage(t.TempDir(), map[media.AssetType]string{
		media.AssetTypePreview: "previews",
	})
	require.NoError(t, err)

	fd := &fakeDedupe{}
	gh := &GalleryHandler{
		Store:          gallery.NewStore(nil),
		Classifier:     &fakeClassifier{preds: []models.Prediction{{ClassName: "landscape", Probability: 0.9}}},
		Dedupe:         fd,
		MediaProcessor: media.NewProcessor(mediaStore),
		Cfg: config.Config{
			ClassifierMode: classify.ModeRemote,
			BackendBaseURL: "http://backend.test",
			PreviewMaxSize: 64,
		},
	}
	return gh, fd
}

func newTestRouter(gh *GalleryHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/gallery", func(r chi.Router) {
		r.Post("/", gh.UploadBatch)
		r.Get("/", gh.ListGallery)
		r.Delete("/", gh.ClearGallery)
		r.Post("/save-all", gh.SaveAll)
		r.Route("/pairs", func(r chi.Router) {
			r.Get("/", gh.ListPairs)
			r.Post("/{pair_id}/resolve", gh.ResolvePair)
		})
		r.Route("/{image_id}", func(r chi.Router) {
			r.Delete("/", gh.RemoveRecord)
			r.Post("/save", gh.SaveRecord)
		})
	})
	r.Get("/api/cloud", gh.CloudStorage)
	r.Get("/api/status", gh.Status)
	return r
}

// plainJPEG encodes a small solid-color JPEG with no metadata.
func plainJPEG(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(8, 8, color.NRGBA{R: 40, G: 120, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func writeIfdEntry(w *bytes.Buffer, tag, typ uint16, count, value uint32) {
	le := binary.LittleEndian
	_ = binary.Write(w, le, tag)
	_ = binary.Write(w, le, typ)
	_ = binary.Write(w, le, count)
	_ = binary.Write(w, le, value)
}

func writeRational(w *bytes.Buffer, num, den uint32) {
	le := binary.LittleEndian
	_ = binary.Write(w, le, num)
	_ = binary.Write(w, le, den)
}

// gpsTIFF builds a minimal little-endian TIFF block whose IFD0 carries only a
// GPS sub-IFD with the four positioning tags.
func gpsTIFF(latDeg, latMin uint32, latSec float64, latRef string, lonDeg, lonMin uint32, lonSec float64, lonRef string) []byte {
	le := binary.LittleEndian
	buf := &bytes.Buffer{}

	// header
	buf.WriteString("II")
	_ = binary.Write(buf, le, uint16(0x2A))
	_ = binary.Write(buf, le, uint32(8))

	// IFD0: single entry, the GPS IFD pointer (0x8825), sub-IFD at offset 26
	_ = binary.Write(buf, le, uint16(1))
	writeIfdEntry(buf, 0x8825, 4, 1, 26)
	_ = binary.Write(buf, le, uint32(0))

	// GPS IFD: four entries, triples stored at offsets 80 and 104
	_ = binary.Write(buf, le, uint16(4))
	writeIfdEntry(buf, 0x0001, 2, 2, uint32(latRef[0]))
	writeIfdEntry(buf, 0x0002, 5, 3, 80)
	writeIfdEntry(buf, 0x0003, 2, 2, uint32(lonRef[0]))
	writeIfdEntry(buf, 0x0004, 5, 3, 104)
	_ = binary.Write(buf, le, uint32(0))

	writeRational(buf, latDeg, 1)
	writeRational(buf, latMin, 1)
	writeRational(buf, uint32(math.Round(latSec*100)), 100)
	writeRational(buf, lonDeg, 1)
	writeRational(buf, lonMin, 1)
	writeRational(buf, uint32(math.Round(lonSec*100)), 100)

	return buf.Bytes()
}

// geotaggedJPEG splices an Exif APP1 segment with GPS coordinates into a
// freshly encoded JPEG, right after the SOI marker.
func geotaggedJPEG(t *testing.T, latDeg, latMin uint32, latSec float64, latRef string, lonDeg, lonMin uint32, lonSec float64, lonRef string) []byte {
	t.Helper()

	raw := plainJPEG(t)
	require.True(t, len(raw) > 2 && raw[0] == 0xFF && raw[1] == 0xD8)

	payload := append([]byte("Exif\x00\x00"), gpsTIFF(latDeg, latMin, latSec, latRef, lonDeg, lonMin, lonSec, lonRef)...)

	out := &bytes.Buffer{}
	out.Write(raw[:2])
	out.WriteByte(0xFF)
	out.WriteByte(0xE1)
	_ = binary.Write(out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(raw[2:])
	return out.Bytes()
}

type uploadFile struct {
	name string
	data []byte
}

func multipartUpload(t *testing.T, files []uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		fw, err := mw.CreateFormFile("images", f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func doUpload(t *testing.T, router http.Handler, files []uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/gallery", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestUploadBatchSubmitsOnlyGeotaggedRecords(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)

	// 52°13'30"N 21°0'45"E and 48°51'29.6"N 2°17'40.2"E
	rr := doUpload(t, router, []uploadFile{
		{"warsaw.jpg", geotaggedJPEG(t, 52, 13, 30, "N", 21, 0, 45, "E")},
		{"plain.jpg", plainJPEG(t)},
		{"paris.jpg", geotaggedJPEG(t, 48, 51, 29.6, "N", 2, 17, 40.2, "E")},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Added []struct {
			Name        string              `json:"name"`
			Coordinates *models.Coordinates `json:"coordinates"`
		} `json:"added"`
		Errors []interface{} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Added, 3)
	assert.Empty(t, resp.Errors)

	require.Len(t, fd.proximityCalls, 1)
	call := fd.proximityCalls[0]
	require.Len(t, call, 2)

	byName := map[string]dedupe.LocationEntry{}
	for _, loc := range call {
		byName[loc.ImageName] = loc
	}
	require.Contains(t, byName, "warsaw.jpg")
	require.Contains(t, byName, "paris.jpg")
	assert.NotContains(t, byName, "plain.jpg")
	assert.InDelta(t, 52.225, byName["warsaw.jpg"].Latitude, 1e-6)
	assert.InDelta(t, 21.0125, byName["warsaw.jpg"].Longitude, 1e-6)
	assert.InDelta(t, 48.858222, byName["paris.jpg"].Latitude, 1e-5)
	assert.InDelta(t, 2.294500, byName["paris.jpg"].Longitude, 1e-5)

	// the submitted identifiers are the stored record identifiers
	for _, loc := range call {
		_, ok := gh.Store.Get(loc.ImageID)
		assert.True(t, ok, "submitted id %s not in gallery", loc.ImageID)
	}
}

func TestUploadBatchWithoutCoordinatesMakesNoProximityCall(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)

	rr := doUpload(t, router, []uploadFile{
		{"one.jpg", plainJPEG(t)},
		{"two.jpg", plainJPEG(t)},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Empty(t, fd.proximityCalls)
	assert.Equal(t, 2, gh.Store.Len())
}

func TestUploadBatchSkipsBadFilesWithoutAbortingBatch(t *testing.T) {
	gh, _ := newTestHandler(t)
	router := newTestRouter(gh)

	rr := doUpload(t, router, []uploadFile{
		{"good.jpg", plainJPEG(t)},
		{"notes.txt", []byte("not an image")},
		{"corrupt.jpg", []byte{0xFF, 0xD8, 0x00, 0x01}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Added  []interface{} `json:"added"`
		Errors []struct {
			Name string `json:"name"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Added, 1)
	require.Len(t, resp.Errors, 2)
	assert.Equal(t, 1, gh.Store.Len())
}

func TestUploadBatchProximityFailureKeepsExistingPairs(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)

	gh.Store.Append(&models.ImageRecord{ID: "a", Name: "a.jpg"})
	gh.Store.Append(&models.ImageRecord{ID: "b", Name: "b.jpg"})
	gh.Store.ReplacePairs([]models.DuplicatePair{{PairID: "p1", ImageID1: "a", ImageID2: "b", Distance: 0.4}})

	fd.proximityErr = fmt.Errorf("backend unreachable")

	rr := doUpload(t, router, []uploadFile{
		{"new.jpg", geotaggedJPEG(t, 10, 30, 0, "N", 20, 0, 0, "E")},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		ProximityError string `json:"proximity_error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.ProximityError, "backend unreachable")

	pairs := gh.Store.VisiblePairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "p1", pairs[0].PairID)
}

func seedPair(gh *GalleryHandler) models.DuplicatePair {
	gh.Store.Append(&models.ImageRecord{ID: "first", Name: "first.jpg"})
	gh.Store.Append(&models.ImageRecord{ID: "second", Name: "second.jpg"})
	pair := models.DuplicatePair{PairID: "pair-1", ImageID1: "first", ImageID2: "second", Distance: 0.7}
	gh.Store.ReplacePairs([]models.DuplicatePair{pair})
	return pair
}

func resolveRequest(pairID, action string) *http.Request {
	body, _ := json.Marshal(map[string]string{"action": action})
	req := httptest.NewRequest(http.MethodPost, "/api/gallery/pairs/"+pairID+"/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestResolvePairRemovesLoserAfterDecisionSaved(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)
	pair := seedPair(gh)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, resolveRequest(pair.PairID, models.ActionKeepFirstRemoveSecond))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, fd.decisions, 1)
	assert.Equal(t, savedDecision{"pair-1", models.ActionKeepFirstRemoveSecond, "first", "second"}, fd.decisions[0])

	_, firstOK := gh.Store.Get("first")
	_, secondOK := gh.Store.Get("second")
	assert.True(t, firstOK)
	assert.False(t, secondOK)
	assert.Empty(t, gh.Store.VisiblePairs())
}

func TestResolvePairSaveBothKeepsBothRecords(t *testing.T) {
	gh, _ := newTestHandler(t)
	router := newTestRouter(gh)
	pair := seedPair(gh)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, resolveRequest(pair.PairID, models.ActionSaveBoth))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, 2, gh.Store.Len())
	assert.Empty(t, gh.Store.VisiblePairs())
}

func TestResolvePairFailedDecisionSaveLeavesStateUntouched(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)
	pair := seedPair(gh)

	fd.decisionErr = fmt.Errorf("decision store offline")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, resolveRequest(pair.PairID, models.ActionKeepFirstRemoveSecond))
	require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())

	var envelope APIErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.Len(t, envelope.Errors, 1)
	assert.Equal(t, ErrCodeDecisionSaveFailed, envelope.Errors[0].Code)

	_, firstOK := gh.Store.Get("first")
	_, secondOK := gh.Store.Get("second")
	assert.True(t, firstOK)
	assert.True(t, secondOK)
	require.Len(t, gh.Store.VisiblePairs(), 1)
	assert.Equal(t, pair.PairID, gh.Store.VisiblePairs()[0].PairID)
}

func TestResolvePairRejectsBadInput(t *testing.T) {
	gh, _ := newTestHandler(t)
	router := newTestRouter(gh)
	seedPair(gh)

	t.Run("unknown action", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, resolveRequest("pair-1", "merge_them"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown pair", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, resolveRequest("no-such-pair", models.ActionSaveBoth))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("stale pair reference", func(t *testing.T) {
		gh.Store.ReplacePairs([]models.DuplicatePair{{PairID: "stale", ImageID1: "first", ImageID2: "gone"}})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, resolveRequest("stale", models.ActionSaveBoth))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRemoveRecordUnknownIDIsNoOp(t *testing.T) {
	gh, _ := newTestHandler(t)
	router := newTestRouter(gh)
	gh.Store.Append(&models.ImageRecord{ID: "keep", Name: "keep.jpg"})

	req := httptest.NewRequest(http.MethodDelete, "/api/gallery/never-uploaded", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, gh.Store.Len())
}

func TestSaveRecord(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)
	gh.Store.Append(&models.ImageRecord{ID: "img-1", Name: "one.jpg", Data: []byte{1, 2, 3}})

	t.Run("existing record is uploaded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/gallery/img-1/save", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Len(t, fd.uploads, 1)
		assert.Equal(t, "img-1", fd.uploads[0].ImageID)
		assert.Equal(t, []byte{1, 2, 3}, fd.uploads[0].ImageData)
	})

	t.Run("unknown record is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/gallery/missing/save", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSaveAllSendsEveryRecordInOneCall(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)
	gh.Store.Append(&models.ImageRecord{ID: "a", Name: "a.jpg", Data: []byte{1}})
	gh.Store.Append(&models.ImageRecord{ID: "b", Name: "b.jpg", Data: []byte{2}})

	req := httptest.NewRequest(http.MethodPost, "/api/gallery/save-all", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, fd.bulkCalls, 1)
	assert.Len(t, fd.bulkCalls[0], 2)
}

func TestSaveAllOnEmptyGalleryMakesNoCall(t *testing.T) {
	gh, fd := newTestHandler(t)
	router := newTestRouter(gh)

	req := httptest.NewRequest(http.MethodPost, "/api/gallery/save-all", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, fd.bulkCalls)
}

func TestStatusReportsClassifierMode(t *testing.T) {
	gh, _ := newTestHandler(t)
	gh.Cfg.ClassifierMode = classify.ModeDemo
	router := newTestRouter(gh)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		ClassifierMode  string `json:"classifier_mode"`
		DemoMode        bool   `json:"demo_mode"`
		EmbeddedBackend bool   `json:"embedded_backend"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, classify.ModeDemo, resp.ClassifierMode)
	assert.True(t, resp.DemoMode)
	assert.False(t, resp.EmbeddedBackend)
}
