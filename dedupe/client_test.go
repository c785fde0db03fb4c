package dedupe

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient("http://backend.test", httpClient)
}

func TestCheckProximity_Success(t *testing.T) {
	c := newMockedClient(t)

	var gotBody struct {
		Locations []LocationEntry `json:"locations"`
	}
	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/check-proximity",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&gotBody); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"similar_pairs": []map[string]any{
					{"pairId": "p1", "imageId1": "a", "imageId2": "b", "distance": 0.62},
				},
			})
		})

	pairs, err := c.CheckProximity(context.Background(), []LocationEntry{
		{ImageName: "a.jpg", Latitude: 51.5, Longitude: -0.12, ImageID: "a"},
		{ImageName: "b.jpg", Latitude: 51.5, Longitude: -0.12, ImageID: "b"},
	})

	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "p1", pairs[0].PairID)
	assert.InDelta(t, 0.62, pairs[0].Distance, 1e-9)

	require.Len(t, gotBody.Locations, 2)
	assert.Equal(t, "a.jpg", gotBody.Locations[0].ImageName)
	assert.Equal(t, "b", gotBody.Locations[1].ImageID)
}

func TestCheckProximity_EmptyInputMakesNoCall(t *testing.T) {
	c := newMockedClient(t)
	// no responder registered: any request would fail the test

	pairs, err := c.CheckProximity(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, pairs)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestCheckProximity_ServerError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/check-proximity",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	pairs, err := c.CheckProximity(context.Background(), []LocationEntry{
		{ImageName: "a.jpg", Latitude: 1, Longitude: 2, ImageID: "a"},
	})

	require.Error(t, err)
	assert.Nil(t, pairs)
	assert.Contains(t, err.Error(), "status 502")
}

func TestSaveDecision(t *testing.T) {
	c := newMockedClient(t)

	var gotBody map[string]string
	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/save-decision",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&gotBody); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"status": "ok"})
		})

	err := c.SaveDecision(context.Background(), "p1", "keep_first_remove_second", "a", "b")

	require.NoError(t, err)
	assert.Equal(t, "p1", gotBody["pairId"])
	assert.Equal(t, "keep_first_remove_second", gotBody["action"])
	assert.Equal(t, "a", gotBody["imageId1"])
	assert.Equal(t, "b", gotBody["imageId2"])
}

func TestSaveDecision_Failure(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/save-decision",
		httpmock.NewStringResponder(http.StatusInternalServerError, "db error"))

	err := c.SaveDecision(context.Background(), "p1", "save_both", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestUploadImageAndListCloudStorage(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, "http://backend.test/upload-image",
		func(req *http.Request) (*http.Response, error) {
			var entry UploadEntry
			if err := json.NewDecoder(req.Body).Decode(&entry); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			if string(entry.ImageData) != "fake image bytes" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "corrupted payload"), nil
			}
			return httpmock.NewJsonResponse(http.StatusCreated, map[string]any{
				"id": entry.ImageID, "name": entry.Name, "size_bytes": len(entry.ImageData),
			})
		})
	httpmock.RegisterResponder(http.MethodGet, "http://backend.test/cloud-storage",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"images": []map[string]any{{"id": "a", "name": "a.jpg", "size_bytes": 16}},
		}))

	stored, err := c.UploadImage(context.Background(), UploadEntry{
		ImageID: "a", Name: "a.jpg", ImageData: []byte("fake image bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ID)

	images, err := c.ListCloudStorage(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "a.jpg", images[0].Name)
}
