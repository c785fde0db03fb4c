package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes for failures of delegated backend operations. The frontend
// keys retry/notification behaviour off the code, not the HTTP status.
const (
	ErrCodeUploadFailed       = "upload_failed"        // single-image push to cloud storage
	ErrCodeBulkSaveFailed     = "bulk_save_failed"     // save-all batch push
	ErrCodeCloudStorageFailed = "cloud_storage_failed" // cloud-storage listing proxy
	ErrCodeDecisionSaveFailed = "decision_save_failed" // pair resolution could not be recorded
)

// APIErrorDetail is one error in the error response envelope.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse is the error envelope returned for failed backend
// delegation. Plain validation failures use bare {"error": ...} bodies; this
// richer shape is reserved for errors the frontend needs to distinguish.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a single-error envelope with the given HTTP status,
// error code and human-readable detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}
