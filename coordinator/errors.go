package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

// errorResponse is the stable JSON error shape every route returns:
// {error, error_id}, with stacks logged server-side only.
type errorResponse struct {
	Error        string `json:"error"`
	ErrorID      string `json:"error_id"`
	QueueDepth   int    `json:"queue_depth,omitempty"`
	RetryAfterS  int    `json:"retry_after_seconds,omitempty"`
}

// writeError maps err's Kind to an HTTP status via apperrors.HTTPStatus
// and writes the stable {error, error_id} JSON body.
func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(kind)

	resp := errorResponse{Error: string(kind), ErrorID: ""}

	var appErr *apperrors.Error
	if e, ok := err.(*apperrors.Error); ok {
		appErr = e
	}
	if appErr != nil {
		resp.ErrorID = appErr.ErrorID
		resp.QueueDepth = appErr.QueueDepth
		resp.RetryAfterS = appErr.RetryAfterSeconds
		if appErr.Message != "" {
			resp.Error = appErr.Message
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
