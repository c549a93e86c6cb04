package api

import (
	"encoding/json"
	"net/http"

	apperrors "whitelist-bot/internal/common/errors"
)

type errorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status of its code. Unknown errors become
// INTERNAL_ERROR without leaking their text.
func writeError(w http.ResponseWriter, err error) {
	se := apperrors.Normalize(err)
	body := errorBody{Code: se.Code, Message: se.Message, Details: se.Details}
	if se.Code == apperrors.ErrCodeInternal {
		body.Details = ""
	}
	writeJSON(w, apperrors.HTTPStatus(se.Code), errorResponse{Error: body})
}
