package app

import (
	"errors"
	"net/http"

	"micropub/api/internal/micropub"
)

// errorBody is the Micropub error envelope.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

var statusByCode = map[micropub.ErrorCode]int{
	micropub.CodeInvalidRequest:    http.StatusBadRequest,
	micropub.CodeUnauthorized:      http.StatusUnauthorized,
	micropub.CodeInsufficientScope: http.StatusUnauthorized,
	micropub.CodeForbidden:         http.StatusForbidden,
	micropub.CodeInvalidRepo:       http.StatusUnprocessableEntity,
}

func mapError(err error) (status int, body errorBody) {
	var domainErr *micropub.Error
	if errors.As(err, &domainErr) {
		if status, ok := statusByCode[domainErr.Code]; ok {
			return status, errorBody{Error: string(domainErr.Code), Description: domainErr.Description}
		}
	}
	return http.StatusInternalServerError, errorBody{Error: "server_error", Description: "Server error"}
}
