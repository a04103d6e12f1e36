package api

import (
	"errors"
	"net/http"

	"odprt-chatbot/gateway/internal/files"
	apperrors "odprt-chatbot/gateway/pkg/errors"
)

// toAppError maps service errors onto HTTP error responses. Local
// validation failures are the caller's fault; everything else is an
// upstream problem.
func toAppError(err error) *apperrors.AppError {
	var verr *files.ValidationError
	if errors.As(err, &verr) {
		return apperrors.NewBadRequestError("INVALID_FILE", verr.Error())
	}
	return apperrors.NewError(http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
}
