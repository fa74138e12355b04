package handler

import (
	"errors"
	"net/http"

	"github.com/dtroode/faceid-server/internal/model"
)

func handleError(err error) (int, string) {
	var validation *model.ValidationError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "upload too large"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, model.ErrDuplicateIdentity):
		return http.StatusConflict, "identifier already registered"
	case errors.Is(err, model.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no face detected in image"
	case errors.Is(err, model.ErrAmbiguousProbe):
		return http.StatusUnprocessableEntity, "more than one face detected in image"
	case errors.Is(err, model.ErrInvalidImage):
		return http.StatusUnprocessableEntity, "image could not be decoded"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "identity not found"
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, model.ErrExtractorUnavailable):
		return http.StatusServiceUnavailable, "face extractor unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
