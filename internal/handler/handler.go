package handler

import (
	"net/http"

	"github.com/Almanaei/cmsvs-sub000/internal/apperr"
)

// httpStatus maps service error kinds onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
