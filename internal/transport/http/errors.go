package http

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/security"
)

// toHTTP maps service errors to a status and the message shown to clients.
func toHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidMeetingID):
		return http.StatusBadRequest, "invalid meeting id"
	case errors.Is(err, domain.ErrMeetingNotFound):
		return http.StatusNotFound, "Meeting not found"
	case errors.Is(err, security.ErrInvalidToken),
		errors.Is(err, security.ErrTokenExpired),
		errors.Is(err, security.ErrInvalidIssuer),
		errors.Is(err, security.ErrInvalidAudience),
		errors.Is(err, security.ErrInvalidSubject):
		return http.StatusUnauthorized, "invalid token"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
