package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/service"
	httpmw "github.com/cwrk-planet/meeting-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type MeetingService interface {
	Create(ctx context.Context, requestedID, createdBy string) (service.CreatedMeeting, error)
	Info(ctx context.Context, id string) (domain.MeetingInfo, error)
}

type Handler struct {
	meetings MeetingService
}

func NewHandler(meetings MeetingService) *Handler {
	return &Handler{meetings: meetings}
}

// POST /api/meeting/create
//
// The body is optional; {"meetingId": "..."} asks for a specific id.
func (h *Handler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req CreateMeetingRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			slog.Debug("handler.CreateMeeting.Decode", slog.Any("err", err))
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	created, err := h.meetings.Create(r.Context(), req.MeetingID, httpmw.SubjectFromCtx(r.Context()))
	if err != nil {
		status, msg := toHTTP(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "handler.CreateMeeting", slog.Any("err", err))
		}
		httputil.Error(w, status, msg)
		return
	}

	httputil.JSON(w, http.StatusOK, CreateMeetingResponse{
		MeetingID:  created.ID,
		MeetingURL: created.URL,
	})
}

// GET /api/meeting/{meetingId}
//
// Live meetings report their participant count. A meeting that emptied keeps
// its id reserved for the reservation TTL, so it answers 200 with
// participantCount 0 until then instead of 404.
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "meetingId")

	info, err := h.meetings.Info(r.Context(), id)
	if err != nil {
		status, msg := toHTTP(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "handler.GetMeeting", slog.Any("err", err), "meeting", id)
		}
		httputil.Error(w, status, msg)
		return
	}

	httputil.JSON(w, http.StatusOK, MeetingResponse{
		ID:               info.ID,
		ParticipantCount: info.ParticipantCount,
		CreatedAt:        info.CreatedAt,
	})
}
