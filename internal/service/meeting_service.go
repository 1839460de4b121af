package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/security"
)

const (
	codeLength   = 8
	codeAttempts = 5
)

// ReservationStore persists meeting ids that have no live room.
type ReservationStore interface {
	// Reserve inserts r or, when the id exists, extends its expiry and keeps
	// the original creator and creation time. Returns the stored row.
	Reserve(ctx context.Context, r domain.Reservation) (domain.Reservation, error)
	Get(ctx context.Context, id string) (domain.Reservation, error)
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context, before time.Time) (int, error)
}

// LiveMeetings is the read side of the room registry.
type LiveMeetings interface {
	GetMeeting(id string) (domain.Meeting, error)
}

type MeetingConfig struct {
	PublicURL      string
	ReservationTTL time.Duration
}

type CreatedMeeting struct {
	ID  string `json:"meetingId"`
	URL string `json:"meetingUrl"`
}

type MeetingService struct {
	store     ReservationStore
	live      LiveMeetings
	publicURL string
	ttl       time.Duration
	now       func() time.Time
	newCode   func() (string, error)
}

func NewMeetingService(store ReservationStore, live LiveMeetings, cfg MeetingConfig) *MeetingService {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 24 * time.Hour
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:5173"
	}
	return &MeetingService{
		store:     store,
		live:      live,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		ttl:       cfg.ReservationTTL,
		now:       time.Now,
		newCode:   func() (string, error) { return security.MeetingCode(codeLength) },
	}
}

// Create reserves requestedID, or a generated code when it is empty. An id
// that is already live or reserved is reused.
func (s *MeetingService) Create(ctx context.Context, requestedID, createdBy string) (CreatedMeeting, error) {
	id := strings.TrimSpace(requestedID)
	if id != "" && !domain.ValidMeetingID(id) {
		return CreatedMeeting{}, domain.ErrInvalidMeetingID
	}

	if id == "" {
		var err error
		if id, err = s.freshCode(ctx); err != nil {
			return CreatedMeeting{}, err
		}
	}

	if _, err := s.live.GetMeeting(id); err != nil {
		now := s.now()
		if _, err := s.store.Reserve(ctx, domain.Reservation{
			ID:        id,
			CreatedBy: createdBy,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}); err != nil {
			return CreatedMeeting{}, fmt.Errorf("reserve meeting: %w", err)
		}
	}

	slog.Info("meeting created", "meeting", id, "by", createdBy)
	return CreatedMeeting{ID: id, URL: s.URL(id)}, nil
}

func (s *MeetingService) URL(id string) string {
	return s.publicURL + "/join/" + id
}

func (s *MeetingService) freshCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate meeting id: %w", err)
		}
		taken, err := s.Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("generate meeting id: too many collisions")
}

// Info describes a live meeting, then an unclaimed reservation.
func (s *MeetingService) Info(ctx context.Context, id string) (domain.MeetingInfo, error) {
	if m, err := s.live.GetMeeting(id); err == nil {
		return domain.MeetingInfo{ID: m.ID, ParticipantCount: len(m.Participants), CreatedAt: m.CreatedAt}, nil
	}
	r, err := s.reservation(ctx, id)
	if err != nil {
		return domain.MeetingInfo{}, err
	}
	return domain.MeetingInfo{ID: r.ID, CreatedAt: r.CreatedAt}, nil
}

// Exists reports whether id is live or reserved.
func (s *MeetingService) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := s.live.GetMeeting(id); err == nil {
		return true, nil
	}
	_, err := s.reservation(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrMeetingNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Claim consumes the reservation once the first participant has joined.
func (s *MeetingService) Claim(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Release re-reserves the id of a meeting that just emptied.
func (s *MeetingService) Release(ctx context.Context, id string) error {
	now := s.now()
	_, err := s.store.Reserve(ctx, domain.Reservation{ID: id, CreatedAt: now, ExpiresAt: now.Add(s.ttl)})
	return err
}

func (s *MeetingService) reservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if r.Expired(s.now()) {
		return domain.Reservation{}, domain.ErrMeetingNotFound
	}
	return r, nil
}

func (s *MeetingService) Purge(ctx context.Context) (int, error) {
	return s.store.Purge(ctx, s.now())
}

const defaultPurgeEvery = 5 * time.Minute

// RunJanitor purges expired reservations until ctx is done. A non-positive
// interval falls back to the default.
func (s *MeetingService) RunJanitor(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = defaultPurgeEvery
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				slog.Warn("reservation purge failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("reservations purged", "count", n)
			}
		}
	}
}
