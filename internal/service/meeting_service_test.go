package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/registry"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
)

func newTestService(t *testing.T) (*MeetingService, *registry.Registry, *time.Time) {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.New(nil)
	svc := NewMeetingService(memory.NewReservations(), reg, MeetingConfig{
		PublicURL:      "https://meet.example.com/",
		ReservationTTL: time.Hour,
	})
	svc.now = func() time.Time { return now }
	return svc, reg, &now
}

func TestCreate_GeneratesCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, "", "42")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(m.ID) != codeLength || strings.ToUpper(m.ID) != m.ID {
		t.Fatalf("unexpected id %q", m.ID)
	}
	if m.URL != "https://meet.example.com/join/"+m.ID {
		t.Fatalf("url = %q", m.URL)
	}
	if ok, _ := svc.Exists(ctx, m.ID); !ok {
		t.Fatalf("created id should exist")
	}
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "TAKEN000", "1")

	codes := []string{"TAKEN000", "TAKEN000", "FREE0000"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	m, err := svc.Create(ctx, "", "2")
	if err != nil || m.ID != "FREE0000" {
		t.Fatalf("expected FREE0000, got %+v %v", m, err)
	}

	svc.newCode = func() (string, error) { return "TAKEN000", nil }
	if _, err := svc.Create(ctx, "", "3"); err == nil {
		t.Fatalf("expected collision error")
	}
}

func TestCreate_RequestedID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, " ABC123 ", "42")
	if err != nil || m.ID != "ABC123" {
		t.Fatalf("create: %+v %v", m, err)
	}
	if _, err := svc.Create(ctx, "bad id!", "42"); !errors.Is(err, domain.ErrInvalidMeetingID) {
		t.Fatalf("expected ErrInvalidMeetingID, got %v", err)
	}
	again, err := svc.Create(ctx, "ABC123", "7")
	if err != nil || again.ID != "ABC123" {
		t.Fatalf("reuse: %+v %v", again, err)
	}
}

func TestInfo_LiveThenReservation(t *testing.T) {
	svc, reg, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Info(ctx, "NOPE"); !errors.Is(err, domain.ErrMeetingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, _ = svc.Create(ctx, "ROOM1", "42")
	info, err := svc.Info(ctx, "ROOM1")
	if err != nil || info.ParticipantCount != 0 || !info.CreatedAt.Equal(*now) {
		t.Fatalf("reserved info: %+v %v", info, err)
	}

	host := domain.NewParticipant("c1", domain.UserInfo{Name: "Host", IsHost: true}, *now)
	_, _ = reg.CreateMeeting("ROOM1", host)
	_, _ = reg.AddParticipant("ROOM1", domain.NewParticipant("c2", domain.UserInfo{Name: "Guest"}, *now))
	if err := svc.Claim(ctx, "ROOM1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	info, err = svc.Info(ctx, "ROOM1")
	if err != nil || info.ParticipantCount != 2 {
		t.Fatalf("live info: %+v %v", info, err)
	}
}

func TestReservationExpiryAndRelease(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	_, _ = svc.Create(ctx, "ROOM2", "42")
	*now = now.Add(2 * time.Hour)
	if ok, _ := svc.Exists(ctx, "ROOM2"); ok {
		t.Fatalf("expired reservation should not exist")
	}
	if n, _ := svc.Purge(ctx); n != 1 {
		t.Fatalf("purge = %d", n)
	}

	if err := svc.Release(ctx, "ROOM2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := svc.Exists(ctx, "ROOM2"); !ok {
		t.Fatalf("released id should be joinable again")
	}
}

func TestRunJanitor_NonPositiveInterval(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.RunJanitor(ctx, -time.Second) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("janitor: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop")
	}
}

func TestChatService_Compose(t *testing.T) {
	s := NewChatService(5)
	sender := domain.Participant{ID: "c1", Name: "Alice"}

	msg, err := s.Compose(sender, "  hi  ")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if msg.Message != "hi" || msg.Sender != "Alice" || msg.SenderID != "c1" || msg.ID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := s.Compose(sender, "   "); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := s.Compose(sender, "привет!"); !errors.Is(err, domain.ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if _, err := s.Compose(sender, "héllo"); err != nil {
		t.Fatalf("5 runes should fit: %v", err)
	}
}
