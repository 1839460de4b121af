package meshclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/registry"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"
)

func startServer(t *testing.T) (string, *service.MeetingService) {
	t.Helper()

	reg := registry.New(nil)
	svc := service.NewMeetingService(memory.NewReservations(), reg, service.MeetingConfig{ReservationTTL: time.Hour})
	eng := signaling.NewEngine(signaling.Config{}, signaling.Deps{
		Registry:     reg,
		Hub:          signaling.NewHub(),
		Admission:    signaling.NewAdmission(time.Minute, nil),
		Reservations: svc,
		Chat:         service.NewChatService(4000),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(ws.NewServer(eng, ws.Options{}).HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), svc
}

func dialT(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_AdmissionThenJoin(t *testing.T) {
	url, svc := startServer(t)
	if _, err := svc.Create(context.Background(), "ROOM", "tester"); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialT(t, url)
	if _, err := host.Join(ctx, "ROOM", domain.UserInfo{Name: "Host", IsHost: true}); err != nil {
		t.Fatalf("host join: %v", err)
	}

	cand := dialT(t, url)
	errc := make(chan error, 1)
	go func() { errc <- cand.RequestJoin(ctx, "ROOM", domain.UserInfo{Name: "Cand"}) }()

	f, err := host.Await(ctx, signaling.EventJoinRequest)
	if err != nil {
		t.Fatalf("await join-request: %v", err)
	}
	var req signaling.JoinRequestPayload
	_ = json.Unmarshal(f.Payload, &req)
	if req.ID != cand.ID() || req.Name != "Cand" {
		t.Fatalf("join-request = %+v", req)
	}
	if err := host.Send(signaling.EventApproveJoin, signaling.DecisionPayload{RequestID: req.ID}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("request join: %v", err)
	}

	snap, err := cand.Join(ctx, "ROOM", domain.UserInfo{Name: "Cand"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].ID != host.ID() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := host.Await(ctx, signaling.EventUserJoined); err != nil {
		t.Fatalf("await user-joined: %v", err)
	}
}

func TestClient_Rejected(t *testing.T) {
	url, svc := startServer(t)
	_, _ = svc.Create(context.Background(), "ROOM", "tester")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialT(t, url)
	if _, err := host.Join(ctx, "ROOM", domain.UserInfo{Name: "Host", IsHost: true}); err != nil {
		t.Fatalf("host join: %v", err)
	}
	cand := dialT(t, url)
	errc := make(chan error, 1)
	go func() { errc <- cand.RequestJoin(ctx, "ROOM", domain.UserInfo{Name: "Cand"}) }()

	if _, err := host.Await(ctx, signaling.EventJoinRequest); err != nil {
		t.Fatalf("await: %v", err)
	}
	_ = host.Send(signaling.EventRejectJoin, signaling.DecisionPayload{RequestID: cand.ID()})
	if err := <-errc; !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestClient_JoinUnknownMeeting(t *testing.T) {
	url, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c := dialT(t, url)
	_, err := c.Join(ctx, "NOPE", domain.UserInfo{Name: "X"})
	var se *ServerError
	if !errors.As(err, &se) || se.Message != "Meeting not found" {
		t.Fatalf("err = %v", err)
	}
}
