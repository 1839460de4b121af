package main

import (
	"context"
	"errors"
	"testing"

	"github.com/cwrk-planet/meeting-service/pkg/meshclient"

	"github.com/pion/webrtc/v4"
)

func TestSyntheticSource_Tiers(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		mode     string
		want     meshclient.Constraints
		degraded bool
		cause    error
	}{
		{mode: mediaHD, want: meshclient.ConstraintsHD},
		{mode: mediaBasic, want: meshclient.ConstraintsBasic},
		{mode: mediaBusy, degraded: true, cause: meshclient.ErrNotReadable},
		{mode: mediaDenied, degraded: true, cause: meshclient.ErrPermissionDenied},
	}
	for _, tc := range cases {
		src, err := syntheticSource(tc.mode, "probe")
		if err != nil {
			t.Fatalf("%s: %v", tc.mode, err)
		}
		m, err := meshclient.Acquire(ctx, src)
		if err != nil {
			t.Fatalf("%s: acquire: %v", tc.mode, err)
		}
		if m.Degraded != tc.degraded {
			t.Fatalf("%s: degraded = %v", tc.mode, m.Degraded)
		}
		if tc.degraded {
			if !errors.Is(m.Err, meshclient.ErrMediaUnavailable) || !errors.Is(m.Err, tc.cause) {
				t.Fatalf("%s: err = %v", tc.mode, m.Err)
			}
			continue
		}
		if m.Constraints != tc.want {
			t.Fatalf("%s: constraints = %+v", tc.mode, m.Constraints)
		}
		if n := len(m.Stream.(*trackStream).tracks); n != 2 {
			t.Fatalf("%s: %d tracks", tc.mode, n)
		}
	}

	if _, err := syntheticSource("vhs", "probe"); err == nil {
		t.Fatalf("unknown mode accepted")
	}
}

func TestAttachMedia(t *testing.T) {
	ctx := context.Background()
	src, _ := syntheticSource(mediaHD, "probe")
	m, err := meshclient.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("peer connection: %v", err)
	}
	defer pc.Close()

	if err := attachMedia(ctx, m)("remote", pc); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if n := len(pc.GetSenders()); n != 2 {
		t.Fatalf("senders = %d", n)
	}

	bare, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("peer connection: %v", err)
	}
	defer bare.Close()
	if err := attachMedia(ctx, meshclient.Media{Degraded: true})("remote", bare); err != nil {
		t.Fatalf("degraded attach: %v", err)
	}
	if n := len(bare.GetSenders()); n != 0 {
		t.Fatalf("degraded media attached %d senders", n)
	}
}
