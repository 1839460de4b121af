package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/meeting-service/pkg/meshclient"

	"github.com/pion/webrtc/v4"
)

// Synthetic capture modes, so each acquisition tier can be exercised without
// real devices.
const (
	mediaHD     = "hd"     // every tier succeeds
	mediaBasic  = "basic"  // resolution constraints fail, plain capture works
	mediaBusy   = "busy"   // devices unreadable on every tier
	mediaDenied = "denied" // permission refused
)

type trackStream struct {
	tracks []webrtc.TrackLocal
}

func (s *trackStream) Close() error { return nil }

// syntheticSource hands out silent pion tracks, failing the way a real device
// would for the chosen mode.
func syntheticSource(mode, name string) (meshclient.Source, error) {
	switch mode {
	case mediaHD, mediaBasic, mediaBusy, mediaDenied:
	default:
		return nil, fmt.Errorf("unknown media mode %q", mode)
	}

	return meshclient.SourceFunc(func(_ context.Context, c meshclient.Constraints) (meshclient.Stream, error) {
		switch {
		case mode == mediaDenied:
			return nil, meshclient.ErrPermissionDenied
		case mode == mediaBusy:
			return nil, meshclient.ErrNotReadable
		case mode == mediaBasic && (c.Width > 0 || c.Height > 0 || c.FrameRate > 0):
			return nil, meshclient.ErrOverconstrained
		}

		s := &trackStream{}
		if c.Audio {
			t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", name)
			if err != nil {
				return nil, err
			}
			s.tracks = append(s.tracks, t)
		}
		if c.Video {
			t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", name)
			if err != nil {
				return nil, err
			}
			s.tracks = append(s.tracks, t)
		}
		return s, nil
	}), nil
}

// attachMedia adds the acquired tracks to each new connection, retrying the
// way a browser retries a late srcObject. Degraded media attaches nothing.
func attachMedia(ctx context.Context, media meshclient.Media) meshclient.PionSetup {
	return func(remoteID string, pc *webrtc.PeerConnection) error {
		s, ok := media.Stream.(*trackStream)
		if media.Degraded || !ok {
			return nil
		}
		added := 0
		return meshclient.AttachWithRetry(ctx, meshclient.AttachAttempts, meshclient.AttachStep, func() error {
			for added < len(s.tracks) {
				if _, err := pc.AddTrack(s.tracks[added]); err != nil {
					slog.Debug("attach track failed", "remote", remoteID, "err", err)
					return err
				}
				added++
			}
			return nil
		})
	}
}

func chainSetup(steps ...meshclient.PionSetup) meshclient.PionSetup {
	return func(remoteID string, pc *webrtc.PeerConnection) error {
		for _, s := range steps {
			if err := s(remoteID, pc); err != nil {
				return err
			}
		}
		return nil
	}
}
