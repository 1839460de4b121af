// Command meshprobe joins a meeting as a headless peer. It negotiates a pion
// peer connection with every other participant, attaches silent synthetic
// tracks and exchanges data-channel pings.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
	"github.com/cwrk-planet/meeting-service/pkg/logger"
	"github.com/cwrk-planet/meeting-service/pkg/meshclient"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

type options struct {
	server        string
	api           string
	token         string
	meetingID     string
	name          string
	email         string
	host          bool
	request       bool
	offerExisting bool
	iceServers    string
	iceUser       string
	iceCredential string
	joinTimeout   time.Duration
	pingEvery     time.Duration
	media         string
	logLevel      string
}

func main() {
	var o options
	fs := pflag.NewFlagSet("meshprobe", pflag.ContinueOnError)
	fs.StringVarP(&o.server, "server", "s", "ws://localhost:8080/ws", "signaling websocket url")
	fs.StringVar(&o.api, "api", "http://localhost:8080", "meeting API base url, used with --token to create a meeting")
	fs.StringVar(&o.token, "token", "", "bearer token; when set and --meeting is empty a meeting is created first")
	fs.StringVarP(&o.meetingID, "meeting", "m", "", "meeting id to join")
	fs.StringVarP(&o.name, "name", "n", "meshprobe", "display name")
	fs.StringVar(&o.email, "email", "", "email shown to the host")
	fs.BoolVar(&o.host, "host", false, "join with the host flag")
	fs.BoolVarP(&o.request, "request", "r", false, "ask the host for admission before joining")
	fs.BoolVar(&o.offerExisting, "offer-existing", false, "existing members offer to newcomers instead of the reverse")
	fs.StringVar(&o.iceServers, "ice-servers", "", "comma-separated ICE server urls (default public STUN)")
	fs.StringVar(&o.iceUser, "ice-username", "", "ICE server username")
	fs.StringVar(&o.iceCredential, "ice-credential", "", "ICE server credential")
	fs.DurationVar(&o.joinTimeout, "join-timeout", 2*time.Minute, "how long to wait for admission and join")
	fs.DurationVar(&o.pingEvery, "ping-every", 5*time.Second, "data channel ping interval")
	fs.StringVar(&o.media, "media", mediaHD, "synthetic capture: hd, basic, busy or denied (the last two join without media)")
	fs.StringVarP(&o.logLevel, "log-level", "l", "info", "log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("parse flags: %v", err)
	}

	logger.Init(logger.Config{
		Service: "meshprobe",
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   logger.ParseLevel(o.logLevel),
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("meshprobe failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.meetingID == "" {
		if o.token == "" {
			return errors.New("--meeting or --token is required")
		}
		id, err := createMeeting(ctx, o.api, o.token)
		if err != nil {
			return err
		}
		o.meetingID = id
		slog.Info("meeting created", "meeting", id)
	}

	src, err := syntheticSource(o.media, o.name)
	if err != nil {
		return err
	}
	media, err := meshclient.Acquire(ctx, src)
	if err != nil {
		return err
	}
	if media.Degraded {
		slog.Warn("joining without media", "err", media.Err)
	} else {
		slog.Info("media acquired", "width", media.Constraints.Width, "height", media.Constraints.Height)
		defer media.Stream.Close()
	}

	client, err := meshclient.Dial(ctx, o.server, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	slog.Info("connected", "conn", client.ID())

	info := domain.UserInfo{Name: o.name, Email: o.email, IsHost: o.host}

	joinCtx, cancel := context.WithTimeout(ctx, o.joinTimeout)
	defer cancel()

	if o.request {
		slog.Info("waiting for host approval", "meeting", o.meetingID)
		if err := client.RequestJoin(joinCtx, o.meetingID, info); err != nil {
			return fmt.Errorf("admission: %w", err)
		}
	}
	snap, err := client.Join(joinCtx, o.meetingID, info)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	slog.Info("joined", "meeting", snap.MeetingID, "others", len(snap.Participants), "host", snap.Self.IsHost)

	if media.Degraded {
		off := false
		for _, ev := range []string{signaling.EventToggleVideo, signaling.EventToggleAudio} {
			if err := client.Send(ev, signaling.TogglePayload{MeetingID: o.meetingID, Enabled: &off}); err != nil {
				return fmt.Errorf("announce degraded media: %w", err)
			}
		}
	}

	ice := meshclient.ParseICEServers(o.iceServers, o.iceUser, o.iceCredential)
	if ice == nil {
		ice = meshclient.DefaultICEServers
	}
	factory := meshclient.NewPionFactory(webrtc.Configuration{ICEServers: ice},
		chainSetup(attachMedia(ctx, media), probeChannels(ctx, o.name, o.pingEvery)))

	policy := meshclient.OfferNewcomer
	if o.offerExisting {
		policy = meshclient.OfferExisting
	}
	mesh := meshclient.NewMesh(o.meetingID, client, factory, meshclient.WithOfferPolicy(policy))
	defer mesh.Close()

	if err := mesh.HandleMeetingJoined(ctx, snap); err != nil {
		slog.Warn("initial negotiation incomplete", "err", err)
	}

	for {
		f, err := client.Next(ctx)
		if err != nil {
			return err
		}
		logFrame(f)
		if err := mesh.Dispatch(ctx, f); err != nil {
			slog.Warn("negotiation step failed", "event", f.Type, "err", err)
		}
	}
}

// probeChannels opens a "probe" data channel on every connection and answers
// the remote one, logging pings both ways.
func probeChannels(ctx context.Context, name string, every time.Duration) meshclient.PionSetup {
	return func(remoteID string, pc *webrtc.PeerConnection) error {
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			slog.Info("peer state", "remote", remoteID, "state", s.String())
		})
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			dc.OnMessage(func(m webrtc.DataChannelMessage) {
				slog.Info("data", "remote", remoteID, "label", dc.Label(), "msg", string(m.Data))
			})
		})

		dc, err := pc.CreateDataChannel("probe", nil)
		if err != nil {
			return err
		}
		dc.OnOpen(func() {
			slog.Info("data channel open", "remote", remoteID)
			go func() {
				t := time.NewTicker(every)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case now := <-t.C:
						if err := dc.SendText(fmt.Sprintf("ping from %s at %s", name, now.Format(time.RFC3339))); err != nil {
							return
						}
					}
				}
			}()
		})
		return nil
	}
}

func logFrame(f meshclient.Frame) {
	switch f.Type {
	case signaling.EventUserJoined, signaling.EventUserLeft, signaling.EventNewMessage,
		signaling.EventJoinRequest, signaling.EventError:
		slog.Info("event", "type", f.Type, "payload", string(f.Payload))
	default:
		slog.Debug("event", "type", f.Type)
	}
}

func createMeeting(ctx context.Context, api, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api, "/")+"/api/meeting/create", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create meeting: status %d", resp.StatusCode)
	}
	var out struct {
		MeetingID string `json:"meetingId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create meeting: %w", err)
	}
	return out.MeetingID, nil
}
