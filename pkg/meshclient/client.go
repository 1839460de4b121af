// Package meshclient is a Go client for the meeting signaling protocol: it
// dials the websocket, walks the admission handshake and drives a full-mesh
// set of peer negotiations.
package meshclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"

	"github.com/gorilla/websocket"
)

var (
	ErrRejected = errors.New("join request rejected by host")
	ErrClosed   = errors.New("signaling connection closed")
)

// ServerError is an error event returned for one of our requests.
type ServerError struct {
	Message string
	Event   string
}

func (e *ServerError) Error() string {
	if e.Event == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error on %s: %s", e.Event, e.Message)
}

// Frame is one inbound signaling frame.
type Frame = signaling.Envelope

// Client is one signaling connection. Send is safe for concurrent use; the
// read side (Next, Await, Join, RequestJoin) is meant for a single goroutine.
type Client struct {
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex

	frames  chan Frame
	backlog []Frame

	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dial connects to the signaling endpoint and waits for the connection id.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		frames: make(chan Frame, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()

	f, err := c.Await(ctx, signaling.EventConnected)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	var p signaling.ConnectedPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.ConnectionID == "" {
		_ = c.Close()
		return nil, fmt.Errorf("bad connected frame: %s", f.Payload)
	}
	c.id = p.ConnectionID
	return c, nil
}

// ID is the connection id the server assigned; it doubles as participant id.
func (c *Client) ID() string { return c.id }

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() { close(c.closed) })
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.frames <- f:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) Send(event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(signaling.Message{Type: event, Payload: payload})
}

// Next returns the next frame, oldest backlog first.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	if len(c.backlog) > 0 {
		f := c.backlog[0]
		c.backlog = c.backlog[1:]
		return f, nil
	}
	return c.read(ctx)
}

func (c *Client) read(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.closed:
		// frames queued before the close still count
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		c.errMu.Lock()
		err := c.readErr
		c.errMu.Unlock()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return Frame{}, ErrClosed
	}
}

// Await reads until a frame of one of the given types arrives. Frames of
// other types are kept for Next.
func (c *Client) Await(ctx context.Context, types ...string) (Frame, error) {
	return c.await(ctx, "", types...)
}

// await also fails on an error event caused by the cause event.
func (c *Client) await(ctx context.Context, cause string, types ...string) (Frame, error) {
	for i, f := range c.backlog {
		if slices.Contains(types, f.Type) {
			c.backlog = slices.Delete(c.backlog, i, i+1)
			return f, nil
		}
	}
	for {
		f, err := c.read(ctx)
		if err != nil {
			return Frame{}, err
		}
		if slices.Contains(types, f.Type) {
			return f, nil
		}
		if cause != "" && f.Type == signaling.EventError {
			var p signaling.ErrorPayload
			if json.Unmarshal(f.Payload, &p) == nil && p.Event == cause {
				return Frame{}, &ServerError{Message: p.Message, Event: p.Event}
			}
		}
		c.backlog = append(c.backlog, f)
	}
}

// RequestJoin asks the host for admission and blocks until a decision, an
// error event or ctx expiry. A meeting without a present host never answers.
func (c *Client) RequestJoin(ctx context.Context, meetingID string, info domain.UserInfo) error {
	if err := c.Send(signaling.EventRequestJoin, signaling.JoinPayload{MeetingID: meetingID, UserInfo: info}); err != nil {
		return err
	}
	f, err := c.await(ctx, signaling.EventRequestJoin, signaling.EventJoinApproved, signaling.EventJoinRejected)
	if err != nil {
		return err
	}
	if f.Type == signaling.EventJoinRejected {
		return ErrRejected
	}
	return nil
}

// Join enters the meeting and returns the snapshot of the other participants.
func (c *Client) Join(ctx context.Context, meetingID string, info domain.UserInfo) (signaling.MeetingJoinedPayload, error) {
	var out signaling.MeetingJoinedPayload
	if err := c.Send(signaling.EventJoinMeeting, signaling.JoinPayload{MeetingID: meetingID, UserInfo: info}); err != nil {
		return out, err
	}
	f, err := c.await(ctx, signaling.EventJoinMeeting, signaling.EventMeetingJoined)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(f.Payload, &out); err != nil {
		return out, fmt.Errorf("decode meeting-joined: %w", err)
	}
	return out, nil
}

func (c *Client) Leave(meetingID string) error {
	return c.Send(signaling.EventLeaveMeeting, signaling.LeavePayload{MeetingID: meetingID})
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineSoon())
	c.writeMu.Unlock()
	return c.conn.Close()
}

func deadlineSoon() time.Time { return time.Now().Add(time.Second) }
