package meshclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrOverconstrained  = errors.New("media constraints cannot be satisfied")
	ErrNotReadable      = errors.New("media device busy or unreadable")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrMediaUnavailable = errors.New("no media available")
	ErrAttachFailed     = errors.New("media attach failed")
)

// Constraints describe what to capture. Zero width/height mean "any".
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

var (
	ConstraintsHD    = Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
	ConstraintsBasic = Constraints{Audio: true, Video: true}
)

// Stream is captured local media.
type Stream interface {
	Close() error
}

// Source opens local capture devices.
type Source interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

type SourceFunc func(ctx context.Context, c Constraints) (Stream, error)

func (f SourceFunc) Open(ctx context.Context, c Constraints) (Stream, error) { return f(ctx, c) }

// Media is the outcome of acquisition. A degraded result has no stream; the
// caller joins with audio and video disabled.
type Media struct {
	Stream      Stream
	Constraints Constraints
	Degraded    bool
	Err         error // why acquisition degraded
}

// Acquire tries each tier in order (HD then basic by default). Only
// ErrOverconstrained and ErrNotReadable move on to the next tier; any other
// failure, or running out of tiers, degrades instead of failing the join.
// A cancelled ctx is returned as an error.
func Acquire(ctx context.Context, src Source, tiers ...Constraints) (Media, error) {
	if len(tiers) == 0 {
		tiers = []Constraints{ConstraintsHD, ConstraintsBasic}
	}

	var last error
	for _, c := range tiers {
		s, err := src.Open(ctx, c)
		if err == nil {
			return Media{Stream: s, Constraints: c}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Media{}, ctxErr
		}
		last = err
		if !errors.Is(err, ErrOverconstrained) && !errors.Is(err, ErrNotReadable) {
			break
		}
	}
	return Media{Degraded: true, Err: fmt.Errorf("%w: %w", ErrMediaUnavailable, last)}, nil
}

// Attach policy: a handful of tries, linearly growing delay.
const (
	AttachAttempts = 5
	AttachStep     = 200 * time.Millisecond
)

// AttachWithRetry calls attach until it succeeds, waiting step*n after the
// n-th failure. It gives up after attempts tries with ErrAttachFailed.
func AttachWithRetry(ctx context.Context, attempts int, step time.Duration, attach func() error) error {
	if attempts <= 0 {
		attempts = AttachAttempts
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = attach(); err == nil {
			return nil
		}
		if n == attempts {
			break
		}
		t := time.NewTimer(step * time.Duration(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttachFailed, attempts, err)
}
