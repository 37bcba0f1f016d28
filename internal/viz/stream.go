package viz

import (
	"context"
	"time"

	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/plant"
	"gonum.org/v1/gonum/mat"
)

// Frame is one control period of a running episode.
type Frame struct {
	State   dynamo.State
	Control dynamo.Control
	Time    float64
	Cost    float64
}

// Stream runs an episode in the background and publishes its frames. The
// plant blocks until each frame is received, so a paused reader pauses the
// episode.
type Stream struct {
	frames chan Frame
	done   chan struct{}
	cost   cost.Func
	period time.Duration
	ctx    context.Context

	res *plant.Result
	err error
}

// NewStream starts ctrl on the runner's plant from x0 for steps periods.
// Frames are spaced at least period apart; c may be nil.
func NewStream(ctx context.Context, r *plant.Runner, x0 dynamo.State, ctrl dynamo.Controller, steps int, c cost.Func, period time.Duration) *Stream {
	s := &Stream{
		frames: make(chan Frame),
		done:   make(chan struct{}),
		cost:   c,
		period: period,
		ctx:    ctx,
	}
	r.AddObserver(s)
	go func() {
		defer close(s.done)
		defer close(s.frames)
		s.res, s.err = r.Run(ctx, x0, ctrl, steps)
	}()
	return s
}

// OnStep publishes the state the controller just acted on.
func (s *Stream) OnStep(x dynamo.State, u dynamo.Control, t float64) {
	f := Frame{State: x.Clone(), Control: append(dynamo.Control(nil), u...), Time: t}
	if s.cost != nil {
		if c, _, err := s.cost(mat.NewVecDense(len(x), f.State), nil); err == nil {
			f.Cost = c
		}
	}
	if s.period > 0 {
		select {
		case <-time.After(s.period):
		case <-s.ctx.Done():
			return
		}
	}
	select {
	case s.frames <- f:
	case <-s.ctx.Done():
	}
}

// Frames is closed when the episode ends.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Wait blocks until the episode ends and returns its result.
func (s *Stream) Wait() (*plant.Result, error) {
	<-s.done
	return s.res, s.err
}
