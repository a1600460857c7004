// Package progress implements the per-job event stream: one producer, at
// most one consumer, delivery in emission order.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"ratingsync/internal/core/scrapeerr"
)

var ErrAlreadySubscribed = errors.New("progress channel already has a consumer")

type Options struct {
	// Heartbeat is the idle interval after which a heartbeat is emitted.
	// Zero disables heartbeats.
	Heartbeat time.Duration
	// Ceiling is the wall-clock limit for the whole job. Zero disables it.
	Ceiling time.Duration
}

// Channel buffers events without bound so Emit never blocks. Its context is
// cancelled when the job reaches a terminal event, hits its ceiling or loses
// its consumer; the job uses that context to stop and release resources.
type Channel struct {
	mu         sync.Mutex
	queue      []Event
	wake       chan struct{}
	terminal   *Event
	gone       bool
	subscribed bool
	unwatched  bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	heartbeat time.Duration
	hbTimer   *time.Timer
	ceiling   *time.Timer
}

func New(parent context.Context, opts Options) *Channel {
	ctx, cancel := context.WithCancelCause(parent)
	c := &Channel{
		wake:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		heartbeat: opts.Heartbeat,
	}
	if opts.Heartbeat > 0 {
		c.hbTimer = time.AfterFunc(opts.Heartbeat, c.beat)
	}
	if opts.Ceiling > 0 {
		limit := opts.Ceiling
		c.ceiling = time.AfterFunc(limit, func() {
			c.Fail(scrapeerr.New(scrapeerr.CodeJobTimeout, "job exceeded "+limit.String(), context.DeadlineExceeded))
		})
	}
	return c
}

// Context is cancelled once the job should stop.
func (c *Channel) Context() context.Context { return c.ctx }

// Done is closed after the terminal event has been emitted.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Emit queues a non-terminal event. Events after the terminal one are
// dropped, as are events with a terminal kind (use Complete or Fail).
func (c *Channel) Emit(e Event) {
	if e.Kind.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal != nil {
		return
	}
	c.push(e)
	if c.hbTimer != nil && !c.unwatched {
		c.hbTimer.Reset(c.heartbeat)
	}
}

// Complete emits the success event. It reports false if the stream had
// already ended.
func (c *Channel) Complete(e Event) bool {
	e.Kind = KindComplete
	return c.finish(e, nil)
}

// Fail emits a terminal error event built from err.
func (c *Channel) Fail(err error) bool {
	return c.finish(ErrorEvent(err), err)
}

// Terminal returns the terminal event once one was emitted.
func (c *Channel) Terminal() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal == nil {
		return Event{}, false
	}
	return *c.terminal, true
}

func (c *Channel) finish(e Event, cause error) bool {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return false
	}
	ev := c.push(e)
	c.terminal = &ev
	c.stopTimers()
	close(c.done)
	c.mu.Unlock()

	c.cancel(cause)
	return true
}

// push stamps e and queues it for the consumer, unless the consumer is
// gone. Callers hold mu.
func (c *Channel) push(e Event) Event {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if c.gone || c.unwatched {
		return e
	}
	c.queue = append(c.queue, e)
	close(c.wake)
	c.wake = make(chan struct{})
	return e
}

func (c *Channel) stopTimers() {
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	if c.ceiling != nil {
		c.ceiling.Stop()
	}
}

func (c *Channel) beat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal != nil || c.gone || c.unwatched {
		return
	}
	c.push(Event{Kind: KindHeartbeat, Message: "still working"})
	c.hbTimer.Reset(c.heartbeat)
}

// Subscribe attaches the single consumer. Events emitted before the call
// are delivered first.
func (c *Channel) Subscribe() (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, ErrAlreadySubscribed
	}
	c.subscribed = true
	return &Subscription{c: c}, nil
}

// DropEvents declares that nobody will consume the stream. Events are no
// longer queued and heartbeats stop; the terminal event is still recorded
// for Terminal and the context behaves as usual.
func (c *Channel) DropEvents() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return ErrAlreadySubscribed
	}
	c.subscribed = true
	c.unwatched = true
	c.queue = nil
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	return nil
}

type Subscription struct {
	c *Channel
}

// Next blocks for the next event. It returns false after the terminal event
// was delivered, after Cancel, or when ctx ends.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	c := s.c
	for {
		c.mu.Lock()
		if c.gone {
			c.mu.Unlock()
			return Event{}, false
		}
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue[0] = Event{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return ev, true
		}
		if c.terminal != nil {
			c.mu.Unlock()
			return Event{}, false
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// Cancel detaches the consumer. No further events are delivered and the
// channel context is cancelled with scrapeerr.ErrConsumerGone.
func (s *Subscription) Cancel() {
	c := s.c
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return
	}
	c.gone = true
	c.queue = nil
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()

	c.cancel(scrapeerr.ErrConsumerGone)
}
