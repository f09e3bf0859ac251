// Package commit serializes concurrent webhook submissions onto the control channel.
//
// The Coordinator is a single-owner actor: one goroutine (Run) owns the FIFO of pending
// submissions, the single outstanding checkpoint and the exclusive right to write documents
// and checkpoints. Submit and Acknowledge only exchange messages with that goroutine.
//
// Because acknowledge carries no correlation id, every document is followed by its own
// checkpoint and the next document is not written until that checkpoint is acknowledged.
package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/dsjohal14/httpingest/internal/protocol"
	"github.com/rs/zerolog"
)

// DefaultAckTimeout bounds the wait for an acknowledge after a checkpoint
const DefaultAckTimeout = 5 * time.Minute

// Coordinator errors
var (
	// ErrAcknowledgeTimeout is fatal: no acknowledge arrived within the deadline
	ErrAcknowledgeTimeout = errors.New("acknowledge timeout")
	// ErrUnexpectedAcknowledge is fatal: an acknowledge arrived with no checkpoint outstanding
	ErrUnexpectedAcknowledge = errors.New("acknowledge without outstanding checkpoint")
	// ErrSessionClosed is returned to submissions still pending at shutdown
	ErrSessionClosed = errors.New("session closed")
)

// Submission is a resolved document bound for the control channel
type Submission struct {
	Binding int
	Doc     json.RawMessage
}

// Emitter writes responses to the control channel
type Emitter interface {
	Encode(protocol.Response) error
}

// Options configures a Coordinator
type Options struct {
	AckTimeout time.Duration
	Metrics    *obs.Metrics
	Logger     zerolog.Logger
}

// Coordinator sequences submissions into document/checkpoint pairs
type Coordinator struct {
	emitter    Emitter
	ackTimeout time.Duration
	metrics    *obs.Metrics
	logger     zerolog.Logger

	submitCh chan *pending
	ackCh    chan struct{}
	done     chan struct{}
	err      error // terminal error, written before done is closed

	pendingCount atomic.Int64
	emitted      atomic.Uint64
}

// New creates a coordinator writing to emitter. Run must be called exactly once.
func New(emitter Emitter, opts Options) *Coordinator {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Coordinator{
		emitter:    emitter,
		ackTimeout: opts.AckTimeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		submitCh:   make(chan *pending),
		ackCh:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit enqueues s and blocks until its checkpoint is acknowledged. If ctx ends first,
// ctx.Err() is returned but the submission stays queued: once accepted it will still be
// emitted and committed.
func (c *Coordinator) Submit(ctx context.Context, s Submission) error {
	p := &pending{
		Submission: s,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}

	select {
	case c.submitCh <- p:
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledge delivers an acknowledge read from the control channel
func (c *Coordinator) Acknowledge(ctx context.Context) error {
	select {
	case c.ackCh <- struct{}{}:
		return nil
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned and every pending submission was released
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Pending returns the number of submissions queued or awaiting acknowledgement
func (c *Coordinator) Pending() int {
	return int(c.pendingCount.Load())
}

// Emitted returns the number of documents written so far
func (c *Coordinator) Emitted() uint64 {
	return c.emitted.Load()
}

// Run processes submissions until ctx is cancelled (returns nil) or a fatal coordination
// error occurs (returned). On exit every pending submission is released with an error.
func (c *Coordinator) Run(ctx context.Context) error {
	q := newQueue()
	var outstanding *pending

	err := c.loop(ctx, q, &outstanding)

	terminal := err
	if terminal == nil {
		terminal = ErrSessionClosed
	}
	if outstanding != nil {
		outstanding.release(terminal)
	}
	for p := q.Dequeue(); p != nil; p = q.Dequeue() {
		p.release(terminal)
	}
	c.pendingCount.Store(0)
	c.metrics.SetPending(0)

	c.err = terminal
	close(c.done)
	return err
}

func (c *Coordinator) loop(ctx context.Context, q *queue, outstanding **pending) error {
	var timer *time.Timer
	var timeout <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if *outstanding == nil {
			if next := q.Dequeue(); next != nil {
				*outstanding = next
				if err := c.emit(next); err != nil {
					return err
				}
				timer = time.NewTimer(c.ackTimeout)
				timeout = timer.C
			}
		}

		select {
		case <-ctx.Done():
			return nil

		case p := <-c.submitCh:
			q.Enqueue(p)
			c.metrics.SetPending(int(c.pendingCount.Add(1)))

		case <-c.ackCh:
			p := *outstanding
			if p == nil {
				return ErrUnexpectedAcknowledge
			}
			timer.Stop()
			timer, timeout = nil, nil
			*outstanding = nil

			latency := time.Since(p.emittedAt)
			c.metrics.Acknowledged(latency)
			c.metrics.SetPending(int(c.pendingCount.Add(-1)))
			c.logger.Debug().
				Int("binding", p.Binding).
				Dur("ack_latency", latency).
				Msg("checkpoint acknowledged")
			p.release(nil)

		case <-timeout:
			c.logger.Error().
				Dur("ack_timeout", c.ackTimeout).
				Int("queued", q.Count()).
				Msg("no acknowledge for outstanding checkpoint")
			return fmt.Errorf("%w: none received within %s", ErrAcknowledgeTimeout, c.ackTimeout)
		}
	}
}

// emit writes the document for p followed immediately by its checkpoint
func (c *Coordinator) emit(p *pending) error {
	if err := c.emitter.Encode(protocol.NewDocument(p.Binding, p.Doc)); err != nil {
		return fmt.Errorf("failed to emit document: %w", err)
	}
	if err := c.emitter.Encode(protocol.NewCheckpoint()); err != nil {
		return fmt.Errorf("failed to emit checkpoint: %w", err)
	}
	p.emittedAt = time.Now()
	c.emitted.Add(1)
	c.metrics.DocumentEmitted(p.Binding)
	c.logger.Debug().
		Int("binding", p.Binding).
		Dur("queued_for", p.emittedAt.Sub(p.enqueuedAt)).
		Msg("document emitted")
	return nil
}
