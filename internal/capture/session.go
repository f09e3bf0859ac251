// Package capture runs one connector session: it reads the control channel, starts the
// webhook listener once the session is opened, and bridges deliveries into the commit
// coordinator until the control channel ends.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dsjohal14/httpingest/internal/commit"
	httpapi "github.com/dsjohal14/httpingest/internal/http"
	"github.com/dsjohal14/httpingest/internal/ledger"
	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/dsjohal14/httpingest/internal/protocol"
	"github.com/dsjohal14/httpingest/internal/router"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errEndOfInput ends a running session cleanly
var errEndOfInput = errors.New("control channel closed")

// ListenerBindError is returned when the webhook listener cannot bind its address
type ListenerBindError struct {
	Addr string
	Err  error
}

func (e *ListenerBindError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *ListenerBindError) Unwrap() error { return e.Err }

// Config configures a Session
type Config struct {
	ListenAddr      string
	AckTimeout      time.Duration
	ShutdownTimeout time.Duration
	Metrics         *obs.Metrics
	Ledger          ledger.Store
	Logger          zerolog.Logger
	// IDGenerator overrides identity generation for bindings without idFromHeader
	IDGenerator func() string
}

// Session is one connector invocation bound to one control channel
type Session struct {
	cfg   Config
	in    io.Reader
	out   io.Writer
	state stateMachine

	mu    sync.Mutex
	name  string
	addr  net.Addr
	coord *commit.Coordinator
}

// New creates a session reading requests from in and writing responses to out
func New(cfg Config, in io.Reader, out io.Writer) *Session {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Session{cfg: cfg, in: in, out: out}
}

type readResult struct {
	req *protocol.Request
	err error
}

// Run drives the session to completion. It returns nil when the control channel reaches
// end of input or ctx is cancelled, and an error for any protocol or coordination failure.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.state.v.Store(int32(StateFailed))
			s.cfg.Logger.Error().Err(err).Msg("session failed")
			return
		}
		s.state.advance(StateClosed)
		s.cfg.Logger.Info().Msg("session closed")
	}()

	stop := make(chan struct{})
	defer close(stop)
	reqs := make(chan readResult)
	go readRequests(protocol.NewDecoder(s.in), reqs, stop)

	open, err := s.awaitOpen(ctx, reqs)
	if err != nil || open == nil {
		return err
	}

	bindings, err := router.NewBindings(open.Bindings)
	if err != nil {
		return &protocol.MalformedMessageError{Reason: "invalid open", Cause: err}
	}
	var routerOpts []router.Option
	if s.cfg.IDGenerator != nil {
		routerOpts = append(routerOpts, router.WithIDGenerator(s.cfg.IDGenerator))
	}
	routes := router.New(bindings, routerOpts...)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return &ListenerBindError{Addr: s.cfg.ListenAddr, Err: err}
	}
	defer ln.Close()

	enc := protocol.NewEncoder(s.out)
	coord := commit.New(enc, commit.Options{
		AckTimeout: s.cfg.AckTimeout,
		Metrics:    s.cfg.Metrics,
		Logger:     s.cfg.Logger.With().Str("component", "coordinator").Logger(),
	})

	listenerLog := s.cfg.Logger.With().Str("component", "listener").Logger()
	handler := httpapi.NewHandler(
		routes,
		coord,
		listenerLog,
		httpapi.WithLedger(s.cfg.Ledger),
		httpapi.WithMetrics(s.cfg.Metrics),
	)
	srv := &http.Server{
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(listenerLog, "", 0),
	}

	s.mu.Lock()
	s.name = open.Name
	s.addr = ln.Addr()
	s.coord = coord
	s.mu.Unlock()

	// The listener is bound and queues connections until Serve starts, so the session is
	// running before the runtime can observe opened.
	s.state.advance(StateOpened)
	s.state.advance(StateRunning)
	if err := enc.Encode(protocol.NewOpened()); err != nil {
		return err
	}

	s.cfg.Logger.Info().
		Str("name", open.Name).
		Int("bindings", len(bindings)).
		Int("interval_seconds", open.IntervalSeconds).
		Str("addr", ln.Addr().String()).
		Msg("session opened, listening for webhooks")
	for _, b := range routes.Bindings() {
		s.cfg.Logger.Debug().
			Int("binding", b.Index).
			Str("collection", b.Collection).
			Str("path", "/"+b.Path()).
			Msg("binding configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Wait for the coordinator to release every pending handler before draining.
		<-coord.Done()
		listenerLog.Debug().AnErr("reason", coord.Err()).Msg("draining listener")

		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			listenerLog.Warn().Err(err).Msg("listener shutdown incomplete, closing")
			_ = srv.Close()
		}
		handler.WaitReceipts()
		return nil
	})
	g.Go(func() error {
		return s.readLoop(gctx, reqs, coord)
	})

	err = g.Wait()
	if errors.Is(err, errEndOfInput) {
		return nil
	}
	return err
}

// awaitOpen returns the open request, or nil if ctx ended first
func (s *Session) awaitOpen(ctx context.Context, reqs <-chan readResult) (*protocol.Open, error) {
	select {
	case <-ctx.Done():
		return nil, nil
	case r := <-reqs:
		if errors.Is(r.err, io.EOF) {
			return nil, fmt.Errorf("control channel closed before open: %w", io.ErrUnexpectedEOF)
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.req.Open == nil {
			return nil, &protocol.MalformedMessageError{Reason: fmt.Sprintf("expected open, got %s", r.req.Tag())}
		}
		return r.req.Open, nil
	}
}

// readLoop forwards acknowledgements to the coordinator until end of input
func (s *Session) readLoop(ctx context.Context, reqs <-chan readResult, coord *commit.Coordinator) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-reqs:
			if errors.Is(r.err, io.EOF) {
				s.cfg.Logger.Info().Int("pending", coord.Pending()).Msg("control channel reached end of input")
				return errEndOfInput
			}
			if r.err != nil {
				return r.err
			}

			switch {
			case r.req.Acknowledge != nil:
				if err := coord.Acknowledge(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			case r.req.Open != nil:
				return &protocol.MalformedMessageError{Reason: "open received while running"}
			}
		}
	}
}

// readRequests decodes the control channel until an error, which is delivered last
func readRequests(dec *protocol.Decoder, out chan<- readResult, stop <-chan struct{}) {
	for {
		req, err := dec.Decode()
		select {
		case out <- readResult{req: req, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Name returns the capture name from the open message
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// ListenAddr returns the bound listener address, or nil before open
func (s *Session) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// CurrentState returns the lifecycle state
func (s *Session) CurrentState() State {
	return s.state.load()
}

// State returns the lifecycle state name
func (s *Session) State() string {
	return s.CurrentState().String()
}

// Running reports whether webhooks are being accepted
func (s *Session) Running() bool {
	return s.CurrentState() == StateRunning
}

// Pending returns the number of submissions awaiting commit
func (s *Session) Pending() int {
	if c := s.coordinator(); c != nil {
		return c.Pending()
	}
	return 0
}

// Emitted returns the number of documents written to the control channel
func (s *Session) Emitted() uint64 {
	if c := s.coordinator(); c != nil {
		return c.Emitted()
	}
	return 0
}

func (s *Session) coordinator() *commit.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord
}
