package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/cropchat/pkg/logging"
)

// DefaultCheckInterval is how often a Supervisor verifies its registration.
const DefaultCheckInterval = 30 * time.Second

// ErrNeedsRestart is reported once a Supervisor has exhausted its
// re-registration attempts.
var ErrNeedsRestart = errors.New("extension connection lost: needs manual restart")

// Supervisor keeps one endpoint registered on the bus. It periodically checks
// the port and, when the bus has become unusable, re-registers with
// exponential backoff before giving up.
type Supervisor struct {
	bus      *Bus
	endpoint Endpoint
	handler  Handler
	clock    Clock
	interval time.Duration
	backoff  Backoff
	logger   *logging.Logger

	// Probe, when set, is run against a valid port during Check. A channel
	// failure from the probe triggers reconnection.
	Probe func(ctx context.Context, p *Port) error
	// OnReconnect is called with every fresh port after a re-registration.
	OnReconnect func(p *Port)
	// OnGiveUp is called once when reconnection is exhausted.
	OnGiveUp func(err error)

	mu     sync.Mutex
	port   *Port
	gaveUp bool
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithClock sets the supervisor's clock.
func WithClock(c Clock) SupervisorOption {
	return func(s *Supervisor) { s.clock = c }
}

// WithInterval sets the check interval.
func WithInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBackoff sets the re-registration schedule.
func WithBackoff(b Backoff) SupervisorOption {
	return func(s *Supervisor) { s.backoff = b }
}

// WithSupervisorLogger sets the supervisor logger.
func WithSupervisorLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSupervisor creates a supervisor for handler at ep. Call Register to
// attach it.
func NewSupervisor(b *Bus, ep Endpoint, handler Handler, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		bus:      b,
		endpoint: ep,
		handler:  handler,
		clock:    RealClock{},
		interval: DefaultCheckInterval,
		backoff:  DefaultBackoff,
		logger:   logging.Discard("bus.monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register performs the initial registration.
func (s *Supervisor) Register() (*Port, error) {
	p, err := s.bus.Register(s.endpoint, s.handler)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.port = p
	s.gaveUp = false
	s.mu.Unlock()
	return p, nil
}

// Port returns the current port, which may be invalid.
func (s *Supervisor) Port() *Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// GaveUp reports whether reconnection was exhausted.
func (s *Supervisor) GaveUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaveUp
}

// Check verifies the registration and reconnects when it is unusable.
func (s *Supervisor) Check(ctx context.Context) error {
	if s.GaveUp() {
		return ErrNeedsRestart
	}

	port := s.Port()
	if port.Valid() {
		if s.Probe == nil {
			return nil
		}
		err := s.Probe(ctx, port)
		if err == nil || !errors.Is(err, ErrContextInvalid) {
			return nil
		}
		s.logger.Warnf("probe from %s failed: %v", s.endpoint, err)
	} else {
		s.logger.Warnf("port for %s is no longer valid", s.endpoint)
	}

	return s.Reconnect(ctx)
}

// Reconnect re-registers with backoff. After the last attempt fails the
// supervisor gives up permanently and reports ErrNeedsRestart.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	err := Retry(ctx, s.clock, s.backoff, func(ctx context.Context, attempt int) error {
		s.logger.Infof("re-registering %s (attempt %d/%d)", s.endpoint, attempt+1, s.backoff.attempts())
		p, err := s.bus.Register(s.endpoint, s.handler)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.port = p
		s.mu.Unlock()
		return nil
	})
	if err == nil {
		s.logger.Infof("re-registered %s", s.endpoint)
		if s.OnReconnect != nil {
			s.OnReconnect(s.Port())
		}
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	s.mu.Lock()
	already := s.gaveUp
	s.gaveUp = true
	s.mu.Unlock()

	s.logger.Errorf("giving up on %s: %v", s.endpoint, err)
	if !already && s.OnGiveUp != nil {
		s.OnGiveUp(err)
	}
	return fmt.Errorf("%w: %v", ErrNeedsRestart, err)
}

// Run checks the registration every interval until ctx is done or the
// supervisor gives up.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
		if err := s.Check(ctx); errors.Is(err, ErrNeedsRestart) {
			return
		}
	}
}
