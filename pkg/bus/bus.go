package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/cropchat/pkg/logging"
)

// DefaultTimeout bounds every round trip on the bus.
const DefaultTimeout = 10 * time.Second

// Channel failures. Every failed Send wraps exactly one of these.
var (
	// ErrContextInvalid means the sending side is no longer attached to the
	// bus (its port was closed, replaced or invalidated by a reload) or the
	// bus itself is suspended.
	ErrContextInvalid = errors.New("extension context invalidated")
	// ErrTimeout means no response arrived within the bound.
	ErrTimeout = errors.New("message response timed out")
	// ErrPortClosed means nobody is listening at the destination, or the
	// receiver went away before answering.
	ErrPortClosed = errors.New("receiving end does not exist")
)

// IsChannelFailure reports whether err is one of the bus channel failures.
func IsChannelFailure(err error) bool {
	return errors.Is(err, ErrContextInvalid) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrPortClosed)
}

// Endpoint addresses one execution context on the bus.
type Endpoint string

const (
	// Background is the long-lived capture context.
	Background Endpoint = "background"
	// Popup is the transient session controller context.
	Popup Endpoint = "popup"
)

const tabPrefix = "tab:"

// TabEndpoint addresses the selection agent of one page.
func TabEndpoint(tabID string) Endpoint {
	return Endpoint(tabPrefix + tabID)
}

// TabID returns the tab id of a tab endpoint.
func (e Endpoint) TabID() (string, bool) {
	if !strings.HasPrefix(string(e), tabPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(e), tabPrefix), true
}

func (e Endpoint) String() string { return string(e) }

// Bus routes messages between registered endpoints. It stands in for the host
// runtime's message passing: a reload invalidates every port and a
// suspension makes every registration and send fail until resumed.
type Bus struct {
	mu        sync.RWMutex
	routes    map[Endpoint]*Port
	suspended bool
	timeout   time.Duration
	logger    *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithTimeout sets the round-trip bound.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		routes:  make(map[Endpoint]*Port),
		timeout: DefaultTimeout,
		logger:  logging.Discard("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Timeout returns the round-trip bound.
func (b *Bus) Timeout() time.Duration {
	return b.timeout
}

// Register attaches handler at endpoint. A previous registration at the same
// endpoint is closed and replaced.
func (b *Bus) Register(ep Endpoint, handler Handler) (*Port, error) {
	if ep == "" {
		return nil, fmt.Errorf("register: empty endpoint")
	}
	if handler == nil {
		return nil, fmt.Errorf("register %s: nil handler", ep)
	}

	b.mu.Lock()
	if b.suspended {
		b.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", ep, ErrContextInvalid)
	}
	old := b.routes[ep]
	p := &Port{
		bus:      b,
		endpoint: ep,
		handler:  handler,
		done:     make(chan struct{}),
	}
	b.routes[ep] = p
	b.mu.Unlock()

	if old != nil {
		old.close()
		b.logger.Infof("replaced registration at %s", ep)
	} else {
		b.logger.Debugf("registered %s", ep)
	}
	return p, nil
}

// Registered reports whether a live port is attached at ep.
func (b *Bus) Registered(ep Endpoint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.routes[ep]
	return ok && !b.suspended
}

// Reload invalidates every port, like the host reloading the extension.
// Endpoints must register again.
func (b *Bus) Reload() {
	b.mu.Lock()
	ports := make([]*Port, 0, len(b.routes))
	for _, p := range b.routes {
		ports = append(ports, p)
	}
	b.routes = make(map[Endpoint]*Port)
	b.mu.Unlock()

	for _, p := range ports {
		p.close()
	}
	b.logger.Warnf("bus reloaded, %d ports invalidated", len(ports))
}

// Suspend makes the bus unusable: existing ports are invalidated and new
// registrations fail with ErrContextInvalid until Resume.
func (b *Bus) Suspend() {
	b.mu.Lock()
	b.suspended = true
	b.mu.Unlock()
	b.Reload()
}

// Resume makes the bus accept registrations again.
func (b *Bus) Resume() {
	b.mu.Lock()
	b.suspended = false
	b.mu.Unlock()
	b.logger.Infof("bus resumed")
}

func (b *Bus) lookup(ep Endpoint) *Port {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.suspended {
		return nil
	}
	return b.routes[ep]
}

func (b *Bus) unregister(p *Port) {
	b.mu.Lock()
	if b.routes[p.endpoint] == p {
		delete(b.routes, p.endpoint)
	}
	b.mu.Unlock()
}

// Port is one endpoint's attachment to the bus.
type Port struct {
	bus       *Bus
	endpoint  Endpoint
	handler   Handler
	done      chan struct{}
	closeOnce sync.Once
}

// Endpoint returns the address this port is registered at.
func (p *Port) Endpoint() Endpoint {
	return p.endpoint
}

// Done is closed when the port is closed or invalidated.
func (p *Port) Done() <-chan struct{} {
	return p.done
}

// Valid reports whether the port is still attached to the bus.
func (p *Port) Valid() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return p.bus.lookup(p.endpoint) == p
	}
}

// Close detaches the port. Safe to call more than once.
func (p *Port) Close() {
	p.bus.unregister(p)
	p.close()
}

func (p *Port) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Send delivers msg to the endpoint to and waits for its response. The
// receiving handler runs on its own goroutine with a context that is
// cancelled when Send returns.
func (p *Port) Send(ctx context.Context, to Endpoint, msg Message) (Response, error) {
	if !p.Valid() {
		return Response{}, fmt.Errorf("send %s from %s: %w", msg.Action(), p.endpoint, ErrContextInvalid)
	}
	target := p.bus.lookup(to)
	if target == nil {
		return Response{}, fmt.Errorf("send %s to %s: %w", msg.Action(), to, ErrPortClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, p.bus.timeout)
	defer cancel()

	replies := make(chan Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.bus.logger.Errorf("PANIC in %s handler for %s: %v\n%s", to, msg.Action(), r, debug.Stack())
				replies <- Fail("panic", fmt.Sprintf("handler panicked: %v", r))
			}
		}()
		replies <- Dispatch(ctx, target.handler, p.endpoint, msg)
	}()

	select {
	case r := <-replies:
		return r, nil
	case <-target.done:
		return Response{}, fmt.Errorf("send %s to %s: %w", msg.Action(), to, ErrPortClosed)
	case <-p.done:
		return Response{}, fmt.Errorf("send %s from %s: %w", msg.Action(), p.endpoint, ErrContextInvalid)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("send %s to %s: %w", msg.Action(), to, ErrTimeout)
		}
		return Response{}, ctx.Err()
	}
}
