// Package capture implements the background capture service: the single
// privileged operation that turns the visible viewport into an image.
package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

// DefaultTimeout bounds one capture.
const DefaultTimeout = 10 * time.Second

var (
	// ErrDenied wraps a refusal or error reported by the host.
	ErrDenied = errors.New("capture denied by host")
	// ErrEmpty means the host reported success but returned no image data.
	ErrEmpty = errors.New("capture returned no data")
	// ErrTimeout means the host did not answer within the bound.
	ErrTimeout = errors.New("capture timed out")
)

// Format is the requested image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Options are passed to the capturer on every call.
type Options struct {
	Format  Format
	Quality int
}

// Capturer is the host's screen-capture primitive for the active viewport.
type Capturer interface {
	CaptureVisible(ctx context.Context, opts Options) (types.EncodedImage, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context, opts Options) (types.EncodedImage, error)

func (f CapturerFunc) CaptureVisible(ctx context.Context, opts Options) (types.EncodedImage, error) {
	return f(ctx, opts)
}

// Service answers capture requests. It holds no per-call state: every call
// gets its own deadline, and overlapping calls run independently.
type Service struct {
	bus.NopHandler

	capturer Capturer
	timeout  time.Duration
	opts     Options
	logger   *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the per-call bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFormat sets the requested encoding and quality.
func WithFormat(f Format, quality int) Option {
	return func(s *Service) {
		s.opts = Options{Format: f, Quality: quality}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a capture service over capturer.
func NewService(capturer Capturer, opts ...Option) *Service {
	s := &Service{
		capturer: capturer,
		timeout:  DefaultTimeout,
		opts:     Options{Format: FormatPNG, Quality: 100},
		logger:   logging.Discard("capture"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type outcome struct {
	img types.EncodedImage
	err error
}

// Screenshot captures the visible viewport. Failures wrap ErrDenied, ErrEmpty
// or ErrTimeout. The call always returns by the deadline, even if the
// capturer never does.
func (s *Service) Screenshot(ctx context.Context) (types.EncodedImage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("PANIC in capturer: %v\n%s", r, debug.Stack())
				done <- outcome{err: fmt.Errorf("capturer panicked: %v", r)}
			}
		}()
		img, err := s.capturer.CaptureVisible(ctx, s.opts)
		done <- outcome{img: img, err: err}
	}()

	select {
	case o := <-done:
		switch {
		case o.err != nil && errors.Is(o.err, context.DeadlineExceeded):
			return types.EncodedImage{}, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		case o.err != nil:
			return types.EncodedImage{}, fmt.Errorf("%w: %v", ErrDenied, o.err)
		case o.img.IsEmpty():
			return types.EncodedImage{}, ErrEmpty
		}
		if o.img.MIMEType == "" {
			o.img.MIMEType = mimeFor(s.opts.Format)
		}
		return o.img, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.EncodedImage{}, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}
		return types.EncodedImage{}, ctx.Err()
	}
}

// Capture is Screenshot expressed as a CaptureResult.
func (s *Service) Capture(ctx context.Context) types.CaptureResult {
	img, err := s.Screenshot(ctx)
	if err != nil {
		kind := Kind(err)
		s.logger.Warnf("screenshot failed (%s): %v", kind, err)
		return types.NewCaptureFailure(kind, err.Error())
	}
	s.logger.Infof("screenshot captured, %d bytes", img.Len())
	return types.NewCaptureSuccess(img)
}

// Kind maps a Screenshot error to its failure kind.
func Kind(err error) types.CaptureErrorKind {
	switch {
	case err == nil:
		return types.CaptureErrorNone
	case errors.Is(err, ErrTimeout):
		return types.CaptureErrorTimeout
	case errors.Is(err, ErrEmpty):
		return types.CaptureErrorEmpty
	case errors.Is(err, ErrDenied):
		return types.CaptureErrorDenied
	default:
		return types.CaptureErrorChannel
	}
}

// HandleTakeScreenshot answers takeScreenshot with {success, dataUrl} or
// {success:false, error, errorKind}.
func (s *Service) HandleTakeScreenshot(ctx context.Context, from bus.Endpoint, _ bus.TakeScreenshot) bus.Response {
	s.logger.Debugf("takeScreenshot from %s", from)
	result := s.Capture(ctx)
	if !result.IsSuccess() {
		return bus.Fail(string(result.ErrorKind), result.Message)
	}
	return bus.Response{Success: true, DataURL: result.Image.DataURL()}
}

// ResultFromResponse turns a takeScreenshot response back into a
// CaptureResult on the requesting side.
func ResultFromResponse(resp bus.Response) types.CaptureResult {
	if !resp.Success {
		kind := types.CaptureErrorKind(resp.ErrorKind)
		if kind == types.CaptureErrorNone {
			kind = types.CaptureErrorDenied
		}
		return types.NewCaptureFailure(kind, resp.Error)
	}
	if resp.DataURL == "" {
		return types.NewCaptureFailure(types.CaptureErrorEmpty, ErrEmpty.Error())
	}
	img, err := types.ParseDataURL(resp.DataURL)
	if err != nil {
		return types.NewCaptureFailure(types.CaptureErrorDenied, err.Error())
	}
	if img.IsEmpty() {
		return types.NewCaptureFailure(types.CaptureErrorEmpty, ErrEmpty.Error())
	}
	return types.NewCaptureSuccess(img)
}

func mimeFor(f Format) string {
	if f == FormatJPEG {
		return types.MIMEJPEG
	}
	return types.MIMEPNG
}

// Request asks the capture service at bus.Background for a screenshot through
// port. Channel failures come back as CaptureErrorTimeout or
// CaptureErrorChannel results, never as errors.
func Request(ctx context.Context, port *bus.Port) types.CaptureResult {
	resp, err := port.Send(ctx, bus.Background, bus.TakeScreenshot{})
	if err != nil {
		if errors.Is(err, bus.ErrTimeout) {
			return types.NewCaptureFailure(types.CaptureErrorTimeout, err.Error())
		}
		return types.NewCaptureFailure(types.CaptureErrorChannel, err.Error())
	}
	return ResultFromResponse(resp)
}
