package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/types"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func returning(img types.EncodedImage, err error) Capturer {
	return CapturerFunc(func(context.Context, Options) (types.EncodedImage, error) {
		return img, err
	})
}

// hanging never returns until release is closed, ignoring its context.
func hanging(release <-chan struct{}) Capturer {
	return CapturerFunc(func(context.Context, Options) (types.EncodedImage, error) {
		<-release
		return types.NewPNG(pngBytes), nil
	})
}

func TestScreenshotSuccess(t *testing.T) {
	var got Options
	svc := NewService(CapturerFunc(func(_ context.Context, opts Options) (types.EncodedImage, error) {
		got = opts
		return types.EncodedImage{Data: pngBytes}, nil
	}))

	img, err := svc.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, types.MIMEPNG, img.MIMEType)
	assert.Equal(t, Options{Format: FormatPNG, Quality: 100}, got)
}

func TestScreenshotFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		capturer Capturer
		wantErr  error
		wantKind types.CaptureErrorKind
	}{
		{"denied", returning(types.EncodedImage{}, errors.New("permission denied")), ErrDenied, types.CaptureErrorDenied},
		{"empty", returning(types.EncodedImage{MIMEType: types.MIMEPNG}, nil), ErrEmpty, types.CaptureErrorEmpty},
		{"host deadline", returning(types.EncodedImage{}, context.DeadlineExceeded), ErrTimeout, types.CaptureErrorTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.capturer)

			_, err := svc.Screenshot(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)

			result := svc.Capture(context.Background())
			assert.False(t, result.IsSuccess())
			assert.Nil(t, result.Image)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
		})
	}
}

func TestScreenshotTimesOutOnHungCapturer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	svc := NewService(hanging(release), WithTimeout(20*time.Millisecond))

	start := time.Now()
	result := svc.Capture(context.Background())

	assert.Equal(t, types.CaptureErrorTimeout, result.ErrorKind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOverlappingCallsHaveIndependentTimers(t *testing.T) {
	release := make(chan struct{})
	slow := hanging(release)
	fast := returning(types.NewPNG(pngBytes), nil)

	var mu sync.Mutex
	calls := 0
	svc := NewService(CapturerFunc(func(ctx context.Context, opts Options) (types.EncodedImage, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return slow.CaptureVisible(ctx, opts)
		}
		return fast.CaptureVisible(ctx, opts)
	}), WithTimeout(50*time.Millisecond))

	first := make(chan types.CaptureResult, 1)
	go func() { first <- svc.Capture(context.Background()) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)

	// The second call completes while the first is still pending.
	second := svc.Capture(context.Background())
	assert.True(t, second.IsSuccess())

	assert.Equal(t, types.CaptureErrorTimeout, (<-first).ErrorKind)
	close(release)
}

func TestCapturerPanicIsDenied(t *testing.T) {
	svc := NewService(CapturerFunc(func(context.Context, Options) (types.EncodedImage, error) {
		panic("tab went away")
	}))

	_, err := svc.Screenshot(context.Background())
	assert.ErrorIs(t, err, ErrDenied)
}

func TestWithFormat(t *testing.T) {
	var got Options
	svc := NewService(CapturerFunc(func(_ context.Context, opts Options) (types.EncodedImage, error) {
		got = opts
		return types.EncodedImage{Data: []byte{0xff, 0xd8}}, nil
	}), WithFormat(FormatJPEG, 80))

	img, err := svc.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.MIMEJPEG, img.MIMEType)
	assert.Equal(t, Options{Format: FormatJPEG, Quality: 80}, got)
}

func TestTakeScreenshotOverBus(t *testing.T) {
	b := bus.New()
	_, err := b.Register(bus.Background, NewService(returning(types.NewPNG(pngBytes), nil)))
	require.NoError(t, err)
	tab, err := b.Register(bus.TabEndpoint("1"), bus.NopHandler{})
	require.NoError(t, err)

	resp, err := tab.Send(context.Background(), bus.Background, bus.TakeScreenshot{})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.NewPNG(pngBytes).DataURL(), resp.DataURL)

	result := Request(context.Background(), tab)
	require.True(t, result.IsSuccess())
	assert.Equal(t, pngBytes, result.Image.Data)
}

func TestRequestReportsFailures(t *testing.T) {
	b := bus.New()
	_, err := b.Register(bus.Background, NewService(returning(types.EncodedImage{}, nil)))
	require.NoError(t, err)
	tab, err := b.Register(bus.TabEndpoint("1"), bus.NopHandler{})
	require.NoError(t, err)

	result := Request(context.Background(), tab)
	assert.Equal(t, types.CaptureErrorEmpty, result.ErrorKind)

	b.Reload()
	result = Request(context.Background(), tab)
	assert.Equal(t, types.CaptureErrorChannel, result.ErrorKind)
}

func TestResultFromResponse(t *testing.T) {
	assert.Equal(t, types.CaptureErrorDenied, ResultFromResponse(bus.Response{Success: false, Error: "no permission"}).ErrorKind)
	assert.Equal(t, types.CaptureErrorEmpty, ResultFromResponse(bus.Response{Success: true}).ErrorKind)
	assert.Equal(t, types.CaptureErrorEmpty, ResultFromResponse(bus.Response{Success: true, DataURL: "data:image/png;base64,"}).ErrorKind)
	assert.Equal(t, types.CaptureErrorDenied, ResultFromResponse(bus.Response{Success: true, DataURL: "garbage"}).ErrorKind)

	ok := ResultFromResponse(bus.Response{Success: true, DataURL: types.NewPNG(pngBytes).DataURL()})
	require.True(t, ok.IsSuccess())
	assert.Equal(t, pngBytes, ok.Image.Data)
}

func TestOtherActionsNotHandled(t *testing.T) {
	svc := NewService(returning(types.NewPNG(pngBytes), nil))
	resp := bus.Dispatch(context.Background(), svc, bus.TabEndpoint("1"), bus.ImageCropped{ImageData: "AA=="})
	assert.False(t, resp.Success)
	assert.Equal(t, "unhandled", resp.ErrorKind)
}
