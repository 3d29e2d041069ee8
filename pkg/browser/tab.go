package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/cropchat/pkg/capture"
	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/types"
)

// Tab is one open page.
type Tab struct {
	id     string
	page   playwright.Page
	logger *logging.Logger

	mu       sync.Mutex
	sink     EventSink
	document string
}

func newTab(id string, page playwright.Page, logger *logging.Logger) *Tab {
	return &Tab{id: id, page: page, logger: logger}
}

// ID returns the tab id.
func (t *Tab) ID() string {
	return t.id
}

// URL returns the page's current URL.
func (t *Tab) URL() string {
	return t.page.URL()
}

// Page returns the underlying Playwright page.
func (t *Tab) Page() playwright.Page {
	return t.page
}

// Goto navigates the tab and waits for the load event.
func (t *Tab) Goto(url string) error {
	if _, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("failed to navigate tab %s to %s: %w", t.id, url, err)
	}
	return nil
}

// Capture screenshots the visible viewport. It honours ctx's deadline.
func (t *Tab) Capture(ctx context.Context, opts capture.Options) (types.EncodedImage, error) {
	if err := ctx.Err(); err != nil {
		return types.EncodedImage{}, err
	}

	shot := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	}
	mime := types.MIMEPNG
	if opts.Format == capture.FormatJPEG {
		shot.Type = playwright.ScreenshotTypeJpeg
		mime = types.MIMEJPEG
		if opts.Quality > 0 && opts.Quality <= 100 {
			shot.Quality = playwright.Int(opts.Quality)
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			return types.EncodedImage{}, context.DeadlineExceeded
		}
		shot.Timeout = playwright.Float(float64(ms))
	}

	data, err := t.page.Screenshot(shot)
	if err != nil {
		if ctx.Err() != nil {
			return types.EncodedImage{}, ctx.Err()
		}
		return types.EncodedImage{}, fmt.Errorf("screenshot of tab %s failed: %w", t.id, err)
	}
	return types.EncodedImage{MIMEType: mime, Data: data}, nil
}

// Viewport returns the visible page size in CSS pixels.
func (t *Tab) Viewport() (float64, float64, error) {
	if size := t.page.ViewportSize(); size != nil && size.Width > 0 && size.Height > 0 {
		return float64(size.Width), float64(size.Height), nil
	}

	v, err := t.page.Evaluate(`() => [window.innerWidth, window.innerHeight]`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read viewport of tab %s: %w", t.id, err)
	}
	dims, ok := v.([]interface{})
	if !ok || len(dims) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport value %v", v)
	}
	w, okW := number(dims[0])
	h, okH := number(dims[1])
	if !okW || !okH {
		return 0, 0, fmt.Errorf("unexpected viewport value %v", v)
	}
	return w, h, nil
}

// Drag presses the primary button at from, moves to to in steps mouse
// moves and releases it.
func (t *Tab) Drag(from, to types.Point, steps int) error {
	if steps < 1 {
		steps = 1
	}
	mouse := t.page.Mouse()
	if err := mouse.Move(from.X, from.Y); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := mouse.Down(); err != nil {
		return fmt.Errorf("mouse down: %w", err)
	}
	if err := mouse.Move(to.X, to.Y, playwright.MouseMoveOptions{Steps: playwright.Int(steps)}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := mouse.Up(); err != nil {
		return fmt.Errorf("mouse up: %w", err)
	}
	return nil
}

// Press sends one key press to the focused page.
func (t *Tab) Press(key string) error {
	if err := t.page.Keyboard().Press(key); err != nil {
		return fmt.Errorf("key press %q: %w", key, err)
	}
	return nil
}

// ClickCancel clicks the overlay's cancel button.
func (t *Tab) ClickCancel() error {
	if err := t.page.Locator("#" + overlayID + " button").Click(); err != nil {
		return fmt.Errorf("click cancel: %w", err)
	}
	return nil
}

// expose registers the page event function and the navigation hook. It is
// called once per tab.
func (t *Tab) expose() error {
	if err := t.page.ExposeFunction(bindingName, t.dispatch); err != nil {
		return fmt.Errorf("failed to expose %s to tab %s: %w", bindingName, t.id, err)
	}
	t.page.OnFrameNavigated(func(frame playwright.Frame) {
		if frame != t.page.MainFrame() {
			return
		}
		t.navigated(frame.URL())
	})
	return nil
}

// navigated unloads the bound agent when the main frame loads a new
// document. Fragment changes keep the document.
func (t *Tab) navigated(url string) {
	doc := documentURL(url)

	t.mu.Lock()
	prev := t.document
	t.document = doc
	sink := t.sink
	if prev != "" && prev != doc {
		t.sink = nil
	} else {
		sink = nil
	}
	t.mu.Unlock()

	if sink != nil {
		t.logger.Infof("tab %s navigated to %s, unloading agent", t.id, url)
		go sink.Unload()
	}
}

func (t *Tab) bind(sink EventSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	if t.document == "" {
		t.document = documentURL(t.page.URL())
	}
}

func (t *Tab) unbind() EventSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	sink := t.sink
	t.sink = nil
	return sink
}

func (t *Tab) bound(sink EventSink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink != nil && t.sink == sink
}

// dispatch is called by Playwright for every overlay event. It must not
// block: the agent only queues events, and unload runs on its own goroutine.
func (t *Tab) dispatch(args ...interface{}) interface{} {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink == nil {
		return nil
	}

	unload, err := relay(sink, args)
	if err != nil {
		t.logger.Warnf("tab %s: %v", t.id, err)
		return nil
	}
	if unload && t.unbind() != nil {
		go sink.Unload()
	}
	return nil
}

// relay translates one overlay event into an EventSink call. Unload is
// reported to the caller instead of being delivered.
func relay(sink EventSink, args []interface{}) (unload bool, err error) {
	if len(args) == 0 {
		return false, fmt.Errorf("overlay event without a kind")
	}
	kind, _ := args[0].(string)

	switch kind {
	case "down", "move", "up":
		if len(args) < 3 {
			return false, fmt.Errorf("%s event without coordinates", kind)
		}
		x, okX := number(args[1])
		y, okY := number(args[2])
		if !okX || !okY {
			return false, fmt.Errorf("%s event with bad coordinates %v, %v", kind, args[1], args[2])
		}
		switch kind {
		case "down":
			sink.PointerDown(x, y)
		case "move":
			sink.PointerMove(x, y)
		default:
			sink.PointerUp(x, y)
		}
	case "key":
		if len(args) < 2 {
			return false, fmt.Errorf("key event without a key")
		}
		key, _ := args[1].(string)
		sink.KeyDown(key)
	case "cancel":
		sink.CancelClicked()
	case "visibility":
		hidden := len(args) > 1 && args[1] == true
		sink.VisibilityChanged(hidden)
	case "imageerror":
		sink.ImageLoadFailed()
	case "unload":
		return true, nil
	default:
		return false, fmt.Errorf("unknown overlay event %q", kind)
	}
	return false, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func documentURL(url string) string {
	doc, _, _ := strings.Cut(url, "#")
	return doc
}
