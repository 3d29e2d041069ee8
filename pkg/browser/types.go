package browser

// Default values for the browser runtime.
const (
	DefaultTimeout        = 30000.0 // milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxTabs        = 8

	// bindingName is the function exposed to every page for overlay events.
	bindingName = "__cropchatEvent"
)

// Options configures the browser launched by a Manager.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the page size in CSS pixels
	Viewport Viewport

	// DeviceScaleFactor is the ratio of screenshot pixels to CSS pixels.
	// Zero means 1.
	DeviceScaleFactor float64

	// Timeout sets the default timeout for page operations (in milliseconds)
	Timeout float64

	// MaxTabs caps the number of open tabs
	MaxTabs int
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// TabInfo contains metadata about an open tab.
type TabInfo struct {
	ID     string
	URL    string
	Active bool
}

// EventSink receives the overlay's page events. *selection.Agent satisfies it.
type EventSink interface {
	PointerDown(x, y float64)
	PointerMove(x, y float64)
	PointerUp(x, y float64)
	KeyDown(key string)
	CancelClicked()
	VisibilityChanged(hidden bool)
	ImageLoadFailed()
	Unload()
}

func (o Options) withDefaults() Options {
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.DeviceScaleFactor <= 0 {
		o.DeviceScaleFactor = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxTabs <= 0 {
		o.MaxTabs = DefaultMaxTabs
	}
	return o
}
