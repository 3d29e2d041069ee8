package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/cropchat/pkg/logging"
	"github.com/entrhq/cropchat/pkg/selection"
	"github.com/entrhq/cropchat/pkg/types"
)

const (
	overlayID   = "cropchat-overlay"
	selectionID = "cropchat-selection"
)

// installScript adds the document-level listeners. It runs once per
// document; the overlay's own listeners are added by showScript.
const installScript = `({binding, overlay}) => {
	if (window.__cropchatInstalled) return;
	window.__cropchatInstalled = true;
	const emit = (...args) => window[binding](...args);
	document.addEventListener('keydown', (e) => {
		if (document.getElementById(overlay)) emit('key', e.key);
	}, true);
	document.addEventListener('visibilitychange', () => emit('visibility', document.hidden));
	window.addEventListener('pagehide', () => emit('unload'));
}`

const showScript = `({binding, overlay, selection, src}) => {
	const old = document.getElementById(overlay);
	if (old) old.remove();
	const emit = (...args) => window[binding](...args);

	const root = document.createElement('div');
	root.id = overlay;
	root.style.cssText = 'position:fixed;left:0;top:0;width:100vw;height:100vh;' +
		'z-index:2147483647;cursor:crosshair;user-select:none;margin:0;padding:0;';

	const img = document.createElement('img');
	img.style.cssText = 'position:absolute;left:0;top:0;width:100%;height:100%;pointer-events:none;';
	img.onerror = () => emit('imageerror');
	img.src = src;

	const sel = document.createElement('div');
	sel.id = selection;
	sel.style.cssText = 'position:absolute;display:none;border:2px dashed #fff;' +
		'box-shadow:0 0 0 9999px rgba(0,0,0,0.4);pointer-events:none;';

	const cancel = document.createElement('button');
	cancel.textContent = 'Cancel';
	cancel.style.cssText = 'position:absolute;top:16px;right:16px;cursor:pointer;';
	cancel.addEventListener('mousedown', (e) => e.stopPropagation());
	cancel.addEventListener('mouseup', (e) => e.stopPropagation());
	cancel.addEventListener('click', (e) => { e.stopPropagation(); emit('cancel'); });

	root.addEventListener('mousedown', (e) => { e.preventDefault(); emit('down', e.clientX, e.clientY); });
	root.addEventListener('mousemove', (e) => emit('move', e.clientX, e.clientY));
	root.addEventListener('mouseup', (e) => emit('up', e.clientX, e.clientY));

	root.append(img, sel, cancel);
	document.documentElement.appendChild(root);
}`

const drawScript = `({selection, left, top, width, height}) => {
	const sel = document.getElementById(selection);
	if (!sel) return;
	sel.style.display = 'block';
	sel.style.left = left + 'px';
	sel.style.top = top + 'px';
	sel.style.width = width + 'px';
	sel.style.height = height + 'px';
}`

const dismissScript = `(overlay) => {
	const el = document.getElementById(overlay);
	if (el) el.remove();
}`

const lockScript = `() => {
	const root = document.documentElement;
	if (root.dataset.cropchatLocked) return;
	root.dataset.cropchatLocked = '1';
	root.dataset.cropchatOverflow = root.style.overflow;
	root.dataset.cropchatUserSelect = root.style.userSelect;
	root.style.overflow = 'hidden';
	root.style.userSelect = 'none';
}`

const unlockScript = `() => {
	const root = document.documentElement;
	if (!root.dataset.cropchatLocked) return;
	root.style.overflow = root.dataset.cropchatOverflow || '';
	root.style.userSelect = root.dataset.cropchatUserSelect || '';
	delete root.dataset.cropchatLocked;
	delete root.dataset.cropchatOverflow;
	delete root.dataset.cropchatUserSelect;
}`

var _ selection.Overlay = (*Overlay)(nil)

// Overlay draws the selection surface into a tab's page.
type Overlay struct {
	tab    *Tab
	logger *logging.Logger
}

// NewOverlay creates an overlay for tab.
func NewOverlay(tab *Tab, logger *logging.Logger) *Overlay {
	if logger == nil {
		logger = logging.Discard("browser.overlay")
	}
	return &Overlay{tab: tab, logger: logger}
}

// install adds the document listeners that report key, visibility and
// page-hide events.
func (o *Overlay) install() error {
	return o.eval("install", installScript, map[string]interface{}{
		"binding": bindingName,
		"overlay": overlayID,
	})
}

// Show covers the viewport with img and the cancel button.
func (o *Overlay) Show(ctx context.Context, img types.EncodedImage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.eval("show", showScript, map[string]interface{}{
		"binding":   bindingName,
		"overlay":   overlayID,
		"selection": selectionID,
		"src":       img.DataURL(),
	})
}

// DrawSelection moves the selection box to rect.
func (o *Overlay) DrawSelection(rect types.Rect) error {
	return o.eval("draw", drawScript, map[string]interface{}{
		"selection": selectionID,
		"left":      rect.Left,
		"top":       rect.Top,
		"width":     rect.Width,
		"height":    rect.Height,
	})
}

// Dismiss removes the overlay.
func (o *Overlay) Dismiss() error {
	return o.eval("dismiss", dismissScript, overlayID)
}

// LockPage hides the scrollbars and disables text selection.
func (o *Overlay) LockPage() error {
	return o.eval("lock", lockScript, nil)
}

// UnlockPage restores the styles LockPage replaced.
func (o *Overlay) UnlockPage() error {
	return o.eval("unlock", unlockScript, nil)
}

// Viewport returns the page size in CSS pixels.
func (o *Overlay) Viewport() (float64, float64, error) {
	return o.tab.Viewport()
}

func (o *Overlay) eval(op, script string, arg interface{}) error {
	if _, err := o.tab.page.Evaluate(script, arg); err != nil {
		o.logger.Debugf("tab %s: %s script failed: %v", o.tab.id, op, err)
		return fmt.Errorf("overlay %s on tab %s: %w", op, o.tab.id, err)
	}
	return nil
}
