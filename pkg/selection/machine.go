package selection

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/capture"
	"github.com/entrhq/cropchat/pkg/types"
)

type event interface{}

type (
	startEvent       struct{}
	captureDoneEvent struct {
		txID   string
		result types.CaptureResult
	}
	pointerDownEvent     struct{ at types.Point }
	pointerMoveEvent     struct{ at types.Point }
	pointerUpEvent       struct{ at types.Point }
	keyDownEvent         struct{ key string }
	cancelClickedEvent   struct{}
	visibilityEvent      struct{ hidden bool }
	imageLoadFailedEvent struct{}
	contextLostEvent     struct{ err error }
	unloadEvent          struct{}
)

// transaction is the single open capture-select-crop cycle.
type transaction struct {
	id            string
	cancelCapture context.CancelFunc

	image        types.EncodedImage
	viewW, viewH float64
	overlayShown bool
	pageLocked   bool
	dragging     bool
	anchor       types.Point
	selection    types.Rect
}

func (a *Agent) run() {
	defer func() {
		a.outbox.close()
		close(a.loopDone)
	}()

	for {
		batch, ok := a.inbox.next()
		if !ok {
			return
		}
		for _, ev := range batch {
			if stop := a.handle(ev); stop {
				a.inbox.close()
				return
			}
		}
	}
}

// handle applies one event. It reports true when the loop must stop.
func (a *Agent) handle(ev event) bool {
	switch e := ev.(type) {
	case startEvent:
		a.start()
	case captureDoneEvent:
		a.captureDone(e)
	case pointerDownEvent:
		a.pointerDown(e.at)
	case pointerMoveEvent:
		a.pointerMove(e.at)
	case pointerUpEvent:
		a.pointerUp(e.at)
	case keyDownEvent:
		if e.key == KeyEscape && a.State() == types.StateSelecting {
			a.cancelTx("escape pressed")
		}
	case cancelClickedEvent:
		if a.tx != nil {
			a.cancelTx("cancelled by user")
		}
	case visibilityEvent:
		if e.hidden && a.tx != nil {
			a.cancelTx("page hidden")
		}
	case imageLoadFailedEvent:
		if a.State() == types.StateSelecting {
			a.finish(types.NewCropFailed("screenshot failed to load"))
		}
	case contextLostEvent:
		if a.tx != nil {
			a.cancelTx(fmt.Sprintf("extension context lost: %v", e.err))
		}
	case unloadEvent:
		if a.tx != nil {
			a.cancelTx("page unloading")
		}
		return true
	default:
		a.logger.Errorf("unexpected agent event %T", ev)
	}
	return false
}

func (a *Agent) start() {
	if a.tx != nil {
		a.logger.Infof("already processing transaction %s (%s), ignoring start", a.tx.id, a.State())
		return
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.tx = &transaction{id: uuid.NewString(), cancelCapture: cancel}
	a.setState(types.StateCapturing)
	a.logger.Infof("transaction %s: requesting capture", a.tx.id)

	txID := a.tx.id
	port := a.supervisor.Port()
	a.safeGo("capture", func() {
		var result types.CaptureResult
		if port == nil {
			result = types.NewCaptureFailure(types.CaptureErrorChannel, bus.ErrContextInvalid.Error())
		} else {
			result = capture.Request(ctx, port)
		}
		a.inbox.put(captureDoneEvent{txID: txID, result: result})
	})
}

func (a *Agent) captureDone(e captureDoneEvent) {
	if a.tx == nil || a.tx.id != e.txID || a.State() != types.StateCapturing {
		a.logger.Debugf("stale capture result for %s ignored", e.txID)
		return
	}

	if !e.result.IsSuccess() {
		a.logger.Warnf("transaction %s: capture failed (%s): %s", a.tx.id, e.result.ErrorKind, e.result.Message)
		a.cancelTx(fmt.Sprintf("capture failed: %s", e.result.ErrorKind))
		return
	}

	tx := a.tx
	tx.image = *e.result.Image

	w, h, err := a.overlay.Viewport()
	if err != nil || w <= 0 || h <= 0 {
		a.logger.Errorf("transaction %s: viewport unavailable: %v", tx.id, err)
		a.cancelTx("viewport unavailable")
		return
	}
	tx.viewW, tx.viewH = w, h

	a.outbox.put(bus.OverlayCreating{TransactionID: tx.id})

	if err := a.overlay.LockPage(); err != nil {
		a.logger.Warnf("transaction %s: failed to lock page: %v", tx.id, err)
	} else {
		tx.pageLocked = true
	}
	if err := a.overlay.Show(a.ctx, tx.image); err != nil {
		a.logger.Errorf("transaction %s: failed to show overlay: %v", tx.id, err)
		a.cancelTx("overlay failed")
		return
	}
	tx.overlayShown = true
	a.setState(types.StateSelecting)
}

func (a *Agent) pointerDown(p types.Point) {
	if a.State() != types.StateSelecting {
		return
	}
	tx := a.tx
	tx.dragging = true
	tx.anchor = a.clampPoint(p)
	tx.selection = types.RectFromPoints(tx.anchor, tx.anchor)
	a.drawSelection()
}

func (a *Agent) pointerMove(p types.Point) {
	if a.State() != types.StateSelecting || !a.tx.dragging {
		return
	}
	a.tx.selection = types.RectFromPoints(a.tx.anchor, a.clampPoint(p))
	a.drawSelection()
}

func (a *Agent) pointerUp(p types.Point) {
	if a.State() != types.StateSelecting || !a.tx.dragging {
		return
	}
	tx := a.tx
	tx.dragging = false
	tx.selection = types.RectFromPoints(tx.anchor, a.clampPoint(p)).Clamp(tx.viewW, tx.viewH)
	a.publish()

	if !tx.selection.MeetsMinimum(a.minDim) {
		a.logger.Infof("transaction %s: selection %.0fx%.0f too small", tx.id, tx.selection.Width, tx.selection.Height)
		a.cancelTx("selection too small")
		return
	}
	a.crop()
}

func (a *Agent) crop() {
	tx := a.tx
	a.setState(types.StateCropping)

	natW, natH, err := a.cropper.Dimensions(tx.image)
	if err != nil {
		a.logger.Errorf("transaction %s: %v", tx.id, err)
		a.finish(types.NewCropFailed(err.Error()))
		return
	}

	// Per-axis: the capture may use a different pixel density than the page.
	sx := float64(natW) / tx.viewW
	sy := float64(natH) / tx.viewH
	native := tx.selection.Scale(sx, sy)
	outW := int(math.Round(tx.selection.Width))
	outH := int(math.Round(tx.selection.Height))

	a.logger.Debugf("transaction %s: selection %+v scale (%.3f, %.3f) native %+v", tx.id, tx.selection, sx, sy, native)

	out, err := a.cropper.Crop(tx.image, native, outW, outH)
	if err == nil && out.IsEmpty() {
		err = errors.New("crop produced no data")
	}
	if err != nil {
		a.logger.Errorf("transaction %s: crop failed: %v", tx.id, err)
		a.finish(types.NewCropFailed(err.Error()))
		return
	}
	a.finish(types.NewCropSuccess(out))
}

// cancelTx is the single cancellation path: every explicit and implicit
// cancellation ends here.
func (a *Agent) cancelTx(reason string) {
	a.finish(types.NewCropCancelled(reason))
}

// finish tears down the open transaction and emits its one result.
func (a *Agent) finish(result types.CropResult) {
	tx := a.tx
	if tx == nil {
		return
	}

	tx.cancelCapture()
	if tx.overlayShown {
		if err := a.overlay.Dismiss(); err != nil {
			a.logger.Warnf("transaction %s: failed to dismiss overlay: %v", tx.id, err)
		}
	}
	if tx.pageLocked {
		if err := a.overlay.UnlockPage(); err != nil {
			a.logger.Warnf("transaction %s: failed to unlock page: %v", tx.id, err)
		}
	}

	a.tx = nil
	a.setState(types.StateIdle)
	a.logger.Infof("transaction %s finished: %s %s", tx.id, result.Outcome, result.Reason)

	if a.OnResult != nil {
		a.OnResult(tx.id, result)
	}
	a.outbox.put(resultMessage(tx.id, result))
}

func resultMessage(txID string, result types.CropResult) bus.Message {
	if result.IsSuccess() {
		return bus.ImageCropped{ImageData: result.Image.Base64(), TransactionID: txID}
	}
	reason := result.Reason
	if result.Outcome == types.CropFailed {
		reason = "failed: " + reason
	}
	return bus.CropCancelled{Reason: reason, TransactionID: txID}
}

func (a *Agent) clampPoint(p types.Point) types.Point {
	return types.Point{
		X: math.Min(math.Max(p.X, 0), a.tx.viewW),
		Y: math.Min(math.Max(p.Y, 0), a.tx.viewH),
	}
}

func (a *Agent) drawSelection() {
	a.publish()
	if err := a.overlay.DrawSelection(a.tx.selection); err != nil {
		a.logger.Warnf("transaction %s: failed to draw selection: %v", a.tx.id, err)
	}
}

func (a *Agent) setState(to types.TransactionState) {
	from := types.TransactionState(a.state.Swap(int32(to)))
	a.publish()
	if from != to && a.OnTransition != nil {
		a.OnTransition(from, to)
	}
}

func (a *Agent) publish() {
	snap := &Snapshot{State: a.State()}
	if a.tx != nil {
		snap.TransactionID = a.tx.id
		snap.Selection = a.tx.selection
	}
	a.snapshot.Store(snap)
}
