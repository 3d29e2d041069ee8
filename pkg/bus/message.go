// Package bus is the asynchronous message bus shared by the capture service,
// the per-page selection agents and the popup session controller.
//
// The set of messages is closed: Message can only be implemented inside this
// package, and every message dispatches to its own method on Handler. A new
// message type therefore fails to compile until every Handler handles it.
package bus

import "context"

// Action names as they appear in the envelope's "action" field.
const (
	ActionTakeScreenshot  = "takeScreenshot"
	ActionStartCrop       = "startCrop"
	ActionImageCropped    = "imageCropped"
	ActionCropCancelled   = "cropCancelled"
	ActionOverlayCreating = "overlayCreating"
	ActionPing            = "ping"
)

// Message is one of the cross-context messages.
type Message interface {
	Action() string
	dispatch(ctx context.Context, h Handler, from Endpoint) Response
}

// Handler receives every message type. Implementations that do not care
// about a message return NotHandled.
type Handler interface {
	HandleTakeScreenshot(ctx context.Context, from Endpoint, msg TakeScreenshot) Response
	HandleStartCrop(ctx context.Context, from Endpoint, msg StartCrop) Response
	HandleImageCropped(ctx context.Context, from Endpoint, msg ImageCropped) Response
	HandleCropCancelled(ctx context.Context, from Endpoint, msg CropCancelled) Response
	HandleOverlayCreating(ctx context.Context, from Endpoint, msg OverlayCreating) Response
	HandlePing(ctx context.Context, from Endpoint, msg Ping) Response
}

// Dispatch delivers msg to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, from Endpoint, msg Message) Response {
	return msg.dispatch(ctx, h, from)
}

// TakeScreenshot asks the capture service for the visible viewport.
type TakeScreenshot struct{}

func (TakeScreenshot) Action() string { return ActionTakeScreenshot }

func (m TakeScreenshot) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandleTakeScreenshot(ctx, from, m)
}

// StartCrop asks a page's selection agent to begin a transaction.
type StartCrop struct{}

func (StartCrop) Action() string { return ActionStartCrop }

func (m StartCrop) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandleStartCrop(ctx, from, m)
}

// ImageCropped carries the cropped image as base64 text.
type ImageCropped struct {
	ImageData     string `json:"imageData"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (ImageCropped) Action() string { return ActionImageCropped }

func (m ImageCropped) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandleImageCropped(ctx, from, m)
}

// CropCancelled reports a transaction that ended without an image.
// Reason is informational; failed crops are reported with a reason too.
type CropCancelled struct {
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (CropCancelled) Action() string { return ActionCropCancelled }

func (m CropCancelled) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandleCropCancelled(ctx, from, m)
}

// OverlayCreating tells the popup that the selection overlay is going up.
type OverlayCreating struct {
	TransactionID string `json:"transactionId,omitempty"`
}

func (OverlayCreating) Action() string { return ActionOverlayCreating }

func (m OverlayCreating) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandleOverlayCreating(ctx, from, m)
}

// Ping checks that an agent is alive and reports its transaction state.
type Ping struct{}

func (Ping) Action() string { return ActionPing }

func (m Ping) dispatch(ctx context.Context, h Handler, from Endpoint) Response {
	return h.HandlePing(ctx, from, m)
}

// Response is the data-only reply to a message. Errors cross the bus as text
// and a kind, never as Go error values.
type Response struct {
	Success   bool   `json:"success"`
	DataURL   string `json:"dataUrl,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Status    string `json:"status,omitempty"`
}

// OK is the plain acknowledgement.
func OK() Response {
	return Response{Success: true}
}

// Fail builds a failed response.
func Fail(kind, message string) Response {
	return Response{Success: false, ErrorKind: kind, Error: message}
}

// NotHandled answers a message the receiving context does not serve.
func NotHandled(msg Message) Response {
	return Response{Success: false, ErrorKind: "unhandled", Error: "action not handled here: " + msg.Action()}
}

// NopHandler answers every message with NotHandled. Embed it to implement
// only the messages a context cares about.
type NopHandler struct{}

func (NopHandler) HandleTakeScreenshot(_ context.Context, _ Endpoint, msg TakeScreenshot) Response {
	return NotHandled(msg)
}

func (NopHandler) HandleStartCrop(_ context.Context, _ Endpoint, msg StartCrop) Response {
	return NotHandled(msg)
}

func (NopHandler) HandleImageCropped(_ context.Context, _ Endpoint, msg ImageCropped) Response {
	return NotHandled(msg)
}

func (NopHandler) HandleCropCancelled(_ context.Context, _ Endpoint, msg CropCancelled) Response {
	return NotHandled(msg)
}

func (NopHandler) HandleOverlayCreating(_ context.Context, _ Endpoint, msg OverlayCreating) Response {
	return NotHandled(msg)
}

func (NopHandler) HandlePing(_ context.Context, _ Endpoint, msg Ping) Response {
	return NotHandled(msg)
}
