package types

// CaptureOutcome is the outcome of a viewport capture.
type CaptureOutcome string

const (
	CaptureSuccess CaptureOutcome = "success" // CaptureSuccess means Image holds the captured viewport.
	CaptureFailure CaptureOutcome = "failure" // CaptureFailure means ErrorKind explains why no image exists.
)

// CaptureErrorKind distinguishes capture failures for the caller.
type CaptureErrorKind string

const (
	CaptureErrorNone    CaptureErrorKind = ""        // CaptureErrorNone is used on success.
	CaptureErrorDenied  CaptureErrorKind = "denied"  // CaptureErrorDenied means the host refused the capture.
	CaptureErrorEmpty   CaptureErrorKind = "empty"   // CaptureErrorEmpty means the call succeeded without data.
	CaptureErrorTimeout CaptureErrorKind = "timeout" // CaptureErrorTimeout means the bounded wait expired.
	CaptureErrorChannel CaptureErrorKind = "channel" // CaptureErrorChannel means the request never reached the capture service.
)

// CaptureResult is the answer to a capture request.
// Image is present iff Outcome is CaptureSuccess.
type CaptureResult struct {
	Outcome   CaptureOutcome
	Image     *EncodedImage
	ErrorKind CaptureErrorKind
	Message   string
}

// NewCaptureSuccess creates a successful capture result.
func NewCaptureSuccess(img EncodedImage) CaptureResult {
	return CaptureResult{Outcome: CaptureSuccess, Image: &img}
}

// NewCaptureFailure creates a failed capture result.
func NewCaptureFailure(kind CaptureErrorKind, message string) CaptureResult {
	return CaptureResult{Outcome: CaptureFailure, ErrorKind: kind, Message: message}
}

// IsSuccess returns true if the capture produced an image.
func (r CaptureResult) IsSuccess() bool {
	return r.Outcome == CaptureSuccess && r.Image != nil
}

// CropOutcome is the outcome of one capture-select-crop transaction.
type CropOutcome string

const (
	CropSuccess   CropOutcome = "success"   // CropSuccess carries the cropped image.
	CropCancelled CropOutcome = "cancelled" // CropCancelled covers user cancellation, small gestures and capture failures.
	CropFailed    CropOutcome = "failed"    // CropFailed means the captured image could not be decoded or cropped.
)

// CropResult is the single notification a transaction produces.
type CropResult struct {
	Outcome CropOutcome
	Image   *EncodedImage
	Reason  string
}

// NewCropSuccess creates a successful crop result.
func NewCropSuccess(img EncodedImage) CropResult {
	return CropResult{Outcome: CropSuccess, Image: &img}
}

// NewCropCancelled creates a cancellation result.
func NewCropCancelled(reason string) CropResult {
	return CropResult{Outcome: CropCancelled, Reason: reason}
}

// NewCropFailed creates a failed result.
func NewCropFailed(reason string) CropResult {
	return CropResult{Outcome: CropFailed, Reason: reason}
}

// IsSuccess returns true if the result carries a cropped image.
func (r CropResult) IsSuccess() bool {
	return r.Outcome == CropSuccess && r.Image != nil
}

// TransactionState is the lifecycle position of a selection transaction.
type TransactionState int32

const (
	StateIdle      TransactionState = iota // StateIdle means no transaction is open.
	StateCapturing                         // StateCapturing waits for the capture service.
	StateSelecting                         // StateSelecting shows the overlay and tracks the pointer.
	StateCropping                          // StateCropping computes the cropped image.
)

// String returns the lowercase state name.
func (s TransactionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSelecting:
		return "selecting"
	case StateCropping:
		return "cropping"
	default:
		return "unknown"
	}
}
