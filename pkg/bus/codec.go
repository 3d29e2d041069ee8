package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned by Decode for an envelope whose action is not
// part of the message set. It can only come from bytes produced outside this
// process.
var ErrUnknownAction = errors.New("unknown action")

type envelopeHeader struct {
	Action string `json:"action"`
}

// Encode renders msg as the {"action": ..., ...payload} envelope.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msg.Action(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msg.Action(), err)
	}
	action, _ := json.Marshal(msg.Action())
	fields["action"] = action

	return json.Marshal(fields)
}

// Decode parses an envelope into its concrete message type.
func Decode(data []byte) (Message, error) {
	var header envelopeHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if header.Action == "" {
		return nil, fmt.Errorf("invalid envelope: missing action")
	}

	switch header.Action {
	case ActionTakeScreenshot:
		return TakeScreenshot{}, nil
	case ActionStartCrop:
		return StartCrop{}, nil
	case ActionImageCropped:
		return decodeAs[ImageCropped](data)
	case ActionCropCancelled:
		return decodeAs[CropCancelled](data)
	case ActionOverlayCreating:
		return decodeAs[OverlayCreating](data)
	case ActionPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, header.Action)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", msg.Action(), err)
	}
	return msg, nil
}

// EncodeResponse renders a response as JSON.
func EncodeResponse(r Response) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a JSON response.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return r, nil
}
