package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a payload is not valid JSON for the
// expected message.
var ErrInvalidPayload = errors.New("invalid payload")

// Marshal encodes a payload.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a payload into v.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// DecodeLink decodes and validates a link message.
func DecodeLink(data []byte) (LinkMessage, error) {
	var m LinkMessage
	if err := Unmarshal(data, &m); err != nil {
		return LinkMessage{}, err
	}
	switch m.Action {
	case ActionLink, ActionUnlink:
		return m, nil
	default:
		return LinkMessage{}, fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, m.Action)
	}
}

// DecodeStatus decodes a status payload.
func DecodeStatus(data []byte) (Status, error) {
	var s Status
	err := Unmarshal(data, &s)
	return s, err
}

// DecodeDiscoverResponse decodes a discovery response.
func DecodeDiscoverResponse(data []byte) (DiscoverResponse, error) {
	var r DiscoverResponse
	err := Unmarshal(data, &r)
	return r, err
}

// DecodeNotification decodes a notification payload.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	err := Unmarshal(data, &n)
	return n, err
}
