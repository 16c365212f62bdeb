package log

import (
	"time"
)

// MaxPayloadCapture is the largest payload copied into a MessageEvent.
// Larger payloads are truncated.
const MaxPayloadCapture = 512

// Event is a single trace record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ClientID is the broker client identifier of the relay.
	ClientID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow for message events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the peer device involved, if any.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// Topic is the broker topic involved, if any.
	Topic string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"12,keyasint,omitempty"`
	Repair      *RepairEvent      `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerBroker is the broker connection (connect, loss, publish, subscribe).
	LayerBroker Layer = 0
	// LayerLink is the device pairing protocol.
	LayerLink Layer = 1
	// LayerService is the service health state machine.
	LayerService Layer = 2
	// LayerWatchdog is the liveness watchdog.
	LayerWatchdog Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerBroker:
		return "BROKER"
	case LayerLink:
		return "LINK"
	case LayerService:
		return "SERVICE"
	case LayerWatchdog:
		return "WATCHDOG"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a published or received message.
	CategoryMessage Category = 0
	// CategoryControl indicates a connection or subscription operation.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error.
	CategoryError Category = 3
	// CategoryRepair indicates a watchdog repair action.
	CategoryRepair Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryRepair:
		return "REPAIR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a message on a topic.
type MessageEvent struct {
	// QoS is the delivery level used.
	QoS uint8 `cbor:"1,keyasint"`

	// Size is the full payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Payload is the (possibly truncated) payload.
	Payload []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates Payload was cut at MaxPayloadCapture.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent, truncating large payloads.
func NewMessageEvent(qos uint8, payload []byte) *MessageEvent {
	ev := &MessageEvent{QoS: qos, Size: len(payload)}
	if len(payload) > MaxPayloadCapture {
		ev.Payload = append([]byte(nil), payload[:MaxPayloadCapture]...)
		ev.Truncated = true
	} else if len(payload) > 0 {
		ev.Payload = append([]byte(nil), payload...)
	}
	return ev
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection is the broker connection.
	StateEntityConnection StateEntity = 0
	// StateEntityService is the service health state.
	StateEntityService StateEntity = 1
	// StateEntityPairing is the remote peer pairing.
	StateEntityPairing StateEntity = 2
	// StateEntityPeer is the remote peer's reported status.
	StateEntityPeer StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityService:
		return "SERVICE"
	case StateEntityPairing:
		return "PAIRING"
	case StateEntityPeer:
		return "PEER"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures a connection or subscription operation.
type ControlEvent struct {
	// Type of operation.
	Type ControlType `cbor:"1,keyasint"`

	// Attempt is the reconnect attempt index (reconnect events only).
	Attempt int `cbor:"2,keyasint,omitempty"`

	// Delay before the operation runs (reconnect events only).
	Delay time.Duration `cbor:"3,keyasint,omitempty"`
}

// ControlType indicates the operation.
type ControlType uint8

const (
	ControlConnect        ControlType = 0
	ControlDisconnect     ControlType = 1
	ControlConnectionLost ControlType = 2
	ControlReconnect      ControlType = 3
	ControlSubscribe      ControlType = 4
	ControlUnsubscribe    ControlType = 5
	ControlResubscribe    ControlType = 6
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlConnect:
		return "CONNECT"
	case ControlDisconnect:
		return "DISCONNECT"
	case ControlConnectionLost:
		return "CONNECTION_LOST"
	case ControlReconnect:
		return "RECONNECT"
	case ControlSubscribe:
		return "SUBSCRIBE"
	case ControlUnsubscribe:
		return "UNSUBSCRIBE"
	case ControlResubscribe:
		return "RESUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

// RepairEvent captures a watchdog repair action.
type RepairEvent struct {
	// Action taken.
	Action RepairAction `cbor:"1,keyasint"`

	// Silence is the time since the last inbound message when the
	// action was chosen.
	Silence time.Duration `cbor:"2,keyasint,omitempty"`

	// Trigger names the check that chose the action.
	Trigger string `cbor:"3,keyasint,omitempty"`

	// Success reports whether the action completed without error.
	Success bool `cbor:"4,keyasint"`
}

// RepairAction is a rung of the escalation ladder.
type RepairAction uint8

const (
	RepairRestart     RepairAction = 0
	RepairForcedReset RepairAction = 1
	RepairDeepReset   RepairAction = 2
)

// String returns the repair action name.
func (r RepairAction) String() string {
	switch r {
	case RepairRestart:
		return "RESTART"
	case RepairForcedReset:
		return "FORCED_RESET"
	case RepairDeepReset:
		return "DEEP_RESET"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// NewErrorEvent builds an error event for the given layer.
func NewErrorEvent(layer Layer, context string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Timestamp: time.Now(),
		Layer:     layer,
		Category:  CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: msg,
			Context: context,
		},
	}
}
