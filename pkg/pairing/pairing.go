package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notify-relay/relay-go/pkg/persistence"
)

// keyActive holds the JSON-encoded active pairing.
const keyActive = "active"

// Pairing is an established link with a peer device.
type Pairing struct {
	DeviceID     string    `json:"deviceId"`
	PeerName     string    `json:"peerName,omitempty"`
	PeerAddress  string    `json:"peerAddress,omitempty"`
	Token        string    `json:"token"`
	ControlTopic string    `json:"controlTopic"`
	PairedAt     time.Time `json:"pairedAt"`
}

// ErrInvalidDeviceID is returned for IDs that cannot form a topic level.
var ErrInvalidDeviceID = errors.New("invalid device id")

// ValidateDeviceID checks that id is usable as a single topic level.
func ValidateDeviceID(id string) error {
	if id == "" || strings.ContainsAny(id, "/+#. ") {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	return nil
}

// Store persists the active pairing.
type Store struct {
	s persistence.Store
}

// NewStore wraps a store, typically persistence.Namespace(base, "pairing").
// A nil store keeps the pairing in memory.
func NewStore(s persistence.Store) *Store {
	if s == nil {
		s = persistence.NewMemoryStore()
	}
	return &Store{s: s}
}

// Load returns the active pairing. A missing or corrupt record reports false.
func (st *Store) Load() (Pairing, bool) {
	data, err := st.s.Load(keyActive)
	if err != nil {
		return Pairing{}, false
	}
	var p Pairing
	if err := json.Unmarshal(data, &p); err != nil || p.DeviceID == "" {
		return Pairing{}, false
	}
	return p, true
}

// Save replaces the active pairing.
func (st *Store) Save(p Pairing) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return st.s.Save(keyActive, data)
}

// Clear removes the active pairing.
func (st *Store) Clear() error {
	return st.s.Delete(keyActive)
}
