package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/wire"
)

// Pairing errors.
var (
	ErrNotConnected         = broker.ErrNotConnected
	ErrNoActivePeer         = errors.New("no active peer")
	ErrDiscoveryInProgress  = errors.New("discovery already in progress")
	ErrMissingCollaborators = errors.New("pairing: publisher and subscriptions are required")
)

// DefaultDiscoveryTimeout bounds how long Discover collects responses.
const DefaultDiscoveryTimeout = 5 * time.Second

// Publisher sends messages to the broker. connection.Manager implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error
	IsConnected() bool
	ClientID() string
}

// Subscriptions tracks subscriptions. subscription.Registry implements it.
type Subscriptions interface {
	Subscribe(ctx context.Context, topic string, qos broker.QoS) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Router dispatches inbound messages by topic filter.
type Router interface {
	Handle(filter string, h broker.Handler)
}

// Peer is a device that answered discovery.
type Peer struct {
	ID        string
	Name      string
	Available bool
	SeenAt    time.Time
}

// Config configures a Manager.
type Config struct {
	Conn Publisher
	Subs Subscriptions

	// Store persists the active pairing. Nil keeps it in memory.
	Store persistence.Store

	Metrics *metrics.Metrics

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// TraceLogger receives link events. Nil disables tracing.
	TraceLogger log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Manager runs the link protocol.
type Manager struct {
	conn    Publisher
	subs    Subscriptions
	store   *Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	trace   log.Logger
	now     func() time.Time

	mu           sync.RWMutex
	active       *Pairing
	online       bool
	discovered   map[string]Peer
	collecting   map[string]Peer
	onPeerStatus []func(deviceID string, online bool)

	discovering atomic.Bool
}

// NewManager creates a Manager and loads the persisted pairing.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Conn == nil || cfg.Subs == nil {
		return nil, ErrMissingCollaborators
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		conn:       cfg.Conn,
		subs:       cfg.Subs,
		store:      NewStore(cfg.Store),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		trace:      log.OrNoop(cfg.TraceLogger),
		now:        cfg.Now,
		discovered: make(map[string]Peer),
	}
	if p, ok := m.store.Load(); ok {
		m.active = &p
	}
	return m, nil
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Manager) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

// Attach registers the status and discovery handlers on r.
func (m *Manager) Attach(r Router) {
	r.Handle(broker.StatusTopic("+"), m.HandleStatus)
	r.Handle(broker.DiscoverResponseFilter, m.HandleDiscoverResponse)
}

// OnPeerStatus registers a callback for status reports.
func (m *Manager) OnPeerStatus(fn func(deviceID string, online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerStatus = append(m.onPeerStatus, fn)
}

// Active returns the active pairing.
func (m *Manager) Active() (Pairing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return Pairing{}, false
	}
	return *m.active, true
}

// PeerOnline reports the last status of the active peer.
func (m *Manager) PeerOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil && m.online
}

func (m *Manager) publishJSON(ctx context.Context, topic string, v any, qos broker.QoS) error {
	payload, err := wire.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return m.conn.Publish(ctx, topic, payload, qos)
}

// SubscribeToDeviceStatus subscribes to device/{id}/status.
func (m *Manager) SubscribeToDeviceStatus(ctx context.Context, deviceID string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	return m.subs.Subscribe(ctx, broker.StatusTopic(deviceID), broker.AtLeastOnce)
}

// LinkDevice asks deviceID to pair with this relay.
//
// It fails with ErrNotConnected, without side effects, when the broker is
// down. The status subscription is attempted first and is best-effort; the
// result reflects only the link publish.
func (m *Manager) LinkDevice(ctx context.Context, deviceID, userID, username string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if !m.conn.IsConnected() {
		return ErrNotConnected
	}

	if err := m.SubscribeToDeviceStatus(ctx, deviceID); err != nil {
		m.warn("status subscribe before link failed", "device", deviceID, "error", err)
	}

	now := m.now()
	msg := wire.NewLink(userID, username, m.conn.ClientID(), now)
	if err := m.publishJSON(ctx, broker.LinkTopic(deviceID), msg, broker.AtLeastOnce); err != nil {
		m.trace.Log(log.NewErrorEvent(log.LayerLink, "link "+deviceID, err))
		return fmt.Errorf("link %s: %w", deviceID, err)
	}

	p := Pairing{
		DeviceID:     deviceID,
		Token:        uuid.NewString(),
		ControlTopic: broker.LinkTopic(deviceID),
		PairedAt:     now,
	}

	m.mu.Lock()
	if peer, ok := m.discovered[deviceID]; ok {
		p.PeerName = peer.Name
	}
	m.active = &p
	m.online = false
	m.mu.Unlock()

	if err := m.store.Save(p); err != nil {
		m.warn("persist pairing", "device", deviceID, "error", err)
	}
	m.tracePairing(deviceID, "UNLINKED", "LINKED")
	m.debugLog("device linked", "device", deviceID)
	return nil
}

// UnlinkDevice asks deviceID to forget this relay and stops watching its
// status. The status subscription is dropped even when the publish fails.
func (m *Manager) UnlinkDevice(ctx context.Context, deviceID string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if !m.conn.IsConnected() {
		return ErrNotConnected
	}

	pubErr := m.publishJSON(ctx, broker.LinkTopic(deviceID), wire.NewUnlink(m.now()), broker.AtLeastOnce)
	if pubErr != nil {
		m.warn("unlink publish failed", "device", deviceID, "error", pubErr)
	}

	if err := m.subs.Unsubscribe(ctx, broker.StatusTopic(deviceID)); err != nil {
		m.debugLog("status unsubscribe failed", "device", deviceID, "error", err)
	}

	m.mu.Lock()
	wasActive := m.active != nil && m.active.DeviceID == deviceID
	if wasActive {
		m.active = nil
		m.online = false
	}
	m.mu.Unlock()

	if wasActive {
		if err := m.store.Clear(); err != nil {
			m.warn("clear pairing", "error", err)
		}
		m.metrics.SetPeerOnline(false)
		m.tracePairing(deviceID, "LINKED", "UNLINKED")
	}

	if pubErr != nil {
		return fmt.Errorf("unlink %s: %w", deviceID, pubErr)
	}
	return nil
}

// UnlinkActive unlinks the active peer, if any.
func (m *Manager) UnlinkActive(ctx context.Context) error {
	p, ok := m.Active()
	if !ok {
		return nil
	}
	return m.UnlinkDevice(ctx, p.DeviceID)
}

// RestoreActive re-subscribes to the active peer's status. Used after
// connecting when a pairing survived from an earlier session.
func (m *Manager) RestoreActive(ctx context.Context) error {
	p, ok := m.Active()
	if !ok {
		return nil
	}
	return m.SubscribeToDeviceStatus(ctx, p.DeviceID)
}

// HandleStatus processes a device/{id}/status message.
func (m *Manager) HandleStatus(msg broker.Message) {
	id, ok := broker.DeviceFromTopic(msg.Topic)
	if !ok {
		return
	}
	st, err := wire.DecodeStatus(msg.Payload)
	if err != nil {
		m.warn("bad status payload", "topic", msg.Topic, "error", err)
		return
	}

	m.mu.Lock()
	isActive := m.active != nil && m.active.DeviceID == id
	changed := false
	if isActive {
		changed = m.online != st.Connected
		m.online = st.Connected
	}
	callbacks := append([]func(string, bool){}, m.onPeerStatus...)
	m.mu.Unlock()

	if isActive {
		m.metrics.SetPeerOnline(st.Connected)
		if changed {
			m.trace.Log(log.Event{
				Timestamp: m.now(),
				Layer:     log.LayerLink,
				Category:  log.CategoryState,
				DeviceID:  id,
				StateChange: &log.StateChangeEvent{
					Entity:   log.StateEntityPeer,
					OldState: onlineName(!st.Connected),
					NewState: onlineName(st.Connected),
				},
			})
		}
	}
	for _, fn := range callbacks {
		fn(id, st.Connected)
	}
}

func onlineName(b bool) string {
	if b {
		return "ONLINE"
	}
	return "OFFLINE"
}

// ForwardNotification sends n to deviceID, or to the active peer when
// deviceID is empty.
func (m *Manager) ForwardNotification(ctx context.Context, deviceID string, n wire.Notification) error {
	if deviceID == "" {
		p, ok := m.Active()
		if !ok {
			return ErrNoActivePeer
		}
		deviceID = p.DeviceID
	}
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == 0 {
		n.Timestamp = m.now().UnixMilli()
	}
	return m.publishJSON(ctx, broker.NotificationTopic(deviceID), n, broker.AtLeastOnce)
}

// Broadcast publishes an untargeted notification.
func (m *Manager) Broadcast(ctx context.Context, title, content string) error {
	return m.publishJSON(ctx, broker.BroadcastTopic, wire.Broadcast{Title: title, Content: content}, broker.AtLeastOnce)
}

// HandleDiscoverResponse records a discover-response/{peerId} message.
func (m *Manager) HandleDiscoverResponse(msg broker.Message) {
	id, ok := broker.PeerFromResponseTopic(msg.Topic)
	if !ok {
		return
	}
	resp, err := wire.DecodeDiscoverResponse(msg.Payload)
	if err != nil {
		m.warn("bad discovery response", "topic", msg.Topic, "error", err)
		return
	}

	peer := Peer{ID: id, Name: resp.Name, Available: resp.Available, SeenAt: m.now()}
	m.mu.Lock()
	m.discovered[id] = peer
	if m.collecting != nil {
		m.collecting[id] = peer
	}
	m.mu.Unlock()
}

// Discover broadcasts a discovery request and collects the responses that
// arrive before timeout (DefaultDiscoveryTimeout if zero) or ctx is done.
func (m *Manager) Discover(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	if !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	if !m.discovering.CompareAndSwap(false, true) {
		return nil, ErrDiscoveryInProgress
	}
	defer m.discovering.Store(false)

	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}

	if err := m.subs.Subscribe(ctx, broker.DiscoverResponseFilter, broker.AtLeastOnce); err != nil {
		return nil, fmt.Errorf("subscribe discovery responses: %w", err)
	}

	m.mu.Lock()
	m.collecting = make(map[string]Peer)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.collecting = nil
		m.mu.Unlock()
	}()

	req := wire.DiscoverRequest{ClientID: m.conn.ClientID(), Timestamp: m.now().UnixMilli()}
	if err := m.publishJSON(ctx, broker.DiscoverRequestTopic, req, broker.AtLeastOnce); err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	m.mu.RLock()
	peers := make([]Peer, 0, len(m.collecting))
	for _, p := range m.collecting {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func (m *Manager) tracePairing(deviceID, old, new string) {
	m.trace.Log(log.Event{
		Timestamp: m.now(),
		ClientID:  m.conn.ClientID(),
		Layer:     log.LayerLink,
		Category:  log.CategoryState,
		DeviceID:  deviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPairing,
			OldState: old,
			NewState: new,
		},
	})
}
