package hub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/pkg/lock"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/session"
)

// Errors for the connection registry.
var (
	ErrNotIdentified   = errors.New("device has not identified")
	ErrInvalidIdentity = errors.New("invalid device identity")
)

// device is one identified connection.
type device struct {
	conn Conn
	info model.DeviceConnection
}

// Registry tracks identified device connections and routes broadcasts.
// All identified devices join the station room; each also has an
// implicit per-device channel for targeted frames. Unidentified
// connections receive nothing.
type Registry struct {
	mu        sync.Mutex
	devices   map[string]*device
	seen      map[string]bool // device ids seen during the current session
	locks     *lock.DeviceLock
	sessions  *session.Manager
	processor *scan.Processor
	recentN   int
}

// NewRegistry creates the connection registry.
func NewRegistry(sessions *session.Manager, processor *scan.Processor, recentTransactions int) *Registry {
	if recentTransactions <= 0 {
		recentTransactions = 10
	}
	return &Registry{
		devices:   make(map[string]*device),
		seen:      make(map[string]bool),
		locks:     lock.NewDeviceLock(),
		sessions:  sessions,
		processor: processor,
		recentN:   recentTransactions,
	}
}

// Identify performs the one-time identify handshake for a connection.
// The device joins the station room and immediately receives a full
// state sync; the reconnection flag distinguishes a device the current
// session has seen before from a first connection.
func (r *Registry) Identify(conn Conn, deviceID string, deviceType model.DeviceType, protocolVersion string) (*model.DeviceConnection, error) {
	if deviceID == "" || !deviceType.Valid() {
		return nil, ErrInvalidIdentity
	}

	var info model.DeviceConnection
	err := r.locks.WithLock(deviceID, func() error {
		// Session state is read before taking the registry mutex. A
		// session transition broadcasts back into the registry, so
		// holding r.mu across the session manager invites a lock-order
		// inversion.
		var sessionID string
		if current := r.sessions.Current(); current != nil {
			sessionID = current.ID
		}

		r.mu.Lock()

		// A reconnect may arrive before the stale connection's teardown;
		// the newer connection wins.
		if prev, ok := r.devices[deviceID]; ok && prev.conn != conn {
			_ = prev.conn.Close()
		}

		reconnection := r.seen[deviceID]
		r.seen[deviceID] = true

		info = model.DeviceConnection{
			DeviceID:    deviceID,
			Type:        deviceType,
			SessionID:   sessionID,
			ConnectedAt: time.Now(),
		}
		r.devices[deviceID] = &device{conn: conn, info: info}
		peers := r.peersLocked(deviceID)
		r.mu.Unlock()

		payload := r.buildSync(deviceID, reconnection)
		if sendErr := conn.Send(NewEnvelope(model.EventSyncFull, payload)); sendErr != nil {
			log.Warn().Err(sendErr).Str("device_id", deviceID).Msg("Failed to deliver sync payload")
		}

		announce := NewEnvelope(model.EventDeviceConnected, DeviceAnnouncement{DeviceID: deviceID, Type: deviceType})
		for _, p := range peers {
			if sendErr := p.conn.Send(announce); sendErr != nil {
				log.Debug().Err(sendErr).Str("device_id", p.info.DeviceID).Msg("Broadcast delivery failed")
			}
		}

		log.Info().
			Str("device_id", deviceID).
			Str("type", string(deviceType)).
			Str("protocol_version", protocolVersion).
			Bool("reconnection", reconnection).
			Msg("Device identified")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Disconnect removes a device. Its session-scoped scan history survives
// in the transaction log and is restored on the next identify.
func (r *Registry) Disconnect(deviceID string) {
	_ = r.locks.WithLock(deviceID, func() error {
		r.mu.Lock()
		d, ok := r.devices[deviceID]
		if !ok {
			r.mu.Unlock()
			return nil
		}
		delete(r.devices, deviceID)
		peers := r.peersLocked(deviceID)
		r.mu.Unlock()

		_ = d.conn.Close()
		announce := NewEnvelope(model.EventDeviceDisconnected, DeviceAnnouncement{DeviceID: deviceID, Type: d.info.Type})
		for _, p := range peers {
			_ = p.conn.Send(announce)
		}

		log.Info().Str("device_id", deviceID).Msg("Device disconnected")
		return nil
	})
}

// DropConn removes a device only if it still owns the given connection.
// Guards against a stale reader goroutine tearing down its replacement.
func (r *Registry) DropConn(conn Conn) {
	r.mu.Lock()
	var deviceID string
	for id, d := range r.devices {
		if d.conn == conn {
			deviceID = id
			break
		}
	}
	r.mu.Unlock()
	if deviceID != "" {
		r.Disconnect(deviceID)
	}
}

// Broadcast fans an event out to the station room.
func (r *Registry) Broadcast(event string, data any) {
	r.mu.Lock()
	targets := r.peersLocked("")
	r.mu.Unlock()

	env := NewEnvelope(event, data)
	for _, t := range targets {
		if err := t.conn.Send(env); err != nil {
			log.Debug().Err(err).
				Str("device_id", t.info.DeviceID).
				Str("event", event).
				Msg("Broadcast delivery failed")
		}
	}
}

// SendTo delivers a targeted frame on a device's implicit channel.
func (r *Registry) SendTo(deviceID, event string, data any) error {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	r.mu.Unlock()
	if !ok {
		return ErrNotIdentified
	}
	return d.conn.Send(NewEnvelope(event, data))
}

// SendError delivers a typed error frame to a device.
func (r *Registry) SendError(deviceID, code, message string) {
	if err := r.SendTo(deviceID, model.EventError, WireError{Code: code, Message: message}); err != nil {
		log.Debug().Err(err).Str("device_id", deviceID).Msg("Error delivery failed")
	}
}

// Resync rebuilds and resends the full-state payload to a device.
func (r *Registry) Resync(deviceID string) error {
	r.mu.Lock()
	_, ok := r.devices[deviceID]
	reconnection := r.seen[deviceID]
	r.mu.Unlock()
	if !ok {
		return ErrNotIdentified
	}
	return r.SendTo(deviceID, model.EventSyncFull, r.buildSync(deviceID, reconnection))
}

// Device returns a device's connection info.
func (r *Registry) Device(deviceID string) (model.DeviceConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return model.DeviceConnection{}, false
	}
	return d.info, true
}

// ConnectedDevices lists identified devices sorted by id.
func (r *Registry) ConnectedDevices() []model.DeviceConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]model.DeviceConnection, 0, len(r.devices))
	for _, d := range r.devices {
		infos = append(infos, d.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DeviceID < infos[j].DeviceID })
	return infos
}

// ResetState forgets which devices the session has seen. Live
// connections stay up; their next identify counts as a first connection
// of the new game.
func (r *Registry) ResetState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]bool)
}

// buildSync assembles the per-device full-state payload.
func (r *Registry) buildSync(deviceID string, reconnection bool) SyncPayload {
	scores := r.processor.AllScores()
	snapshots := make([]ScoreSnapshot, 0, len(scores))
	for _, s := range scores {
		snapshots = append(snapshots, SnapshotOf(s))
	}

	recent := r.processor.RecentTransactions(r.recentN)
	if recent == nil {
		recent = []*model.Transaction{}
	}
	scanned := r.processor.DeviceScannedTokens(deviceID)
	if scanned == nil {
		scanned = []string{}
	}

	return SyncPayload{
		Session:             SessionResourceOf(r.sessions.Current()),
		Scores:              snapshots,
		RecentTransactions:  recent,
		DeviceScannedTokens: scanned,
		Reconnection:        reconnection,
	}
}

// peersLocked snapshots all devices except the excluded id. Caller
// holds the registry mutex.
func (r *Registry) peersLocked(exclude string) []*device {
	peers := make([]*device, 0, len(r.devices))
	for id, d := range r.devices {
		if id == exclude {
			continue
		}
		peers = append(peers, d)
	}
	return peers
}
