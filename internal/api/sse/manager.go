package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

// Signal is the payload of every room event on the SSE stream. It carries no
// room state; clients refetch the state endpoint when they see one.
type Signal struct {
	Type     model.EventType `json:"type"`
	RoomCode model.RoomCode  `json:"room_code"`
	Phase    model.Phase     `json:"phase,omitempty"`
	Table    model.Table     `json:"table"`
	RecordID string          `json:"record_id,omitempty"`
	At       time.Time       `json:"at"`
}

type hubEntry struct {
	hub    *Hub
	cancel context.CancelFunc
}

// HubManager keeps one hub per watched room. Each hub is fed by a single
// store subscription relayed as signals.
type HubManager struct {
	storage storage.Storage
	hubs    map[model.RoomCode]*hubEntry
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(storage storage.Storage, logger *slog.Logger) *HubManager {
	return &HubManager{
		storage: storage,
		hubs:    make(map[model.RoomCode]*hubEntry),
		logger:  logger.With(slog.String("component", "sse")),
	}
}

// GetOrCreateHub returns the room's hub, subscribing to the store the first
// time the room is watched
func (m *HubManager) GetOrCreateHub(room *model.Room) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.hubs[room.Code]; ok {
		return e.hub, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := m.storage.Subscribe(ctx, room.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	hub := NewHub(room.Code, m.logger)
	m.hubs[room.Code] = &hubEntry{hub: hub, cancel: cancel}
	go hub.Run()
	go m.relay(ctx, hub, room, sub)
	return hub, nil
}

// GetHub returns the hub for a room, or nil if nobody is watching it
func (m *HubManager) GetHub(code model.RoomCode) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.hubs[code]; ok {
		return e.hub
	}
	return nil
}

// RemoveHub closes a room's hub and its subscription
func (m *HubManager) RemoveHub(code model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(code)
}

// removeHub removes the room's hub only if it is still hub
func (m *HubManager) removeHub(code model.RoomCode, hub *Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.hubs[code]; ok && e.hub == hub {
		m.removeLocked(code)
	}
}

func (m *HubManager) removeLocked(code model.RoomCode) {
	e, ok := m.hubs[code]
	if !ok {
		return
	}
	e.cancel()
	e.hub.Close()
	delete(m.hubs, code)
	m.logger.Info("sse hub removed", slog.String("room_code", string(code)))
}

// CleanupEmptyHubs removes hubs with no clients
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for code, e := range m.hubs {
		if e.hub.ClientCount() == 0 {
			m.removeLocked(code)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("sse empty hubs cleaned up", slog.Int("removed", removed))
	}
}

// Close removes every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code := range m.hubs {
		m.removeLocked(code)
	}
}

// RunCleanup sweeps empty hubs every interval until ctx is done
func (m *HubManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupEmptyHubs()
		}
	}
}

// relay turns store changes for the room into signals on the hub
func (m *HubManager) relay(ctx context.Context, hub *Hub, room *model.Room, sub storage.Subscription) {
	defer func() { _ = sub.Close() }()

	lastPhase := room.Phase
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			sig := Signal{
				Type:     model.EventTypeForChange(change),
				RoomCode: room.Code,
				Table:    change.Table,
				RecordID: change.RecordID,
				At:       change.At,
			}
			if change.Table == model.TableRooms && sig.Type != model.EventRoomClosed {
				if current, err := m.storage.GetRoom(ctx, room.ID); err == nil {
					sig.Phase = current.Phase
					if current.Phase != lastPhase {
						sig.Type = model.EventPhaseChanged
						lastPhase = current.Phase
					}
				}
			}

			data, err := json.Marshal(sig)
			if err != nil {
				m.logger.Error("sse failed to encode signal", slog.String("error", err.Error()))
				continue
			}
			hub.BroadcastEvent(string(sig.Type), string(data))

			if sig.Type == model.EventRoomClosed {
				// Let the hub flush the final event before disconnecting clients
				time.AfterFunc(time.Second, func() { m.removeHub(room.Code, hub) })
				return
			}
		}
	}
}
