package sse

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage/memory"
	"github.com/mcoot/storyguess/internal/testutil"
)

func newRoom(t *testing.T, store *memory.Storage, code model.RoomCode) *model.Room {
	t.Helper()
	room := &model.Room{
		ID:         model.RoomID("room-" + string(code)),
		Code:       code,
		Name:       "Test",
		Phase:      model.PhaseLobby,
		MinPlayers: 3,
		MaxPlayers: 5,
	}
	require.NoError(t, store.CreateRoom(context.Background(), room))
	return room
}

func receive(t *testing.T, client *Client) (string, Signal) {
	t.Helper()
	select {
	case msg := <-client.send:
		lines := strings.Split(strings.TrimSpace(string(msg)), "\n")
		require.Len(t, lines, 2)
		var sig Signal
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &sig))
		return strings.TrimPrefix(lines[0], "event: "), sig
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return "", Signal{}
}

func TestHubManager_GetOrCreateHub(t *testing.T) {
	store := memory.New()
	manager := NewHubManager(store, testutil.NopLogger())
	defer manager.Close()

	r1 := newRoom(t, store, "ABCDEF")
	r2 := newRoom(t, store, "GHJKLM")

	hub1, err := manager.GetOrCreateHub(r1)
	require.NoError(t, err)
	hub2, err := manager.GetOrCreateHub(r1)
	require.NoError(t, err)
	assert.Same(t, hub1, hub2)

	hub3, err := manager.GetOrCreateHub(r2)
	require.NoError(t, err)
	assert.NotSame(t, hub1, hub3)

	assert.Same(t, hub1, manager.GetHub("ABCDEF"))
	assert.Nil(t, manager.GetHub("NOPE23"))
}

func TestHubManager_RemoveHub(t *testing.T) {
	store := memory.New()
	manager := NewHubManager(store, testutil.NopLogger())
	room := newRoom(t, store, "ABCDEF")

	hub, err := manager.GetOrCreateHub(room)
	require.NoError(t, err)

	manager.RemoveHub("ABCDEF")
	assert.Nil(t, manager.GetHub("ABCDEF"))

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("hub not closed")
	}

	// Removing a missing hub is a no-op
	manager.RemoveHub("NOPE23")
}

func TestHubManager_CleanupEmptyHubs(t *testing.T) {
	store := memory.New()
	manager := NewHubManager(store, testutil.NopLogger())
	defer manager.Close()

	empty, err := manager.GetOrCreateHub(newRoom(t, store, "ABCDEF"))
	require.NoError(t, err)
	_ = empty
	active, err := manager.GetOrCreateHub(newRoom(t, store, "GHJKLM"))
	require.NoError(t, err)
	active.Register(NewClient(active, "l1"))
	waitForClients(t, active, 1)

	manager.CleanupEmptyHubs()

	assert.Nil(t, manager.GetHub("ABCDEF"))
	assert.NotNil(t, manager.GetHub("GHJKLM"))
}

func TestHubManager_RelaysChanges(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	manager := NewHubManager(store, testutil.NopLogger())
	defer manager.Close()
	room := newRoom(t, store, "ABCDEF")

	hub, err := manager.GetOrCreateHub(room)
	require.NoError(t, err)
	client := NewClient(hub, "l1")
	hub.Register(client)
	waitForClients(t, hub, 1)

	_, _, err = store.UpsertPlayer(ctx, &model.Player{ID: "p1", RoomID: room.ID, LocalID: "l1", Name: "Ann"})
	require.NoError(t, err)

	event, sig := receive(t, client)
	assert.Equal(t, string(model.EventPlayersChanged), event)
	assert.Equal(t, model.EventPlayersChanged, sig.Type)
	assert.Equal(t, model.RoomCode("ABCDEF"), sig.RoomCode)
	assert.Equal(t, model.TablePlayers, sig.Table)
	assert.Equal(t, "p1", sig.RecordID)

	// A room update that moves the phase is a phase change
	room.Phase = model.PhaseWriting
	require.NoError(t, store.UpdateRoom(ctx, room))
	event, sig = receive(t, client)
	assert.Equal(t, string(model.EventPhaseChanged), event)
	assert.Equal(t, model.PhaseWriting, sig.Phase)

	// One that doesn't is a plain update
	require.NoError(t, store.UpdateRoom(ctx, room))
	event, _ = receive(t, client)
	assert.Equal(t, string(model.EventRoomUpdated), event)
}

func TestHubManager_RoomClosedEndsHub(t *testing.T) {
	store := memory.New()
	manager := NewHubManager(store, testutil.NopLogger())
	room := newRoom(t, store, "ABCDEF")

	hub, err := manager.GetOrCreateHub(room)
	require.NoError(t, err)
	client := NewClient(hub, "l1")
	hub.Register(client)
	waitForClients(t, hub, 1)

	require.NoError(t, store.DeleteRoom(context.Background(), room.ID))

	event, _ := receive(t, client)
	assert.Equal(t, string(model.EventRoomClosed), event)

	select {
	case <-hub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("hub not removed after room closed")
	}
	assert.Nil(t, manager.GetHub("ABCDEF"))
}
