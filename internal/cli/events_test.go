package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrames(t *testing.T) {
	stream := ": heartbeat\n\n" +
		"event: connected\ndata: {\"client_id\":\"c1\"}\n\n" +
		"event: story_changed\ndata: {\ndata:   \"a\": 1\ndata: }\n\n" +
		"data: orphan\n\n" +
		"event: room_closed\ndata: {}\n\n" +
		"event: never_seen\ndata: {}\n\n"

	var got []sseFrame
	err := readFrames(strings.NewReader(stream), func(f sseFrame) error {
		got = append(got, f)
		if f.Event == eventRoomClosed {
			return errStopStream
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "connected", got[0].Event)
	assert.Equal(t, `{"client_id":"c1"}`, got[0].Data)
	assert.Equal(t, "{\n  \"a\": 1\n}", got[1].Data)
	assert.Equal(t, eventRoomClosed, got[2].Event)
}

func TestReadFramesPropagatesCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := readFrames(strings.NewReader("event: a\n\nevent: b\n\n"), func(sseFrame) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRoomPathNormalizesCode(t *testing.T) {
	assert.Equal(t, "/api/v1/rooms/ABC234/state", roomPath(" abc234 ", "/state"))
	assert.Equal(t, "/api/v1/rooms/ABC234", roomPath("ABC234", ""))
}
