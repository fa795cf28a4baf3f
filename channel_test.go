package phx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannel(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:lobby", []byte(`{"user_id":123}`), socket)

	assert.Equal(t, "room:lobby", channel.Topic())
	assert.Equal(t, ChannelClosed, channel.State())
	assert.False(t, channel.JoinedOnce())
	assert.NotNil(t, channel.joinPush)
	assert.Empty(t, channel.pushBuffer)
}

func TestChannelStateQueries(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:test", emptyPayload, socket)

	assert.True(t, channel.IsClosed())

	channel.setState(ChannelJoined)
	assert.True(t, channel.IsJoined())
	assert.False(t, channel.IsClosed())
}

func TestChannelStateStrings(t *testing.T) {
	tests := []struct {
		state ChannelState
		want  string
	}{
		{ChannelClosed, "closed"},
		{ChannelErrored, "errored"},
		{ChannelJoined, "joined"},
		{ChannelJoining, "joining"},
		{ChannelLeaving, "leaving"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.state.String())
	}
}

func TestChannelJoinTwicePanics(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	require.NoError(t, socket.Connect())
	channel := newChannel("room:lobby", emptyPayload, socket)

	channel.Join()

	assert.Panics(t, func() { channel.Join() })
}

func TestChannelJoinOkTransitionsToJoined(t *testing.T) {
	socket, holder := newTestSocket("ws://localhost/socket")
	require.NoError(t, socket.Connect())
	channel := newChannel("room:lobby", emptyPayload, socket)
	registerChannel(socket, channel)

	join := channel.Join()
	assert.True(t, channel.IsJoining())

	ref := join.Ref()
	holder.current.deliverText(`[null,"` + ref + `","room:lobby","phx_reply",{"response":{},"status":"ok"}]`)

	assert.True(t, channel.IsJoined())
}

func TestChannelPushBeforeJoinPanics(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:lobby", emptyPayload, socket)

	assert.Panics(t, func() { channel.Push("shout", map[string]any{}) })
}

func TestChannelPushBuffersUntilJoined(t *testing.T) {
	socket, holder := newTestSocket("ws://localhost/socket")
	require.NoError(t, socket.Connect())
	channel := newChannel("room:lobby", emptyPayload, socket)
	registerChannel(socket, channel)

	join := channel.Join()
	p := channel.Push("shout", map[string]any{"body": "hi"})

	assert.Len(t, channel.pushBuffer, 1)

	joinRef := join.Ref()
	holder.current.deliverText(`[null,"` + joinRef + `","room:lobby","phx_reply",{"response":{},"status":"ok"}]`)

	assert.Empty(t, channel.pushBuffer)
	assert.True(t, p.IsSent())
}

func TestChannelIsMemberDropsStaleLifecycleMessage(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:lobby", emptyPayload, socket)
	channel.mu.Lock()
	channel.joinRef = "5"
	channel.mu.Unlock()

	stale := NewMessage(strPtr("4"), nil, "room:lobby", CloseEvent, emptyPayload)
	assert.False(t, channel.isMember(stale))

	fresh := NewMessage(strPtr("5"), nil, "room:lobby", CloseEvent, emptyPayload)
	assert.True(t, channel.isMember(fresh))

	broadcast := NewMessage(nil, nil, "room:lobby", "shout", emptyPayload)
	assert.True(t, channel.isMember(broadcast))

	wrongTopic := NewMessage(nil, nil, "room:other", "shout", emptyPayload)
	assert.False(t, channel.isMember(wrongTopic))
}

func TestChannelOnOff(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:lobby", emptyPayload, socket)

	var calls int
	ref := channel.On("shout", func(Message) { calls++ })

	channel.trigger(NewMessage(nil, nil, "room:lobby", "shout", emptyPayload))
	assert.Equal(t, 1, calls)

	channel.Off("shout", ref)
	channel.trigger(NewMessage(nil, nil, "room:lobby", "shout", emptyPayload))
	assert.Equal(t, 1, calls)
}

func TestChannelRejoinsAfterTransportCloseDropsToErrored(t *testing.T) {
	socket, holder := newTestSocket("ws://localhost/socket")
	require.NoError(t, socket.Connect())

	channel := socket.Channel("room:lobby", nil)
	join := channel.Join()
	ref := join.Ref()
	holder.current.deliverText(`[null,"` + ref + `","room:lobby","phx_reply",{"response":{},"status":"ok"}]`)
	require.True(t, channel.IsJoined())

	socket.SetReconnectAfterFunc(func(tries int) time.Duration { return 20 * time.Millisecond })
	wentErrored := make(chan struct{})
	channel.OnError(func(Message) { close(wentErrored) })

	holder.current.simulateRemoteClose(CloseAbnormal, "server closed")

	select {
	case <-wentErrored:
	case <-time.After(time.Second):
		t.Fatal("channel did not receive a phx_error after the transport closed")
	}
	assert.Equal(t, ChannelErrored, channel.State())

	require.Eventually(t, func() bool {
		return socket.IsConnected() && channel.IsJoining()
	}, time.Second, time.Millisecond)

	rejoinRef := channel.joinPush.Ref()
	holder.current.deliverText(`[null,"` + rejoinRef + `","room:lobby","phx_reply",{"response":{},"status":"ok"}]`)

	assert.True(t, channel.IsJoined())
}

func TestChannelLeaveWithoutJoinSimulatesCloseImmediately(t *testing.T) {
	socket, _ := newTestSocket("ws://localhost/socket")
	channel := newChannel("room:lobby", emptyPayload, socket)

	closed := make(chan struct{})
	channel.OnClose(func(Message) { close(closed) })

	channel.Leave()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected close to fire immediately when not joined")
	}
}
