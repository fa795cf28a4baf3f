package phx

import (
	"fmt"
	"sync"
	"time"
)

// ChannelState is the channel's five-state lifecycle.
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelErrored
	ChannelJoined
	ChannelJoining
	ChannelLeaving
)

func (s ChannelState) String() string {
	switch s {
	case ChannelClosed:
		return "closed"
	case ChannelErrored:
		return "errored"
	case ChannelJoined:
		return "joined"
	case ChannelJoining:
		return "joining"
	case ChannelLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// channelBinding is one entry in a Channel's binding list.
type channelBinding struct {
	ref      uint64
	event    string
	callback func(Message)
}

// bindingList is the concurrent-read/barrier-write container spec'd for
// a channel's bindings: readers see a stable snapshot, writers build a
// fresh slice under a lock so in-progress dispatch is never mutated out
// from under it (a user may call On/Off from inside a callback).
type bindingList struct {
	mu       sync.RWMutex
	bindings []channelBinding
}

func (b *bindingList) snapshot() []channelBinding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bindings
}

func (b *bindingList) add(binding channelBinding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]channelBinding, len(b.bindings)+1)
	copy(next, b.bindings)
	next[len(b.bindings)] = binding
	b.bindings = next
}

func (b *bindingList) remove(event string, ref uint64, matchRef bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]channelBinding, 0, len(b.bindings))
	for _, bd := range b.bindings {
		if bd.event == event && (!matchRef || bd.ref == ref) {
			continue
		}
		next = append(next, bd)
	}
	b.bindings = next
}

// Channel is a topic-scoped conversation multiplexed over a Socket: an
// independent, asynchronously joined state machine with lifecycle
// events, a subscription table, and a queued push buffer. Channel holds
// a non-owning pointer back to its Socket; the Socket owns the Channel.
type Channel struct {
	mu         sync.RWMutex
	topic      string
	params     []byte
	socket     *Socket
	state      ChannelState
	bindings   *bindingList
	bindingGen atomicRef

	joinTimeout time.Duration
	joinedOnce  bool

	joinPush   *Push
	joinRef    string
	pushBuffer []*Push

	rejoinTimer *timeoutTimer

	onMessageHook func(Message) Message
}

func newChannel(topic string, params []byte, socket *Socket) *Channel {
	c := &Channel{
		topic:       topic,
		params:      params,
		socket:      socket,
		state:       ChannelClosed,
		bindings:    &bindingList{},
		joinTimeout: socket.joinTimeout(),
	}

	c.rejoinTimer = newTimeoutTimer(func() {
		if c.socket.IsConnected() {
			c.rejoin()
		}
	}, defaultRejoinAfterFunc)

	c.setupJoinPush()
	c.setupSelfBindings()

	socket.OnOpen(func() {
		c.rejoinTimer.Reset()
		if c.State() == ChannelErrored {
			c.rejoin()
		}
	})
	socket.OnError(func(error) {
		c.rejoinTimer.Reset()
	})

	return c
}

func (c *Channel) setupJoinPush() {
	c.joinPush = newPush(c, JoinEvent, c.params, c.joinTimeout, false)

	c.joinPush.Receive("ok", func(Message) {
		c.setState(ChannelJoined)
		c.rejoinTimer.Reset()
		c.flushPushBuffer()
	})

	c.joinPush.Receive("error", func(Message) {
		c.setState(ChannelErrored)
		if c.socket.IsConnected() {
			c.rejoinTimer.ScheduleTimeout()
		}
	})

	c.joinPush.Receive("timeout", func(Message) {
		c.socket.Logger.Printf(LogWarning, "channel", "timeout joining %q (join_ref=%v)", c.topic, c.JoinRef())

		leave := newPush(c, LeaveEvent, emptyPayload, c.joinTimeout, false)
		leave.Send()

		c.setState(ChannelErrored)
		c.joinPush.Reset()
		if c.socket.IsConnected() {
			c.rejoinTimer.ScheduleTimeout()
		}
	})
}

func (c *Channel) setupSelfBindings() {
	c.On(CloseEvent, func(Message) {
		c.rejoinTimer.Reset()
		joinRef := c.JoinRef()
		c.setState(ChannelClosed)
		c.socket.Logger.Printf(LogInfo, "channel", "close %q (join_ref=%v)", c.topic, joinRef)
		c.socket.remove(c, joinRef)
	})

	c.On(ErrorEvent, func(msg Message) {
		if c.State() == ChannelJoining {
			c.socket.removeFromSendBuffer(c.joinPush.Ref())
			c.joinPush.Reset()
		}
		c.setState(ChannelErrored)
		c.socket.Logger.Printf(LogError, "channel", "error on %q: %+v", c.topic, msg)
		if c.socket.IsConnected() {
			c.rejoinTimer.ScheduleTimeout()
		}
	})

	c.On(ReplyEvent, func(msg Message) {
		if msg.Ref == nil {
			return
		}
		synthetic := msg
		synthetic.Event = replyEventName(*msg.Ref)
		c.trigger(synthetic)
	})
}

// Join starts the join protocol. It is fatal (panics) to call Join more
// than once on the same Channel instance. Returns the joinPush so
// callers can attach ok/error/timeout hooks.
func (c *Channel) Join(timeout ...time.Duration) *Push {
	c.mu.Lock()
	if c.joinedOnce {
		c.mu.Unlock()
		panic(fmt.Sprintf("tried to join channel %q multiple times; Join can only be called once per Channel instance", c.topic))
	}
	c.joinedOnce = true
	if len(timeout) > 0 {
		c.joinTimeout = timeout[0]
		c.joinPush.setTimeout(timeout[0])
	}
	c.mu.Unlock()

	c.rejoin()
	return c.joinPush
}

// rejoin dedupes any other open channel on the same topic, transitions
// to joining, and re-sends joinPush (allocating a fresh wire ref).
func (c *Channel) rejoin() {
	if c.State() == ChannelLeaving {
		return
	}

	c.socket.leaveOpenTopic(c.topic)

	c.setState(ChannelJoining)
	c.joinPush.Reset()
	c.joinPush.Send()

	c.mu.Lock()
	c.joinRef = c.joinPush.Ref()
	c.mu.Unlock()
}

// Leave sends a phx_leave push and locally simulates the close path
// once it (or its timeout) is acknowledged. If the channel can't
// currently push (not joined), the close is simulated immediately.
func (c *Channel) Leave(timeout ...time.Duration) *Push {
	c.rejoinTimer.Reset()

	lt := c.JoinTimeout()
	if len(timeout) > 0 {
		lt = timeout[0]
	}

	c.setState(ChannelLeaving)

	onClose := func(Message) {
		c.socket.Logger.Printf(LogInfo, "channel", "leave %q", c.topic)
		reason, _ := c.socket.codec.Encode(map[string]string{"reason": "leave"})
		c.trigger(NewMessage(c.JoinRefPtr(), nil, c.topic, CloseEvent, reason))
	}

	leave := newPush(c, LeaveEvent, emptyPayload, lt, false)
	leave.Receive("ok", onClose)
	leave.Receive("timeout", onClose)

	if c.canPush() {
		leave.Send()
	} else {
		onClose(NewReply(c.JoinRefPtr(), nil, c.topic, "ok", emptyPayload))
	}

	return leave
}

// Push sends event to the server with the JSON-encodable payload. It
// is fatal (panics) to call Push before Join. If the channel can't
// currently send (socket not open, or not yet joined), the push is
// timer-armed and buffered for FIFO flush on join.
func (c *Channel) Push(event string, payload any, timeout ...time.Duration) *Push {
	if !c.JoinedOnce() {
		panic(fmt.Sprintf("tried to push %q to %q before joining; call Channel.Join first", event, c.topic))
	}

	encoded, err := c.socket.codec.Encode(payload)
	if err != nil {
		panic(fmt.Sprintf("phx: failed to encode payload for push %q on %q: %v", event, c.topic, err))
	}

	return c.pushEncoded(event, encoded, false, timeout...)
}

// BinaryPush sends event with raw opaque bytes as a binary frame.
func (c *Channel) BinaryPush(event string, data []byte, timeout ...time.Duration) *Push {
	if !c.JoinedOnce() {
		panic(fmt.Sprintf("tried to push %q to %q before joining; call Channel.Join first", event, c.topic))
	}
	return c.pushEncoded(event, data, true, timeout...)
}

func (c *Channel) pushEncoded(event string, payload []byte, asBinary bool, timeout ...time.Duration) *Push {
	pt := c.socket.pushTimeout()
	if len(timeout) > 0 {
		pt = timeout[0]
	}

	p := newPush(c, event, payload, pt, asBinary)

	if c.canPush() {
		p.Send()
	} else {
		p.StartTimeout()
		c.mu.Lock()
		c.pushBuffer = append(c.pushBuffer, p)
		c.mu.Unlock()
	}

	return p
}

func (c *Channel) flushPushBuffer() {
	c.mu.Lock()
	buffered := c.pushBuffer
	c.pushBuffer = nil
	c.mu.Unlock()

	for _, p := range buffered {
		p.Send()
	}
}

// On registers callback for every matching event and returns a
// channel-local binding ref usable with Off.
func (c *Channel) On(event string, callback func(Message)) uint64 {
	ref := c.bindingGen.next()
	c.bindings.add(channelBinding{ref: ref, event: event, callback: callback})
	return ref
}

// Off removes bindings for event, optionally restricted to a single
// binding ref returned by On.
func (c *Channel) Off(event string, ref ...uint64) {
	if len(ref) > 0 {
		c.bindings.remove(event, ref[0], true)
	} else {
		c.bindings.remove(event, 0, false)
	}
}

// OnClose and OnError are sugar over On for the two built-in lifecycle
// events user code most commonly cares about.
func (c *Channel) OnClose(callback func(Message)) uint64 {
	return c.On(CloseEvent, callback)
}

func (c *Channel) OnError(callback func(Message)) uint64 {
	return c.On(ErrorEvent, callback)
}

// OnMessage installs a per-instance transform applied to every message
// before dispatch to bindings. The default is the identity transform.
func (c *Channel) OnMessage(hook func(Message) Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessageHook = hook
}

// Remove asks the socket to drop this channel from its registry. The
// socket-level open and error callbacks the channel registered at
// construction are not unsubscribed and keep firing after Remove.
func (c *Channel) Remove() {
	c.socket.remove(c, c.JoinRef())
}

func (c *Channel) canPush() bool {
	return c.socket.IsConnected() && c.State() == ChannelJoined
}

func (c *Channel) setState(state ChannelState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Channel) State() ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) IsClosed() bool  { return c.State() == ChannelClosed }
func (c *Channel) IsErrored() bool { return c.State() == ChannelErrored }
func (c *Channel) IsJoined() bool  { return c.State() == ChannelJoined }
func (c *Channel) IsJoining() bool { return c.State() == ChannelJoining }
func (c *Channel) IsLeaving() bool { return c.State() == ChannelLeaving }

func (c *Channel) JoinedOnce() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joinedOnce
}

func (c *Channel) JoinTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joinTimeout
}

func (c *Channel) Topic() string { return c.topic }

// JoinRef returns the wire ref of the joinPush that opened the current
// join attempt/session, or "" if none is outstanding.
func (c *Channel) JoinRef() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joinRef
}

func (c *Channel) JoinRefPtr() *string {
	if ref := c.JoinRef(); ref != "" {
		return &ref
	}
	return nil
}

func (c *Channel) joinRefPtr() *string { return c.JoinRefPtr() }

// isMember reports whether msg belongs to this channel: the topic must
// match, and a lifecycle-event message carrying a stale join_ref (one
// that doesn't match our current join) is dropped.
func (c *Channel) isMember(msg Message) bool {
	if msg.Topic != c.topic {
		return false
	}

	joinRef := c.JoinRef()
	if msg.JoinRef != nil && *msg.JoinRef != joinRef && isLifecycleEvent(msg.Event) {
		c.socket.Logger.Printf(LogWarning, "channel", "dropping stale message %q on %q (join_ref=%v, current=%v)", msg.Event, c.topic, *msg.JoinRef, joinRef)
		return false
	}

	return true
}

// trigger applies the onMessage hook and dispatches to every binding
// whose event matches, in registration order.
func (c *Channel) trigger(msg Message) {
	c.mu.RLock()
	hook := c.onMessageHook
	c.mu.RUnlock()

	transformed := msg
	if hook != nil {
		transformed = hook(msg)
	}

	for _, b := range c.bindings.snapshot() {
		if b.event == transformed.Event {
			b.callback(transformed)
		}
	}
}
