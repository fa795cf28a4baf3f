package phx

import (
	"sync"
	"time"
)

type receiveHook struct {
	status   string
	callback func(Message)
}

// Push is a single outbound message plus its pending reply hooks: the
// per-message timeout timer, the deferred send until a joinRef is
// assigned, and the status-keyed receive hooks matched against the
// server's phx_reply envelope. A Push is typically created by
// Channel.Join, Channel.Leave, Channel.Push and Channel.BinaryPush, and
// holds a non-owning pointer back to its Channel: the Channel owns the
// Push, not the other way around.
type Push struct {
	mu       sync.Mutex
	channel  *Channel
	event    string
	payload  []byte
	timeout  time.Duration
	asBinary bool

	ref        string
	refEvent   string
	bindingRef uint64
	hooks      []receiveHook
	received   *Message
	timer      *time.Timer
	sent       bool
}

func newPush(channel *Channel, event string, payload []byte, timeout time.Duration, asBinary bool) *Push {
	return &Push{
		channel:  channel,
		event:    event,
		payload:  payload,
		timeout:  timeout,
		asBinary: asBinary,
	}
}

// Send actually pushes the event to the server. If already sent, it
// only re-arms the timeout, keeping the same ref and hooks. For a
// phx_join push, the newly allocated ref also becomes the channel's
// join ref and is sent as the message's join_ref.
func (p *Push) Send() {
	p.mu.Lock()
	if p.sent {
		p.startTimeoutLocked()
		p.mu.Unlock()
		return
	}

	ref := p.channel.socket.makeRef()
	p.ref = ref
	p.refEvent = replyEventName(ref)
	p.bindingRef = p.channel.On(p.refEvent, p.handleReply)
	p.startTimeoutLocked()
	p.sent = true

	joinRef := p.channel.joinRefPtr()
	isJoin := p.event == JoinEvent
	if isJoin {
		joinRef = &ref
	}
	msg := NewMessage(joinRef, &ref, p.channel.topic, p.event, p.payload)
	asBinary := p.asBinary
	ch := p.channel
	p.mu.Unlock()

	if isJoin {
		ch.mu.Lock()
		ch.joinRef = ref
		ch.mu.Unlock()
	}

	ch.socket.enqueue(msg, asBinary)
}

// Receive registers callback for the given reply status ("ok", "error"
// or "timeout", or any custom status a handle_in/3 reply carries). If a
// reply with that status has already arrived, callback fires
// immediately with the cached message. Returns the Push so calls can
// be chained.
func (p *Push) Receive(status string, callback func(Message)) *Push {
	p.mu.Lock()
	if p.received != nil && statusOf(p.received) == status {
		msg := *p.received
		p.mu.Unlock()
		callback(msg)
		return p
	}
	p.hooks = append(p.hooks, receiveHook{status: status, callback: callback})
	p.mu.Unlock()
	return p
}

// setTimeout updates the duration used by the next StartTimeout/Send.
func (p *Push) setTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// StartTimeout arms the timeout without sending, used when a push is
// buffered on a channel that hasn't joined yet.
func (p *Push) StartTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimeoutLocked()
}

func (p *Push) startTimeoutLocked() {
	p.cancelTimeoutLocked()
	p.timer = time.AfterFunc(p.timeout, p.onTimeout)
}

func (p *Push) cancelTimeoutLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Reset cancels the timeout, clears the refEvent binding and the
// cached reply, and clears sent so the next Send allocates a fresh
// ref.
func (p *Push) Reset() {
	p.mu.Lock()
	p.cancelTimeoutLocked()
	refEvent, bindingRef, ch := p.refEvent, p.bindingRef, p.channel
	p.ref = ""
	p.refEvent = ""
	p.bindingRef = 0
	p.received = nil
	p.sent = false
	p.mu.Unlock()

	if refEvent != "" {
		ch.Off(refEvent, bindingRef)
	}
}

// IsSent reports whether Send has been called since the last Reset.
func (p *Push) IsSent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Ref returns the wire ref currently assigned to this push, or "" if
// unsent or reset.
func (p *Push) Ref() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref
}

// onTimeout synthesizes a local {status: "timeout", payload: {}} reply
// and delivers it through the same receive-hook fan-out as a real
// server reply.
func (p *Push) onTimeout() {
	p.mu.Lock()
	ref, topic, joinRef := p.ref, p.channel.topic, p.channel.joinRefPtr()
	p.mu.Unlock()

	var refPtr *string
	if ref != "" {
		refPtr = &ref
	}
	p.handleReply(NewReply(joinRef, refPtr, topic, "timeout", emptyPayload))
}

// handleReply is installed as the one-shot channel binding on refEvent
// by Send. It caches the reply, cancels the timeout, fans out to
// matching receive hooks, then removes the refEvent binding so a
// misbehaving server can't deliver it twice.
func (p *Push) handleReply(msg Message) {
	p.mu.Lock()
	p.received = &msg
	p.cancelTimeoutLocked()
	hooks := make([]receiveHook, len(p.hooks))
	copy(hooks, p.hooks)
	refEvent, bindingRef, ch := p.refEvent, p.bindingRef, p.channel
	p.mu.Unlock()

	status := statusOf(&msg)
	for _, h := range hooks {
		if h.status == status {
			h.callback(msg)
		}
	}

	if refEvent != "" {
		ch.Off(refEvent, bindingRef)
	}
}

func statusOf(msg *Message) string {
	if msg == nil || msg.Status == nil {
		return ""
	}
	return *msg.Status
}

func replyEventName(ref string) string {
	return "chan_reply_" + ref
}
