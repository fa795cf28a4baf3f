package phx

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// bufferedSend is one outbound frame waiting for an open transport.
type bufferedSend struct {
	ref  string
	msg  Message
	bin  bool
}

// callbackEntry is one registration in a generic callback registry,
// identified by a ref so it can be individually removed.
type callbackEntry[F any] struct {
	ref uint64
	fn  F
}

// Socket is the top-level connection to a Phoenix endpoint: it owns the
// Transport, the wire Serializer and PayloadCodec, ref allocation, the
// channel registry, the heartbeat liveness check, reconnection backoff,
// and fan-out of inbound frames to channels and to socket-level
// subscribers.
type Socket struct {
	endpoint         string
	params           map[string]string
	requestHeader    http.Header
	transportFactory TransportFactory
	serializer       Serializer
	codec            PayloadCodec
	Logger           Logger

	connectTimeout     time.Duration
	heartbeatInterval  time.Duration
	joinTimeoutValue   time.Duration
	pushTimeoutValue   time.Duration
	reconnectAfterFunc func(tries int) time.Duration

	mu         sync.RWMutex
	transport  Transport
	closedByUs bool
	ref        atomicRef

	channels []*Channel

	sendBuffer []bufferedSend

	reconnectTimer *timeoutTimer
	heartbeat      *heartbeatTimer
	pendingHeartbeatRef string

	openGen    atomicRef
	closeGen   atomicRef
	errorGen   atomicRef
	messageGen atomicRef

	onOpen    []callbackEntry[func()]
	onClose   []callbackEntry[func(code int, reason string)]
	onError   []callbackEntry[func(err error)]
	onMessage []callbackEntry[func(Message)]
}

// NewSocket builds a Socket for endpoint (an http(s):// or ws(s)://
// URL; http(s) is normalized to ws(s) and the protocol version and
// query params are appended). The default Transport is a
// gorilla/websocket-backed implementation and the default Serializer
// is JSONSerializerV2. It panics if endpoint cannot be parsed as a URL.
func NewSocket(endpoint string) *Socket {
	s := &Socket{
		endpoint:           endpoint,
		params:             map[string]string{},
		requestHeader:      http.Header{},
		serializer:         NewJSONSerializerV2(),
		codec:              NewJSONCodec(),
		Logger:             NewNoopLogger(),
		connectTimeout:     defaultConnectTimeout,
		heartbeatInterval:  defaultHeartbeatInterval,
		joinTimeoutValue:   defaultJoinTimeout,
		pushTimeoutValue:   defaultPushTimeout,
		reconnectAfterFunc: defaultReconnectAfterFunc,
	}
	s.transportFactory = func(endpoint string, handler TransportHandler) Transport {
		return NewWebsocketTransport(endpoint, handler, s.connectTimeout)
	}
	s.reconnectTimer = newTimeoutTimer(func() { _ = s.Connect() }, s.reconnectAfterFunc)
	s.heartbeat = newHeartbeatTimer(s.heartbeatInterval)
	if _, err := s.endpointURL(); err != nil {
		panic(err.Error())
	}
	return s
}

// SetParams sets the query parameters merged into the connect URL.
func (s *Socket) SetParams(params map[string]string) *Socket {
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
	return s
}

// SetRequestHeader sets extra headers sent with the upgrade request.
func (s *Socket) SetRequestHeader(header http.Header) *Socket {
	s.mu.Lock()
	s.requestHeader = header
	s.mu.Unlock()
	return s
}

// SetTransportFactory overrides the default gorilla/websocket
// transport, e.g. with a fake for tests.
func (s *Socket) SetTransportFactory(factory TransportFactory) *Socket {
	s.mu.Lock()
	s.transportFactory = factory
	s.mu.Unlock()
	return s
}

// SetSerializer overrides the default JSONSerializerV2.
func (s *Socket) SetSerializer(serializer Serializer) *Socket {
	s.mu.Lock()
	s.serializer = serializer
	s.mu.Unlock()
	return s
}

// SetCodec overrides the default JSONCodec.
func (s *Socket) SetCodec(codec PayloadCodec) *Socket {
	s.mu.Lock()
	s.codec = codec
	s.mu.Unlock()
	return s
}

// SetHeartbeatInterval overrides the default heartbeat cadence.
func (s *Socket) SetHeartbeatInterval(interval time.Duration) *Socket {
	s.mu.Lock()
	s.heartbeatInterval = interval
	s.heartbeat = newHeartbeatTimer(interval)
	s.mu.Unlock()
	return s
}

// SetReconnectAfterFunc overrides the default reconnect backoff table.
func (s *Socket) SetReconnectAfterFunc(f func(tries int) time.Duration) *Socket {
	s.mu.Lock()
	s.reconnectAfterFunc = f
	s.reconnectTimer = newTimeoutTimer(func() { _ = s.Connect() }, f)
	s.mu.Unlock()
	return s
}

// SetJoinTimeout overrides the default per-channel join timeout.
func (s *Socket) SetJoinTimeout(d time.Duration) *Socket {
	s.mu.Lock()
	s.joinTimeoutValue = d
	s.mu.Unlock()
	return s
}

// SetPushTimeout overrides the default per-push timeout.
func (s *Socket) SetPushTimeout(d time.Duration) *Socket {
	s.mu.Lock()
	s.pushTimeoutValue = d
	s.mu.Unlock()
	return s
}

func (s *Socket) joinTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinTimeoutValue
}

func (s *Socket) pushTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushTimeoutValue
}

// endpointURL normalizes the configured endpoint into the concrete
// websocket URL: http(s) becomes ws(s), a trailing "/websocket" is
// ensured, and vsn plus any configured params are appended as a query
// string, vsn first and the remaining params sorted by key.
func (s *Socket) endpointURL() (string, error) {
	s.mu.RLock()
	raw, params := s.endpoint, s.params
	s.mu.RUnlock()

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("phx: invalid endpoint %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if !strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	q.Del("vsn")
	query := url.Values{"vsn": {s.serializer.Vsn()}}.Encode()
	if rest := q.Encode(); rest != "" {
		query += "&" + rest
	}
	u.RawQuery = query

	return u.String(), nil
}

// Connect dials the transport. Safe to call again after Disconnect; a
// no-op if already connected or connecting.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.transport != nil {
		switch s.transport.ReadyState() {
		case TransportConnecting, TransportOpen:
			s.mu.Unlock()
			return nil
		}
	}
	s.closedByUs = false
	s.mu.Unlock()

	endpoint, err := s.endpointURL()
	if err != nil {
		return err
	}

	s.mu.Lock()
	transport := s.transportFactory(endpoint, s)
	s.transport = transport
	header := s.requestHeader
	s.mu.Unlock()

	if err := transport.Connect(header); err != nil {
		s.Logger.Printf(LogError, "socket", "connect failed: %v", err)
		s.scheduleReconnect()
		return err
	}
	return nil
}

// Disconnect closes the transport and suppresses the automatic
// reconnect that would otherwise follow.
func (s *Socket) Disconnect(code int, reason string) error {
	s.mu.Lock()
	s.closedByUs = true
	transport := s.transport
	s.mu.Unlock()

	s.reconnectTimer.Reset()
	s.heartbeat.Stop()

	if transport == nil {
		return nil
	}
	return transport.Disconnect(code, reason)
}

// Reconnect disconnects (if connected) and immediately reconnects,
// bypassing the backoff schedule. Used by callers that know the
// endpoint or credentials changed and want a fresh connection now.
func (s *Socket) Reconnect() error {
	_ = s.Disconnect(CloseNormal, "reconnecting")
	return s.Connect()
}

// IsConnected reports whether the transport is currently open.
func (s *Socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport != nil && s.transport.ReadyState() == TransportOpen
}

func (s *Socket) scheduleReconnect() {
	s.mu.RLock()
	closedByUs := s.closedByUs
	s.mu.RUnlock()
	if !closedByUs {
		s.reconnectTimer.ScheduleTimeout()
	}
}

// makeRef allocates the next socket-scoped wire ref.
func (s *Socket) makeRef() string {
	return s.ref.nextString()
}

// Channel creates a new Channel for topic and registers it with the
// socket. Every call creates a new Channel, even for a topic that
// already has one. params is the phx_join payload.
func (s *Socket) Channel(topic string, params any) *Channel {
	encoded, err := s.codec.Encode(orEmpty(params))
	if err != nil {
		panic(fmt.Sprintf("phx: failed to encode join params for %q: %v", topic, err))
	}

	ch := newChannel(topic, encoded, s)

	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()

	return ch
}

func orEmpty(params any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// leaveOpenTopic calls Leave on any channel already joined or joining
// on topic, per the one-live-channel-per-topic rule. Leave sends a
// phx_leave to the server when that channel can push, and closes it
// locally otherwise.
func (s *Socket) leaveOpenTopic(topic string) {
	s.mu.RLock()
	channels := append([]*Channel(nil), s.channels...)
	s.mu.RUnlock()

	for _, ch := range channels {
		if ch.Topic() == topic && (ch.IsJoined() || ch.IsJoining()) {
			ch.Leave()
		}
	}
}

// remove drops ch from the registry if its current join ref still
// matches joinRef (a channel that has since rejoined under a new ref
// is not the one being removed).
func (s *Socket) remove(ch *Channel, joinRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.JoinRef() != joinRef {
		return
	}

	next := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if c != ch {
			next = append(next, c)
		}
	}
	s.channels = next
}

// enqueue queues msg for send; if the transport is open it's written
// immediately, otherwise it's appended to the send buffer for FIFO
// delivery once Connect succeeds.
func (s *Socket) enqueue(msg Message, asBinary bool) {
	if s.IsConnected() {
		s.write(msg, asBinary)
		return
	}

	ref := ""
	if msg.Ref != nil {
		ref = *msg.Ref
	}
	s.mu.Lock()
	s.sendBuffer = append(s.sendBuffer, bufferedSend{ref: ref, msg: msg, bin: asBinary})
	s.mu.Unlock()
}

func (s *Socket) write(msg Message, asBinary bool) {
	s.mu.RLock()
	transport, serializer := s.transport, s.serializer
	s.mu.RUnlock()

	if transport == nil {
		return
	}

	if asBinary {
		data, err := serializer.EncodeBinary(msg)
		if err != nil {
			s.notifyError(err)
			return
		}
		if err := transport.Send(data); err != nil {
			s.notifyError(err)
		}
		return
	}

	data, err := serializer.EncodeText(msg)
	if err != nil {
		s.notifyError(err)
		return
	}
	if err := transport.SendText(string(data)); err != nil {
		s.notifyError(err)
	}
}

// removeFromSendBuffer drops a not-yet-flushed buffered message by its
// wire ref, used to abort a joinPush that errored before the transport
// ever sent it.
func (s *Socket) removeFromSendBuffer(ref string) {
	if ref == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]bufferedSend, 0, len(s.sendBuffer))
	for _, b := range s.sendBuffer {
		if b.ref != ref {
			next = append(next, b)
		}
	}
	s.sendBuffer = next
}

func (s *Socket) flushSendBuffer() {
	s.mu.Lock()
	buffered := s.sendBuffer
	s.sendBuffer = nil
	s.mu.Unlock()

	for _, b := range buffered {
		s.write(b.msg, b.bin)
	}
}

// OnOpen registers callback for every successful connect, returning a
// ref usable with Off.
func (s *Socket) OnOpen(callback func()) uint64 {
	ref := s.openGen.next()
	s.mu.Lock()
	s.onOpen = append(s.onOpen, callbackEntry[func()]{ref: ref, fn: callback})
	s.mu.Unlock()
	return ref
}

// OnClose registers callback for every transport close.
func (s *Socket) OnClose(callback func(code int, reason string)) uint64 {
	ref := s.closeGen.next()
	s.mu.Lock()
	s.onClose = append(s.onClose, callbackEntry[func(int, string)]{ref: ref, fn: callback})
	s.mu.Unlock()
	return ref
}

// OnError registers callback for every connection-level error.
func (s *Socket) OnError(callback func(err error)) uint64 {
	ref := s.errorGen.next()
	s.mu.Lock()
	s.onError = append(s.onError, callbackEntry[func(error)]{ref: ref, fn: callback})
	s.mu.Unlock()
	return ref
}

// OnMessage registers callback for every inbound frame, before channel
// fan-out.
func (s *Socket) OnMessage(callback func(Message)) uint64 {
	ref := s.messageGen.next()
	s.mu.Lock()
	s.onMessage = append(s.onMessage, callbackEntry[func(Message)]{ref: ref, fn: callback})
	s.mu.Unlock()
	return ref
}

// Off removes a callback registered with OnOpen/OnClose/OnError/
// OnMessage by the ref each returned.
func (s *Socket) Off(ref uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onOpen = removeEntry(s.onOpen, ref)
	s.onClose = removeEntry(s.onClose, ref)
	s.onError = removeEntry(s.onError, ref)
	s.onMessage = removeEntry(s.onMessage, ref)
}

// ReleaseCallbacks clears every socket-level callback registry.
func (s *Socket) ReleaseCallbacks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = nil
	s.onClose = nil
	s.onError = nil
	s.onMessage = nil
}

func removeEntry[F any](entries []callbackEntry[F], ref uint64) []callbackEntry[F] {
	next := make([]callbackEntry[F], 0, len(entries))
	for _, e := range entries {
		if e.ref != ref {
			next = append(next, e)
		}
	}
	return next
}

func (s *Socket) notifyError(err error) {
	s.Logger.Printf(LogError, "socket", "%v", err)
	s.mu.RLock()
	handlers := append([]callbackEntry[func(error)](nil), s.onError...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h.fn(err)
	}
}

// OnConnOpen implements TransportHandler: on every successful connect
// the heartbeat is (re)started and queued sends are flushed.
func (s *Socket) OnConnOpen() {
	s.Logger.Printf(LogInfo, "socket", "connected to %v", s.endpoint)
	s.reconnectTimer.Reset()

	s.clearPendingHeartbeatRef()
	s.heartbeat.Start(s.sendHeartbeat)
	s.flushSendBuffer()

	s.mu.RLock()
	handlers := append([]callbackEntry[func()](nil), s.onOpen...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h.fn()
	}
}

// OnConnError implements TransportHandler: the error is surfaced to
// onError callbacks and fanned to every non-closed channel as a
// phx_error. It does not itself disconnect the transport.
func (s *Socket) OnConnError(err error) {
	s.Logger.Printf(LogError, "socket", "connection error: %v", err)
	s.notifyError(err)

	s.mu.RLock()
	channels := append([]*Channel(nil), s.channels...)
	s.mu.RUnlock()

	for _, ch := range channels {
		if ch.IsClosed() {
			continue
		}
		ch.trigger(NewMessage(ch.JoinRefPtr(), nil, ch.Topic(), ErrorEvent, emptyPayload))
	}
}

// OnConnClose implements TransportHandler: the heartbeat is stopped,
// every channel not already errored/leaving/closed is fanned a
// phx_error (not phx_close — losing the transport does not mean those
// channels are done, they're expected to rejoin once the socket
// reconnects), and, unless we initiated the close ourselves, a
// reconnect is scheduled.
func (s *Socket) OnConnClose(code int, reason string) {
	s.Logger.Printf(LogInfo, "socket", "disconnected from %v (code=%d reason=%q)", s.endpoint, code, reason)
	s.heartbeat.Stop()

	s.mu.RLock()
	handlers := append([]callbackEntry[func(int, string)](nil), s.onClose...)
	channels := append([]*Channel(nil), s.channels...)
	s.mu.RUnlock()

	for _, ch := range channels {
		if ch.IsErrored() || ch.IsLeaving() || ch.IsClosed() {
			continue
		}
		ch.trigger(NewMessage(ch.JoinRefPtr(), nil, ch.Topic(), ErrorEvent, emptyPayload))
	}
	for _, h := range handlers {
		h.fn(code, reason)
	}

	s.scheduleReconnect()
}

// OnConnMessageText implements TransportHandler.
func (s *Socket) OnConnMessageText(data string) {
	s.mu.RLock()
	serializer := s.serializer
	s.mu.RUnlock()

	msg, err := serializer.DecodeText([]byte(data))
	if err != nil {
		s.notifyError(err)
		return
	}
	s.dispatch(msg)
}

// OnConnMessageBinary implements TransportHandler.
func (s *Socket) OnConnMessageBinary(data []byte) {
	s.mu.RLock()
	serializer := s.serializer
	s.mu.RUnlock()

	msg, err := serializer.DecodeBinary(data)
	if err != nil {
		s.notifyError(err)
		return
	}
	s.dispatch(msg)
}

func (s *Socket) dispatch(msg Message) {
	if msg.Ref != nil && *msg.Ref == s.pendingHeartbeatRefSnapshot() {
		s.clearPendingHeartbeatRef()
	}

	s.mu.RLock()
	handlers := append([]callbackEntry[func(Message)](nil), s.onMessage...)
	channels := append([]*Channel(nil), s.channels...)
	s.mu.RUnlock()

	for _, h := range handlers {
		h.fn(msg)
	}

	for _, ch := range channels {
		if ch.isMember(msg) {
			ch.trigger(msg)
		}
	}
}

func (s *Socket) pendingHeartbeatRefSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingHeartbeatRef
}

func (s *Socket) clearPendingHeartbeatRef() {
	s.mu.Lock()
	s.pendingHeartbeatRef = ""
	s.mu.Unlock()
}

// sendHeartbeat fires on the heartbeat ticker. If a previous heartbeat
// was never acknowledged (no phx_reply seen for it), the connection is
// presumed dead and forcibly reconnected; otherwise a fresh heartbeat
// is sent and its ref recorded.
func (s *Socket) sendHeartbeat() {
	if !s.IsConnected() {
		return
	}

	s.mu.Lock()
	stale := s.pendingHeartbeatRef != ""
	s.mu.Unlock()

	if stale {
		s.Logger.Printf(LogWarning, "socket", "heartbeat timeout, reconnecting")
		s.mu.RLock()
		transport := s.transport
		s.mu.RUnlock()
		if transport != nil {
			_ = transport.Disconnect(CloseNormal, "heartbeat timeout")
		}
		return
	}

	ref := s.makeRef()
	s.mu.Lock()
	s.pendingHeartbeatRef = ref
	s.mu.Unlock()

	s.write(NewMessage(nil, &ref, "phoenix", HeartbeatEvent, emptyPayload), false)
}
