package phx

import (
	"net/http"
	"sync"
)

// fakeTransport is an in-memory Transport for deterministic tests: no
// network I/O, Send/SendText just append to a buffer the test can
// inspect, and Connect/Disconnect synchronously drive the handler's
// OnConnOpen/OnConnClose.
type fakeTransport struct {
	mu          sync.Mutex
	handler     TransportHandler
	state       TransportState
	sentText    []string
	sentBinary  [][]byte
	connectErr  error
}

func newFakeTransport(_ string, handler TransportHandler) Transport {
	return &fakeTransport{handler: handler, state: TransportClosed}
}

func (f *fakeTransport) Connect(http.Header) error {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		f.handler.OnConnError(err)
		return err
	}
	f.state = TransportOpen
	f.mu.Unlock()
	f.handler.OnConnOpen()
	return nil
}

func (f *fakeTransport) Disconnect(code int, reason string) error {
	f.mu.Lock()
	f.state = TransportClosed
	f.mu.Unlock()
	f.handler.OnConnClose(code, reason)
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBinary = append(f.sentBinary, data)
	return nil
}

func (f *fakeTransport) SendText(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, data)
	return nil
}

func (f *fakeTransport) ReadyState() TransportState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sentText) == 0 {
		return ""
	}
	return f.sentText[len(f.sentText)-1]
}

func (f *fakeTransport) deliverText(data string) {
	f.handler.OnConnMessageText(data)
}

func (f *fakeTransport) deliverBinary(data []byte) {
	f.handler.OnConnMessageBinary(data)
}

// simulateRemoteClose mimics the remote end closing the connection
// without the local side having called Disconnect.
func (f *fakeTransport) simulateRemoteClose(code int, reason string) {
	f.mu.Lock()
	f.state = TransportClosed
	f.mu.Unlock()
	f.handler.OnConnClose(code, reason)
}

// transportHolder captures the most recently created fakeTransport so
// tests can reach it after calling Socket.Connect.
type transportHolder struct {
	current *fakeTransport
}

// registerChannel adds channel to socket's registry, mirroring what
// Socket.Channel does, for tests that build a Channel directly with
// newChannel so dispatch can route inbound frames to it.
func registerChannel(socket *Socket, channel *Channel) {
	socket.mu.Lock()
	socket.channels = append(socket.channels, channel)
	socket.mu.Unlock()
}

func newTestSocket(endpoint string) (*Socket, *transportHolder) {
	socket := NewSocket(endpoint)
	holder := &transportHolder{}
	socket.SetTransportFactory(func(endpoint string, handler TransportHandler) Transport {
		t := newFakeTransport(endpoint, handler).(*fakeTransport)
		holder.current = t
		return t
	})
	return socket, holder
}
