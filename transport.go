package phx

import "net/http"

// TransportState mirrors the WebSocket spec's readyState.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportOpen
	TransportClosing
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosing:
		return "closing"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes from RFC 6455 used by the core: CloseNormal for closes
// the client initiates, CloseAbnormal for a connection lost without a
// close frame. Whether a close triggers a reconnect does not depend on
// the code; it depends on whether Socket.Disconnect initiated it.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Transport is the capability the Socket requires of its underlying
// wire connection. The concrete WebSocket implementation (TLS, HTTP
// upgrade, frame I/O) lives behind this interface; the default is
// NewWebsocketTransport (websocket.go), backed by gorilla/websocket.
type Transport interface {
	Connect(headers http.Header) error
	Disconnect(code int, reason string) error
	Send(data []byte) error
	SendText(data string) error
	ReadyState() TransportState
}

// TransportHandler is the set of delegate callbacks a Transport invokes
// on its owner as events occur. Socket implements this interface.
type TransportHandler interface {
	OnConnOpen()
	OnConnError(err error)
	OnConnMessageText(data string)
	OnConnMessageBinary(data []byte)
	OnConnClose(code int, reason string)
}

// TransportFactory builds a Transport bound to the given endpoint and
// handler. Socket calls this once per Connect.
type TransportFactory func(endpoint string, handler TransportHandler) Transport
