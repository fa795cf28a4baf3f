package phx

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketTransport is the default Transport, backed by
// gorilla/websocket. It owns one dedicated reader goroutine and
// serializes writes through a mutex (gorilla/websocket connections
// support one concurrent reader and one concurrent writer, not one
// writer per goroutine).
type WebsocketTransport struct {
	endpoint       string
	handler        TransportHandler
	dialer         *websocket.Dialer
	connectTimeout time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state TransportState
	done  chan struct{}
}

// NewWebsocketTransport builds a WebsocketTransport for endpoint,
// delivering events to handler. It takes a connect timeout in addition
// to the TransportFactory arguments, so it is wrapped in a closure to be
// installed with Socket.SetTransportFactory; NewSocket wires in such a
// closure by default.
func NewWebsocketTransport(endpoint string, handler TransportHandler, connectTimeout time.Duration) *WebsocketTransport {
	return &WebsocketTransport{
		endpoint:       endpoint,
		handler:        handler,
		dialer:         websocket.DefaultDialer,
		connectTimeout: connectTimeout,
		state:          TransportClosed,
	}
}

func (w *WebsocketTransport) ReadyState() TransportState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WebsocketTransport) setState(state TransportState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Connect dials the endpoint synchronously, then spawns the reader
// goroutine that feeds handler.OnConnMessageText/Binary/OnConnClose.
func (w *WebsocketTransport) Connect(headers http.Header) error {
	w.setState(TransportConnecting)

	dialer := *w.dialer
	dialer.HandshakeTimeout = w.connectTimeout

	conn, _, err := dialer.Dial(w.endpoint, headers)
	if err != nil {
		w.setState(TransportClosed)
		w.handler.OnConnError(err)
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.state = TransportOpen
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	conn.SetCloseHandler(func(code int, text string) error {
		return nil
	})

	go w.readLoop(conn, done)

	w.handler.OnConnOpen()
	return nil
}

func (w *WebsocketTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			code, reason := CloseAbnormal, err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			w.teardown(code, reason)
			return
		}

		switch kind {
		case websocket.TextMessage:
			w.handler.OnConnMessageText(string(data))
		case websocket.BinaryMessage:
			w.handler.OnConnMessageBinary(data)
		}
	}
}

// Disconnect sends a close frame (best effort) and tears the
// connection down, reporting code/reason to the handler.
func (w *WebsocketTransport) Disconnect(code int, reason string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}

	w.teardown(code, reason)
	return nil
}

func (w *WebsocketTransport) teardown(code int, reason string) {
	w.mu.Lock()
	if w.state == TransportClosed {
		w.mu.Unlock()
		return
	}
	conn, done := w.conn, w.done
	w.conn = nil
	w.done = nil
	w.state = TransportClosed
	w.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		_ = conn.Close()
	}

	w.handler.OnConnClose(code, reason)
}

// Send writes a binary frame.
func (w *WebsocketTransport) Send(data []byte) error {
	return w.writeMessage(websocket.BinaryMessage, data)
}

// SendText writes a text frame.
func (w *WebsocketTransport) SendText(data string) error {
	return w.writeMessage(websocket.TextMessage, []byte(data))
}

func (w *WebsocketTransport) writeMessage(kind int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return errNotConnected
	}
	return w.conn.WriteMessage(kind, data)
}
