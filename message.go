package phx

// Event names reserved by the Phoenix Channels wire protocol.
const (
	JoinEvent      = "phx_join"
	LeaveEvent     = "phx_leave"
	ReplyEvent     = "phx_reply"
	ErrorEvent     = "phx_error"
	CloseEvent     = "phx_close"
	HeartbeatEvent = "heartbeat"
)

// lifecycleEvents are the events for which a stale join_ref causes a
// message to be dropped rather than delivered. See Channel.isMember.
var lifecycleEvents = map[string]bool{
	JoinEvent:  true,
	LeaveEvent: true,
	ReplyEvent: true,
	ErrorEvent: true,
	CloseEvent: true,
}

func isLifecycleEvent(event string) bool {
	return lifecycleEvents[event]
}

// Message is an immutable wire record: a single frame sent or received
// over the socket. Payload holds already-encoded user data (raw JSON
// bytes for the text serializer, or opaque bytes for a binary push);
// the core never interprets it beyond what the serializer requires.
type Message struct {
	JoinRef *string
	Ref     *string
	Topic   string
	Event   string
	Payload []byte
	Status  *string
}

// NewMessage builds an arbitrary-event message, used for both outbound
// pushes and inbound events that aren't replies or broadcasts.
func NewMessage(joinRef, ref *string, topic, event string, payload []byte) Message {
	return Message{JoinRef: joinRef, Ref: ref, Topic: topic, Event: event, Payload: payload}
}

// NewReply builds a reply message: event is forced to ReplyEvent and
// status is populated. Produced by the serializer when decoding a
// phx_reply frame, and synthesized locally for Push timeouts.
func NewReply(joinRef, ref *string, topic, status string, payload []byte) Message {
	return Message{JoinRef: joinRef, Ref: ref, Topic: topic, Event: ReplyEvent, Status: &status, Payload: payload}
}

// NewBroadcast builds a message with no join_ref/ref, as sent by the
// server to every subscriber of a topic.
func NewBroadcast(topic, event string, payload []byte) Message {
	return Message{Topic: topic, Event: event, Payload: payload}
}

// IsReply reports whether this message is a phx_reply envelope.
func (m Message) IsReply() bool {
	return m.Event == ReplyEvent
}

// strPtr takes the address of a string value, used by the tests to
// build Message values with optional refs.
func strPtr(s string) *string {
	return &s
}

// refEquals compares two optional wire refs for equality.
func refEquals(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
