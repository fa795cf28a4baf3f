package phx

import "time"

const (
	// defaultConnectTimeout bounds the handshake performed by the
	// default Transport.
	defaultConnectTimeout = 10 * time.Second

	// defaultHeartbeatInterval is the default time between heartbeats.
	defaultHeartbeatInterval = 30 * time.Second

	// defaultJoinTimeout is the default time to wait for a join reply.
	defaultJoinTimeout = 10 * time.Second

	// defaultPushTimeout is the default time to wait for any other push's reply.
	defaultPushTimeout = 10 * time.Second

	// protocolVersion is the wire version this client speaks, appended
	// to the connect URL as ?vsn=2.0.0.
	protocolVersion = "2.0.0"

	// maxWireLen is the largest join_ref/ref/topic/event that the
	// binary framing's single-byte length prefixes can carry.
	maxWireLen = 255
)

// defaultReconnectAfterFunc is the socket's backoff schedule: a stepped
// table that saturates at 5s after the 10th try.
func defaultReconnectAfterFunc(tries int) time.Duration {
	schedule := []time.Duration{10, 10, 50, 100, 150, 200, 250, 500, 1000, 2000}
	if tries >= 0 && tries < len(schedule) {
		return schedule[tries] * time.Millisecond
	}
	return 5000 * time.Millisecond
}

// defaultRejoinAfterFunc is each channel's backoff schedule: a stepped
// table that saturates at 10s after the 4th try.
func defaultRejoinAfterFunc(tries int) time.Duration {
	schedule := []time.Duration{1, 1, 2, 5}
	if tries >= 0 && tries < len(schedule) {
		return schedule[tries] * time.Second
	}
	return 10 * time.Second
}
