package events

// DefaultTopic is the revoke-event topic the upstream bus has always used for
// this gateway; kept for compatibility, overridable via configuration.
const DefaultTopic = "bordneai_revoke_device_event"

// subscribeRequest is the JSON-RPC-like subscription envelope sent once per
// connection.
type subscribeRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

// envelope is the inbound message frame. Only type "event" frames carrying
// the subscribed topic are acted on; everything else (auth handshakes,
// subscription acks, unrelated events) is ignored.
type envelope struct {
	Type  string `json:"type"`
	Event struct {
		EventType string `json:"event_type"`
		Data      struct {
			TokenToRevoke string `json:"token_to_revoke"`
		} `json:"data"`
	} `json:"event"`
}

const (
	msgTypeSubscribe = "subscribe_events"
	msgTypeEvent     = "event"
)
