package model

import "encoding/json"

// InboundMessage is one message received on a live connection, together
// with the quota hints resolved by the authorizer at handshake time.
type InboundMessage struct {
	TenantID          string
	SessionID         string
	ConnectionID      string
	RequestID         string
	Body              []byte
	MessagesPerMinute int64
	SessionTTLSeconds int64
	Queue             string // optional source-queue tag for brokered ingestion
}

// ThrottleNotice is sent to the originating connection only when its
// message was dropped by the message-rate quota.
type ThrottleNotice struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
	RequestID    string `json:"requestId"`
}

// NewThrottleNotice builds the wire payload for a throttled message.
func NewThrottleNotice(connectionID, requestID string) ThrottleNotice {
	return ThrottleNotice{
		Message:      "Too Many Requests",
		ConnectionID: connectionID,
		RequestID:    requestID,
	}
}

// Envelope wraps the original message body with its session coordinates.
// Every member of the session receives it, including the sender, which is
// how a sender's other open connections observe their own messages.
type Envelope struct {
	Message      json.RawMessage `json:"message"`
	TenantID     string          `json:"tenantId"`
	SessionID    string          `json:"sessionId"`
	ConnectionID string          `json:"connectionId"`
	Queue        string          `json:"queue,omitempty"`
}
