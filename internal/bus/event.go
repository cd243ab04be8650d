package bus

import "time"

// Topics published to real-time subscribers. Topic names and payload field
// names are part of the wire contract with UI clients.
const (
	TopicStatusUpdate       = "status_update"
	TopicQRUpdated          = "qr_updated"
	TopicNewMessage         = "new_message"
	TopicMessageUpdate      = "message_update"
	TopicConversationUpdate = "conversation_update"
)

// Event represents a domain event published on the broadcaster.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// StatusUpdate is the payload for status_update events.
type StatusUpdate struct {
	Status           string `json:"status"`
	LinkedIdentifier string `json:"linkedIdentifier,omitempty"`
	Message          string `json:"message,omitempty"`
}

// QRUpdated is the payload for qr_updated events. QRCode carries the raw
// pairing challenge; QRImage is a base64-encoded PNG rendering of it.
type QRUpdated struct {
	QRCode  string `json:"qrCode"`
	QRImage string `json:"qrImage,omitempty"`
}

// NewMessage is the payload for new_message events.
type NewMessage struct {
	Message                    any    `json:"message"`
	ConversationPeerIdentifier string `json:"conversationPeerIdentifier"`
}

// MessageUpdate is the payload for message_update events.
type MessageUpdate struct {
	ExternalMessageID          string `json:"externalMessageId"`
	Status                     string `json:"status"`
	ConversationPeerIdentifier string `json:"conversationPeerIdentifier"`
}

// ConversationUpdate is the payload for conversation_update events.
type ConversationUpdate struct {
	Conversation any `json:"conversation"`
}
