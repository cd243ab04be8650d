package wa

import "time"

// Event is a protocol event consumed by the session manager. Concrete types
// below are pushed onto the adapter's single events channel in arrival order.
type Event any

// QRChallenge is emitted when the endpoint requires pairing via QR code.
type QRChallenge struct {
	Code string
}

// ConnectionOpen is emitted when the protocol socket is authenticated and live.
type ConnectionOpen struct {
	LinkedIdentifier string
}

// ConnectionClosed is emitted when the protocol socket drops.
type ConnectionClosed struct {
	Reason  CloseReason
	Message string
}

// CredentialsUpdated carries the opaque credential blob to persist. Emitted
// whenever the protocol layer rotates or refreshes session credentials.
type CredentialsUpdated struct {
	Blob []byte
}

// Batch types for inbound message batches.
const (
	BatchNotify = "notify"
	BatchAppend = "append"
)

// InboundMessages carries a batch of normalized protocol messages.
type InboundMessages struct {
	BatchType string
	Messages  []*RawMessage
}

// DeliveryStatusUpdates carries per-message delivery status changes reported
// by the endpoint.
type DeliveryStatusUpdates struct {
	Updates []StatusUpdate
}

// StatusUpdate is a single delivery status change.
type StatusUpdate struct {
	ExternalMessageID string
	NewStatus         string
	PeerJID           string
}

// RawMessage is a protocol message normalized for ingestion.
type RawMessage struct {
	ExternalID   string
	PeerJID      string
	SenderJID    string
	RecipientJID string
	PushName     string
	FromMe       bool
	Type         string
	Body         string
	Content      map[string]any
	QuotedID     string
	Timestamp    time.Time
}

// CloseReason classifies why the connection dropped. Terminal reasons mean
// the stored credentials can no longer be resumed and a fresh QR bootstrap
// is required; everything else is transient and worth reconnecting for.
type CloseReason string

const (
	CloseLoggedOut          CloseReason = "logged_out"
	CloseCredentialsInvalid CloseReason = "credentials_invalid"
	CloseStreamReplaced     CloseReason = "stream_replaced"
	CloseQRTimeout          CloseReason = "qr_timeout"
	CloseNetwork            CloseReason = "network"
	CloseUnknown            CloseReason = "unknown"
)

// Terminal reports whether the reason rules out a silent reconnect.
func (r CloseReason) Terminal() bool {
	switch r {
	case CloseLoggedOut, CloseCredentialsInvalid:
		return true
	}
	return false
}
