package store

// Session states. One session row exists per deployment; it is mutated only
// by the session manager.
const (
	StateInitializing = "INITIALIZING"
	StatePendingQR    = "PENDING_QR"
	StateConnected    = "CONNECTED"
	StateDisconnected = "DISCONNECTED"
	StateLoggedOut    = "LOGGED_OUT"
)

// Message structural types.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeLocation = "location"
	TypeReaction = "reaction"
	TypeRevoked  = "revoked"
	TypeUnknown  = "unknown"
)

// Delivery statuses for outgoing messages.
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryError     = "error"
)

// Rule match types.
const (
	MatchExact      = "exact"
	MatchContains   = "contains"
	MatchStartsWith = "startsWith"
	MatchRegex      = "regex"
)

// Session holds the single protocol session record for the deployment,
// including the opaque credential blob overwritten wholesale on every
// credentials update.
type Session struct {
	SessionID        string `json:"sessionId"`
	Status           string `json:"status"`
	CredentialBlob   []byte `json:"-"`
	LinkedIdentifier string `json:"linkedIdentifier,omitempty"`
	LastConnectedAt  int64  `json:"lastConnectedAt,omitempty"`
}

// Conversation summarizes a message thread with one peer (contact or group).
type Conversation struct {
	ID                 string `json:"id"`
	PeerJID            string `json:"peerIdentifier"`
	DisplayName        string `json:"displayName"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageAt      int64  `json:"lastMessageTimestamp"`
	LastMessageSnippet string `json:"lastMessageSnippet"`
	Archived           bool   `json:"archived"`
	Pinned             bool   `json:"pinned"`
	MutedUntil         int64  `json:"mutedUntil,omitempty"`
}

// Message is a normalized, persisted protocol message. MsgID is the
// protocol-assigned external id and is globally unique: re-inserting the
// same id is an idempotent no-op.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	MsgID          string `json:"externalMessageId"`
	PeerJID        string `json:"peerIdentifier"`
	SenderJID      string `json:"senderIdentifier"`
	RecipientJID   string `json:"recipientIdentifier"`
	FromMe         bool   `json:"fromSelf"`
	Type           string `json:"type"`
	Body           string `json:"body,omitempty"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"deliveryStatus,omitempty"`
	QuotedMsgID    string `json:"quotedMessageId,omitempty"`
	IsAutoReply    bool   `json:"isAutoReply"`
}

// Rule is a keyword-triggered auto-reply rule. Lower priority means
// evaluated first; creation time breaks ties (newest first).
type Rule struct {
	ID            string `json:"id"`
	Keyword       string `json:"keyword"`
	ReplyMessage  string `json:"replyMessage"`
	MatchType     string `json:"matchType"`
	CaseSensitive bool   `json:"caseSensitive"`
	Enabled       bool   `json:"enabled"`
	Priority      int    `json:"priority"`
	CreatedAt     int64  `json:"createdAt"`
}
