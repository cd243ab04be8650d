package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// SendReceipt holds the protocol identifiers of a sent message.
type SendReceipt struct {
	MessageID string
	Timestamp time.Time
}

// Adapter wraps the whatsmeow client and translates its callback-style events
// into the single inbound event channel the session manager consumes.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	events    chan Event
}

// NewAdapter creates the protocol adapter backed by the whatsmeow device
// store at dbPath. botName is shown on the phone's linked devices list.
func NewAdapter(ctx context.Context, dbPath, botName string, logger *zap.Logger) (*Adapter, error) {
	wastore.SetOSInfo(botName, [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	a := &Adapter{
		client:    client,
		container: container,
		logger:    logger,
		events:    make(chan Event, 256),
	}
	client.AddEventHandler(a.handleEvent)
	return a, nil
}

// Events returns the inbound protocol event channel. A single worker must
// drain it; events are pushed in arrival order.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// HasCredentials reports whether the device store holds a registered device.
func (a *Adapter) HasCredentials() bool {
	return a.client.Store.ID != nil
}

// Connect opens the protocol socket. When no credentials are stored yet, the
// pairing QR flow is started first and challenges are forwarded as events.
func (a *Adapter) Connect() error {
	if !a.HasCredentials() {
		qrChan, err := a.client.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go a.forwardQR(qrChan)
	}
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect closes the protocol socket without invalidating credentials.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials on the endpoint.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a text message to the given peer. Returns the protocol
// identifiers of the sent message.
func (a *Adapter) SendText(ctx context.Context, peerJID, text string) (SendReceipt, error) {
	to, err := types.ParseJID(peerJID)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return SendReceipt{}, fmt.Errorf("send message: %w", err)
	}
	return SendReceipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// LinkedIdentifier returns the phone number of the linked device, or empty.
func (a *Adapter) LinkedIdentifier() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

func (a *Adapter) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			a.events <- QRChallenge{Code: item.Code}
		case "success":
			// PairSuccess and Connected events follow on the main handler.
		case "timeout":
			a.events <- ConnectionClosed{Reason: CloseQRTimeout, Message: "QR code timeout"}
		default:
			if item.Error != nil {
				a.events <- ConnectionClosed{Reason: CloseUnknown, Message: item.Error.Error()}
			}
		}
	}
}

func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		a.events <- CredentialsUpdated{Blob: a.credentialSnapshot()}
	case *events.Connected:
		a.events <- CredentialsUpdated{Blob: a.credentialSnapshot()}
		a.events <- ConnectionOpen{LinkedIdentifier: a.LinkedIdentifier()}
	case *events.LoggedOut:
		a.events <- ConnectionClosed{Reason: CloseLoggedOut, Message: evt.Reason.String()}
	case *events.StreamReplaced:
		a.events <- ConnectionClosed{Reason: CloseStreamReplaced, Message: "stream replaced by another client"}
	case *events.Disconnected:
		a.events <- ConnectionClosed{Reason: CloseNetwork}
	case *events.Message:
		a.events <- InboundMessages{
			BatchType: BatchNotify,
			Messages:  []*RawMessage{ParseLiveMessage(evt)},
		}
	case *events.HistorySync:
		if msgs := parseHistorySync(evt); len(msgs) > 0 {
			a.events <- InboundMessages{BatchType: BatchAppend, Messages: msgs}
		}
	case *events.Receipt:
		if updates := parseReceipt(evt); len(updates) > 0 {
			a.events <- DeliveryStatusUpdates{Updates: updates}
		}
	}
}

// credentialSnapshot serializes the linked-device identity into the opaque
// blob the manager persists. The signal keys themselves stay in the whatsmeow
// device store; the blob mirrors what is needed to recognize the pairing.
func (a *Adapter) credentialSnapshot() []byte {
	snapshot := map[string]any{
		"platform":  a.client.Store.Platform,
		"pushName":  a.client.Store.PushName,
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if a.client.Store.ID != nil {
		snapshot["deviceId"] = a.client.Store.ID.String()
	}
	blob, err := json.Marshal(snapshot)
	if err != nil {
		a.logger.Warn("failed to serialize credential snapshot", zap.Error(err))
		return nil
	}
	return blob
}

func parseHistorySync(evt *events.HistorySync) []*RawMessage {
	data := evt.Data
	if data == nil {
		return nil
	}

	var msgs []*RawMessage
	for _, conv := range data.GetConversations() {
		chatJID := conv.GetID()
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			inner := wmsg.GetMessage()
			// Direct chats carry no participant key; the sender is the peer.
			sender := wmsg.GetKey().GetParticipant()
			if sender == "" && !wmsg.GetKey().GetFromMe() {
				sender = chatJID
			}
			msgs = append(msgs, &RawMessage{
				ExternalID:   wmsg.GetKey().GetID(),
				PeerJID:      NormalizeJID(chatJID),
				SenderJID:    NormalizeJID(sender),
				RecipientJID: NormalizeJID(chatJID),
				FromMe:       wmsg.GetKey().GetFromMe(),
				Type:         detectMessageType(inner),
				Body:         extractTextBody(inner),
				Content:      extractContent(inner),
				// History sync reports epoch seconds.
				Timestamp: time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
			})
		}
	}
	return msgs
}

func parseReceipt(evt *events.Receipt) []StatusUpdate {
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		status = "read"
	default:
		return nil
	}

	updates := make([]StatusUpdate, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		updates = append(updates, StatusUpdate{
			ExternalMessageID: id,
			NewStatus:         status,
			PeerJID:           evt.Chat.ToNonAD().String(),
		})
	}
	return updates
}
