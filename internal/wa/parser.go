package wa

import (
	"github.com/matheus3301/wamd/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// NormalizeJID strips device/agent suffixes (e.g. "user:3@s.whatsapp.net")
// so every message from the same contact maps to one peer identifier.
func NormalizeJID(jid string) string {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

// ParseLiveMessage normalizes a live whatsmeow message event into the shape
// the ingestion pipeline consumes.
func ParseLiveMessage(evt *events.Message) *RawMessage {
	msg := evt.Message
	return &RawMessage{
		ExternalID:   evt.Info.ID,
		PeerJID:      evt.Info.Chat.ToNonAD().String(),
		SenderJID:    evt.Info.Sender.ToNonAD().String(),
		RecipientJID: evt.Info.Chat.ToNonAD().String(),
		PushName:     evt.Info.PushName,
		FromMe:       evt.Info.IsFromMe,
		Type:         detectMessageType(msg),
		Body:         extractTextBody(msg),
		Content:      extractContent(msg),
		QuotedID:     extractQuotedID(msg),
		Timestamp:    evt.Info.Timestamp,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return store.TypeUnknown
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return store.TypeText
	case msg.GetImageMessage() != nil:
		return store.TypeImage
	case msg.GetAudioMessage() != nil:
		return store.TypeAudio
	case msg.GetVideoMessage() != nil:
		return store.TypeVideo
	case msg.GetDocumentMessage() != nil:
		return store.TypeDocument
	case msg.GetStickerMessage() != nil:
		return store.TypeSticker
	case msg.GetLocationMessage() != nil:
		return store.TypeLocation
	case msg.GetReactionMessage() != nil:
		return store.TypeReaction
	case msg.GetProtocolMessage().GetType() == waE2E.ProtocolMessage_REVOKE:
		return store.TypeRevoked
	default:
		return store.TypeUnknown
	}
}

// extractContent builds the variant-by-type content payload stored alongside
// the message. Media bytes are never stored, only descriptive fields.
func extractContent(msg *waE2E.Message) map[string]any {
	if msg == nil {
		return map[string]any{}
	}
	switch {
	case msg.GetConversation() != "":
		return map[string]any{"text": msg.GetConversation()}
	case msg.GetExtendedTextMessage() != nil:
		return map[string]any{"text": msg.GetExtendedTextMessage().GetText()}
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return map[string]any{"caption": img.GetCaption(), "mimetype": img.GetMimetype()}
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		return map[string]any{"mimetype": audio.GetMimetype(), "seconds": audio.GetSeconds()}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return map[string]any{"caption": vid.GetCaption(), "mimetype": vid.GetMimetype(), "seconds": vid.GetSeconds()}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return map[string]any{"caption": doc.GetCaption(), "fileName": doc.GetFileName(), "mimetype": doc.GetMimetype()}
	case msg.GetStickerMessage() != nil:
		return map[string]any{"mimetype": msg.GetStickerMessage().GetMimetype()}
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		return map[string]any{"latitude": loc.GetDegreesLatitude(), "longitude": loc.GetDegreesLongitude(), "name": loc.GetName()}
	case msg.GetReactionMessage() != nil:
		react := msg.GetReactionMessage()
		return map[string]any{"emoji": react.GetText(), "targetMessageId": react.GetKey().GetID()}
	case msg.GetProtocolMessage().GetType() == waE2E.ProtocolMessage_REVOKE:
		return map[string]any{"revokedMessageId": msg.GetProtocolMessage().GetKey().GetID()}
	default:
		return map[string]any{}
	}
}

func extractQuotedID(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetContextInfo().GetStanzaID()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetContextInfo().GetStanzaID()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetContextInfo().GetStanzaID()
	}
	return ""
}
