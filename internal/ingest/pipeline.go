package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

const snippetMaxRunes = 100

// Responder reacts to freshly ingested inbound messages. Wired after
// construction to break the pipeline -> engine -> pipeline cycle.
type Responder interface {
	HandleInbound(msg *store.Message)
}

// Pipeline turns raw protocol messages into persisted conversation and
// message records, keeps conversation summaries current, and broadcasts
// the resulting changes.
type Pipeline struct {
	db          *store.DB
	broadcaster *bus.Broadcaster
	logger      *zap.Logger

	mu        sync.RWMutex
	responder Responder

	locks keyedMutex
}

func NewPipeline(db *store.DB, broadcaster *bus.Broadcaster, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:          db,
		broadcaster: broadcaster,
		logger:      logger.Named("ingest"),
	}
}

// SetResponder installs the auto-reply hook. Must be called before the
// pipeline starts receiving batches.
func (p *Pipeline) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
}

// IngestBatch processes a batch of raw messages one by one. A failing
// message is logged and skipped; the rest of the batch still lands.
func (p *Pipeline) IngestBatch(ctx context.Context, batchType string, msgs []*wa.RawMessage) error {
	var errs []error
	for _, raw := range msgs {
		if err := p.Ingest(ctx, batchType, raw); err != nil {
			p.logger.Error("failed to ingest message",
				zap.String("external_id", raw.ExternalID),
				zap.String("peer", raw.PeerJID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ingest persists a single raw message. Re-delivery of an already stored
// external id is a no-op: nothing is written, bumped, or broadcast.
func (p *Pipeline) Ingest(ctx context.Context, batchType string, raw *wa.RawMessage) error {
	if raw.ExternalID == "" || raw.PeerJID == "" {
		return fmt.Errorf("message missing external id or peer")
	}

	// Serialize per conversation so unread accounting and summary
	// updates cannot interleave for the same peer.
	unlock := p.locks.lock(raw.PeerJID)
	defer unlock()

	conv, err := p.ensureConversation(raw)
	if err != nil {
		return err
	}

	msg, err := p.buildRecord(conv.ID, raw)
	if err != nil {
		return err
	}

	inserted, err := p.db.InsertMessage(msg)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	// Unread counts grow only for genuine inbound messages delivered
	// live; history backfill carries read threads.
	bumpUnread := !raw.FromMe && batchType == wa.BatchNotify
	if err := p.touch(conv, msg, bumpUnread); err != nil {
		return err
	}

	p.broadcaster.Publish(bus.TopicNewMessage, bus.NewMessage{
		Message:                    msg,
		ConversationPeerIdentifier: msg.PeerJID,
	})
	p.publishConversation(msg.PeerJID)

	if bumpUnread && !msg.IsAutoReply {
		p.mu.RLock()
		responder := p.responder
		p.mu.RUnlock()
		if responder != nil {
			go responder.HandleInbound(msg)
		}
	}
	return nil
}

// ApplyStatusUpdates advances delivery statuses for stored messages.
// Updates for unknown messages are dropped.
func (p *Pipeline) ApplyStatusUpdates(ctx context.Context, updates []wa.StatusUpdate) error {
	var errs []error
	for _, u := range updates {
		ok, err := p.db.UpdateMessageStatus(u.ExternalMessageID, u.NewStatus)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			p.logger.Debug("status update for unknown message",
				zap.String("external_id", u.ExternalMessageID))
			continue
		}
		p.broadcaster.Publish(bus.TopicMessageUpdate, bus.MessageUpdate{
			ExternalMessageID:          u.ExternalMessageID,
			Status:                     u.NewStatus,
			ConversationPeerIdentifier: u.PeerJID,
		})
	}
	return errors.Join(errs...)
}

// RecordOutbound persists a message sent from this session and updates
// the conversation summary without touching the unread counter.
func (p *Pipeline) RecordOutbound(ctx context.Context, peerJID, text string, receipt wa.SendReceipt, isAutoReply bool) (*store.Message, error) {
	raw := &wa.RawMessage{
		ExternalID: receipt.MessageID,
		PeerJID:    peerJID,
		SenderJID:  "",
		FromMe:     true,
		Type:       store.TypeText,
		Body:       text,
		Timestamp:  receipt.Timestamp,
	}

	unlock := p.locks.lock(peerJID)
	defer unlock()

	conv, err := p.ensureConversation(raw)
	if err != nil {
		return nil, err
	}

	msg, err := p.buildRecord(conv.ID, raw)
	if err != nil {
		return nil, err
	}
	msg.IsAutoReply = isAutoReply

	inserted, err := p.db.InsertMessage(msg)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Receipt already recorded; hand back the stored row untouched.
		return p.db.GetMessageByExternalID(msg.MsgID)
	}
	if err := p.touch(conv, msg, false); err != nil {
		return nil, err
	}

	p.broadcaster.Publish(bus.TopicNewMessage, bus.NewMessage{
		Message:                    msg,
		ConversationPeerIdentifier: msg.PeerJID,
	})
	p.publishConversation(msg.PeerJID)
	return msg, nil
}

func (p *Pipeline) ensureConversation(raw *wa.RawMessage) (*store.Conversation, error) {
	conv, err := p.db.GetConversationByPeer(raw.PeerJID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return p.db.EnsureConversation(raw.PeerJID, defaultDisplayName(raw))
}

func (p *Pipeline) buildRecord(conversationID string, raw *wa.RawMessage) (*store.Message, error) {
	content := "{}"
	if len(raw.Content) > 0 {
		encoded, err := json.Marshal(raw.Content)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		content = string(encoded)
	}

	status := ""
	if raw.FromMe {
		status = store.DeliverySent
	}

	return &store.Message{
		ConversationID: conversationID,
		MsgID:          raw.ExternalID,
		PeerJID:        raw.PeerJID,
		SenderJID:      raw.SenderJID,
		RecipientJID:   raw.RecipientJID,
		FromMe:         raw.FromMe,
		Type:           raw.Type,
		Body:           raw.Body,
		Content:        content,
		Timestamp:      raw.Timestamp.UnixMilli(),
		Status:         status,
		QuotedMsgID:    raw.QuotedID,
	}, nil
}

// touch updates the conversation summary. History backfill can deliver
// messages older than the current summary; those never regress it.
func (p *Pipeline) touch(conv *store.Conversation, msg *store.Message, bumpUnread bool) error {
	if msg.Timestamp >= conv.LastMessageAt {
		return p.db.TouchConversation(conv.PeerJID, msg.Timestamp, deriveSnippet(msg), bumpUnread)
	}
	if bumpUnread {
		return p.db.TouchConversation(conv.PeerJID, conv.LastMessageAt, conv.LastMessageSnippet, true)
	}
	return nil
}

func (p *Pipeline) publishConversation(peerJID string) {
	conv, err := p.db.GetConversationByPeer(peerJID)
	if err != nil || conv == nil {
		return
	}
	p.broadcaster.Publish(bus.TopicConversationUpdate, bus.ConversationUpdate{Conversation: conv})
}

// deriveSnippet produces the conversation preview: the text body when
// present, otherwise a bracketed type tag like [Image], truncated to
// 100 runes.
func deriveSnippet(msg *store.Message) string {
	snippet := msg.Body
	if snippet == "" {
		snippet = "[" + typeTag(msg.Type) + "]"
	}
	runes := []rune(snippet)
	if len(runes) > snippetMaxRunes {
		return string(runes[:snippetMaxRunes])
	}
	return snippet
}

func typeTag(messageType string) string {
	if messageType == "" {
		return "Unknown"
	}
	return strings.ToUpper(messageType[:1]) + messageType[1:]
}

// defaultDisplayName picks the initial conversation title: the sender's
// push name when known, otherwise the local part of the peer JID.
func defaultDisplayName(raw *wa.RawMessage) string {
	if raw.PushName != "" && !raw.FromMe {
		return raw.PushName
	}
	if i := strings.IndexByte(raw.PeerJID, '@'); i > 0 {
		return raw.PeerJID[:i]
	}
	return raw.PeerJID
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
