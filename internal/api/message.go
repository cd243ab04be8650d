package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

// Sender delivers a text message through the live session.
type Sender interface {
	Send(ctx context.Context, peerJID, text string) (wa.SendReceipt, error)
}

// Recorder persists an outbound message after the protocol accepted it.
type Recorder interface {
	RecordOutbound(ctx context.Context, peerJID, text string, receipt wa.SendReceipt, isAutoReply bool) (*store.Message, error)
}

// MessageService exposes message history and sending.
type MessageService struct {
	db       *store.DB
	sender   Sender
	recorder Recorder
	logger   *zap.Logger
}

func NewMessageService(db *store.DB, sender Sender, recorder Recorder, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, sender: sender, recorder: recorder, logger: logger.Named("messages")}
}

// List returns messages for a peer, newest first, paginated by the
// timestamp of the oldest message already seen.
func (s *MessageService) List(ctx context.Context, peer string, beforeTs int64, limit int) ([]store.Message, error) {
	return s.db.ListMessages(wa.NormalizeJID(peer), beforeTs, limit)
}

// Send delivers a text message and persists it once the protocol has
// assigned it an id. The message is not stored if delivery fails.
func (s *MessageService) Send(ctx context.Context, peer, text string) (*store.Message, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty message body", ErrInvalidInput)
	}
	jid := wa.NormalizeJID(peer)
	if jid == "" {
		return nil, fmt.Errorf("%w: empty peer identifier", ErrInvalidInput)
	}

	receipt, err := s.sender.Send(ctx, jid, text)
	if err != nil {
		return nil, err
	}

	msg, err := s.recorder.RecordOutbound(ctx, jid, text, receipt, false)
	if err != nil {
		// Delivered but not persisted; the id is in the log for manual
		// reconciliation.
		s.logger.Error("sent message could not be persisted",
			zap.String("external_id", receipt.MessageID),
			zap.String("peer", jid),
			zap.Error(err))
		return nil, err
	}
	return msg, nil
}
