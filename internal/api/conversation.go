package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

// ConversationService exposes read and read-state operations over
// conversation records.
type ConversationService struct {
	db          *store.DB
	broadcaster *bus.Broadcaster
	logger      *zap.Logger
}

func NewConversationService(db *store.DB, broadcaster *bus.Broadcaster, logger *zap.Logger) *ConversationService {
	return &ConversationService{db: db, broadcaster: broadcaster, logger: logger.Named("conversations")}
}

// List returns conversations ordered by latest activity.
func (s *ConversationService) List(ctx context.Context, limit, offset int) ([]store.Conversation, error) {
	return s.db.ListConversations(limit, offset)
}

// Get returns a single conversation by peer identifier.
func (s *ConversationService) Get(ctx context.Context, peer string) (*store.Conversation, error) {
	conv, err := s.db.GetConversationByPeer(wa.NormalizeJID(peer))
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// MarkRead zeroes the unread counter and broadcasts the updated
// conversation.
func (s *ConversationService) MarkRead(ctx context.Context, peer string) (*store.Conversation, error) {
	conv, err := s.db.MarkConversationRead(wa.NormalizeJID(peer))
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}

	s.broadcaster.Publish(bus.TopicConversationUpdate, bus.ConversationUpdate{Conversation: conv})
	return conv, nil
}
