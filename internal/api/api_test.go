package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/ingest"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

type fakeSender struct {
	err  error
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, peerJID, text string) (wa.SendReceipt, error) {
	if f.err != nil {
		return wa.SendReceipt{}, f.err
	}
	f.sent = append(f.sent, text)
	return wa.SendReceipt{MessageID: "SRV-1", Timestamp: time.Now()}, nil
}

func testDeps(t *testing.T) (*store.DB, *bus.Broadcaster, *ingest.Pipeline) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	broadcaster := bus.New()
	return db, broadcaster, ingest.NewPipeline(db, broadcaster, zap.NewNop())
}

func TestSendPersistsAcceptedMessage(t *testing.T) {
	db, _, pipeline := testDeps(t)
	sender := &fakeSender{}
	svc := NewMessageService(db, sender, pipeline, zap.NewNop())

	msg, err := svc.Send(context.Background(), "5511999999999@s.whatsapp.net", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !msg.FromMe || msg.Status != store.DeliverySent || msg.MsgID != "SRV-1" {
		t.Errorf("message = %+v", msg)
	}

	stored, err := db.GetMessageByExternalID("SRV-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Body != "hello" {
		t.Fatalf("stored = %+v", stored)
	}

	conv, _ := db.GetConversationByPeer("5511999999999@s.whatsapp.net")
	if conv == nil || conv.UnreadCount != 0 {
		t.Errorf("conversation = %+v, want created with zero unread", conv)
	}
}

func TestSendRejectsEmptyInput(t *testing.T) {
	db, _, pipeline := testDeps(t)
	svc := NewMessageService(db, &fakeSender{}, pipeline, zap.NewNop())

	if _, err := svc.Send(context.Background(), "peer@s.whatsapp.net", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSendFailureNotPersisted(t *testing.T) {
	db, _, pipeline := testDeps(t)
	sender := &fakeSender{err: errors.New("session not connected")}
	svc := NewMessageService(db, sender, pipeline, zap.NewNop())

	if _, err := svc.Send(context.Background(), "peer@s.whatsapp.net", "hello"); err == nil {
		t.Fatal("expected error")
	}
	msgs, err := db.ListMessages("peer@s.whatsapp.net", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %v, failed send must not be stored", msgs)
	}
}

func TestMarkReadBroadcastsAndResets(t *testing.T) {
	db, broadcaster, pipeline := testDeps(t)
	svc := NewConversationService(db, broadcaster, zap.NewNop())

	raw := &wa.RawMessage{
		ExternalID: "MSG-1", PeerJID: "peer@s.whatsapp.net", SenderJID: "peer@s.whatsapp.net",
		Type: store.TypeText, Body: "hi", Timestamp: time.Now(),
	}
	if err := pipeline.Ingest(context.Background(), wa.BatchNotify, raw); err != nil {
		t.Fatal(err)
	}

	events, unsub := broadcaster.Subscribe(bus.TopicConversationUpdate, 4)
	defer unsub()

	conv, err := svc.MarkRead(context.Background(), "peer@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", conv.UnreadCount)
	}

	select {
	case evt := <-events:
		updated := evt.Payload.(bus.ConversationUpdate).Conversation.(*store.Conversation)
		if updated.UnreadCount != 0 {
			t.Errorf("broadcast unread = %d", updated.UnreadCount)
		}
	case <-time.After(time.Second):
		t.Fatal("no conversation_update broadcast")
	}
}

func TestMarkReadUnknownPeer(t *testing.T) {
	db, broadcaster, _ := testDeps(t)
	svc := NewConversationService(db, broadcaster, zap.NewNop())

	if _, err := svc.MarkRead(context.Background(), "nobody@s.whatsapp.net"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRuleLifecycle(t *testing.T) {
	db, _, _ := testDeps(t)
	svc := NewRuleService(db, zap.NewNop())
	ctx := context.Background()

	rule, err := svc.Create(ctx, RuleInput{Keyword: "ping", ReplyMessage: "pong"})
	if err != nil {
		t.Fatal(err)
	}
	if !rule.Enabled {
		t.Error("rule should default to enabled")
	}
	if rule.MatchType != store.MatchContains {
		t.Errorf("match type = %q, want default contains", rule.MatchType)
	}

	disabled := false
	updated, err := svc.Update(ctx, rule.ID, RuleInput{
		Keyword: "ping", ReplyMessage: "pong v2", MatchType: store.MatchExact, Enabled: &disabled,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Enabled || updated.ReplyMessage != "pong v2" || updated.MatchType != store.MatchExact {
		t.Errorf("updated = %+v", updated)
	}

	if err := svc.Delete(ctx, rule.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestRuleCreateValidation(t *testing.T) {
	db, _, _ := testDeps(t)
	svc := NewRuleService(db, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Create(ctx, RuleInput{ReplyMessage: "pong"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing keyword err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Create(ctx, RuleInput{Keyword: "[bad", ReplyMessage: "x", MatchType: store.MatchRegex}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad regex err = %v, want ErrInvalidInput", err)
	}
}
