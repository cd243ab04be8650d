package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

func testPipeline(t *testing.T) (*Pipeline, *store.DB, *bus.Broadcaster) {
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
	return NewPipeline(db, broadcaster, zap.NewNop()), db, broadcaster
}

func inbound(id, peer, body string) *wa.RawMessage {
	return &wa.RawMessage{
		ExternalID: id,
		PeerJID:    peer,
		SenderJID:  peer,
		PushName:   "Alice",
		Type:       store.TypeText,
		Body:       body,
		Timestamp:  time.Now(),
	}
}

func TestIngestCreatesConversationAndMessage(t *testing.T) {
	p, db, broadcaster := testPipeline(t)

	msgs, unsubMsgs := broadcaster.Subscribe(bus.TopicNewMessage, 4)
	defer unsubMsgs()
	convs, unsubConvs := broadcaster.Subscribe(bus.TopicConversationUpdate, 4)
	defer unsubConvs()

	raw := inbound("MSG-1", "5511999999999@s.whatsapp.net", "hello there")
	if err := p.Ingest(context.Background(), wa.BatchNotify, raw); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversationByPeer(raw.PeerJID)
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation was not created")
	}
	if conv.DisplayName != "Alice" {
		t.Errorf("display name = %q, want push name", conv.DisplayName)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", conv.UnreadCount)
	}
	if conv.LastMessageSnippet != "hello there" {
		t.Errorf("snippet = %q", conv.LastMessageSnippet)
	}

	stored, err := db.GetMessageByExternalID("MSG-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Body != "hello there" || stored.FromMe {
		t.Fatalf("stored message = %+v", stored)
	}

	select {
	case <-msgs:
	case <-time.After(time.Second):
		t.Error("no new_message broadcast")
	}
	select {
	case <-convs:
	case <-time.After(time.Second):
		t.Error("no conversation_update broadcast")
	}
}

func TestDuplicateIngestIsNoop(t *testing.T) {
	p, db, broadcaster := testPipeline(t)

	msgs, unsub := broadcaster.Subscribe(bus.TopicNewMessage, 4)
	defer unsub()

	first := inbound("MSG-1", "peer@s.whatsapp.net", "original body")
	if err := p.Ingest(context.Background(), wa.BatchNotify, first); err != nil {
		t.Fatal(err)
	}
	// Same external id re-delivered with a different body.
	dup := inbound("MSG-1", "peer@s.whatsapp.net", "tampered body")
	if err := p.Ingest(context.Background(), wa.BatchNotify, dup); err != nil {
		t.Fatal(err)
	}

	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 after duplicate delivery", conv.UnreadCount)
	}
	stored, _ := db.GetMessageByExternalID("MSG-1")
	if stored.Body != "original body" {
		t.Errorf("body = %q, duplicate must not overwrite", stored.Body)
	}

	<-msgs
	select {
	case evt := <-msgs:
		t.Errorf("unexpected second new_message broadcast: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSelfMessageDoesNotBumpUnread(t *testing.T) {
	p, db, _ := testPipeline(t)

	raw := inbound("MSG-1", "peer@s.whatsapp.net", "me from another device")
	raw.FromMe = true
	if err := p.Ingest(context.Background(), wa.BatchNotify, raw); err != nil {
		t.Fatal(err)
	}

	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for self message", conv.UnreadCount)
	}
	// Self messages still refresh the summary.
	if conv.LastMessageSnippet != "me from another device" {
		t.Errorf("snippet = %q", conv.LastMessageSnippet)
	}
}

func TestHistoryBackfillKeepsThreadRead(t *testing.T) {
	p, db, _ := testPipeline(t)

	live := inbound("MSG-NEW", "peer@s.whatsapp.net", "latest")
	if err := p.Ingest(context.Background(), wa.BatchNotify, live); err != nil {
		t.Fatal(err)
	}

	old := inbound("MSG-OLD", "peer@s.whatsapp.net", "from last week")
	old.Timestamp = time.Now().Add(-7 * 24 * time.Hour)
	if err := p.Ingest(context.Background(), wa.BatchAppend, old); err != nil {
		t.Fatal(err)
	}

	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (backfill must not bump)", conv.UnreadCount)
	}
	if conv.LastMessageSnippet != "latest" {
		t.Errorf("snippet = %q, older backfill must not regress the summary", conv.LastMessageSnippet)
	}
}

func TestSnippetDerivation(t *testing.T) {
	p, db, _ := testPipeline(t)

	long := strings.Repeat("ab", 75) // 150 runes
	raw := inbound("MSG-1", "peer@s.whatsapp.net", long)
	if err := p.Ingest(context.Background(), wa.BatchNotify, raw); err != nil {
		t.Fatal(err)
	}
	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if got := len([]rune(conv.LastMessageSnippet)); got != 100 {
		t.Errorf("snippet length = %d runes, want 100", got)
	}

	media := inbound("MSG-2", "peer@s.whatsapp.net", "")
	media.Type = store.TypeImage
	media.Timestamp = time.Now().Add(time.Second)
	if err := p.Ingest(context.Background(), wa.BatchNotify, media); err != nil {
		t.Fatal(err)
	}
	conv, _ = db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv.LastMessageSnippet != "[Image]" {
		t.Errorf("snippet = %q, want type tag for bodyless media", conv.LastMessageSnippet)
	}
}

func TestConcurrentBurstSamePeer(t *testing.T) {
	p, db, _ := testPipeline(t)

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw := inbound(fmt.Sprintf("MSG-%d", i), "peer@s.whatsapp.net", fmt.Sprintf("msg %d", i))
			if err := p.Ingest(context.Background(), wa.BatchNotify, raw); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	conv, err := db.GetConversationByPeer("peer@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != n {
		t.Errorf("unread = %d, want %d", conv.UnreadCount, n)
	}
}

func TestApplyStatusUpdates(t *testing.T) {
	p, db, broadcaster := testPipeline(t)

	receipt := wa.SendReceipt{MessageID: "OUT-1", Timestamp: time.Now()}
	if _, err := p.RecordOutbound(context.Background(), "peer@s.whatsapp.net", "hi", receipt, false); err != nil {
		t.Fatal(err)
	}

	updates, unsub := broadcaster.Subscribe(bus.TopicMessageUpdate, 4)
	defer unsub()

	err := p.ApplyStatusUpdates(context.Background(), []wa.StatusUpdate{
		{ExternalMessageID: "OUT-1", NewStatus: store.DeliveryRead, PeerJID: "peer@s.whatsapp.net"},
		{ExternalMessageID: "NEVER-SEEN", NewStatus: store.DeliveryRead, PeerJID: "peer@s.whatsapp.net"},
	})
	if err != nil {
		t.Fatal(err)
	}

	stored, _ := db.GetMessageByExternalID("OUT-1")
	if stored.Status != store.DeliveryRead {
		t.Errorf("status = %q, want %q", stored.Status, store.DeliveryRead)
	}

	select {
	case evt := <-updates:
		payload := evt.Payload.(bus.MessageUpdate)
		if payload.ExternalMessageID != "OUT-1" || payload.Status != store.DeliveryRead {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no message_update broadcast")
	}
	select {
	case evt := <-updates:
		t.Errorf("unexpected broadcast for unknown message: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecordOutbound(t *testing.T) {
	p, db, _ := testPipeline(t)

	receipt := wa.SendReceipt{MessageID: "OUT-1", Timestamp: time.Now()}
	msg, err := p.RecordOutbound(context.Background(), "peer@s.whatsapp.net", "auto hello", receipt, true)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.FromMe || !msg.IsAutoReply || msg.Status != store.DeliverySent {
		t.Errorf("message = %+v", msg)
	}

	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv == nil {
		t.Fatal("conversation was not created")
	}
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for outbound", conv.UnreadCount)
	}
	if conv.LastMessageSnippet != "auto hello" {
		t.Errorf("snippet = %q", conv.LastMessageSnippet)
	}
}

func TestRecordOutboundDuplicateIsNoop(t *testing.T) {
	p, db, broadcaster := testPipeline(t)

	msgs, unsub := broadcaster.Subscribe(bus.TopicNewMessage, 4)
	defer unsub()

	receipt := wa.SendReceipt{MessageID: "OUT-1", Timestamp: time.Now()}
	first, err := p.RecordOutbound(context.Background(), "peer@s.whatsapp.net", "hello", receipt, false)
	if err != nil {
		t.Fatal(err)
	}
	// Same protocol id recorded again, e.g. a retried caller.
	again, err := p.RecordOutbound(context.Background(), "peer@s.whatsapp.net", "hello retry", receipt, false)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.Body != "hello" {
		t.Errorf("duplicate record returned %+v, want the stored row", again)
	}

	conv, _ := db.GetConversationByPeer("peer@s.whatsapp.net")
	if conv.LastMessageSnippet != "hello" {
		t.Errorf("snippet = %q, duplicate must not re-touch the summary", conv.LastMessageSnippet)
	}

	<-msgs
	select {
	case evt := <-msgs:
		t.Errorf("unexpected second new_message broadcast: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

type capturedResponder struct {
	mu    sync.Mutex
	calls []*store.Message
	done  chan struct{}
}

func (c *capturedResponder) HandleInbound(msg *store.Message) {
	c.mu.Lock()
	c.calls = append(c.calls, msg)
	c.mu.Unlock()
	select {
	case c.done <- struct{}{}:
	default:
	}
}

func TestResponderTriggeredOnlyForLiveInbound(t *testing.T) {
	p, _, _ := testPipeline(t)
	responder := &capturedResponder{done: make(chan struct{}, 4)}
	p.SetResponder(responder)

	if err := p.Ingest(context.Background(), wa.BatchNotify, inbound("MSG-1", "peer@s.whatsapp.net", "hi")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-responder.done:
	case <-time.After(time.Second):
		t.Fatal("responder not triggered for live inbound message")
	}

	// Neither self messages nor history backfill trigger replies.
	self := inbound("MSG-2", "peer@s.whatsapp.net", "note to self")
	self.FromMe = true
	if err := p.Ingest(context.Background(), wa.BatchNotify, self); err != nil {
		t.Fatal(err)
	}
	if err := p.Ingest(context.Background(), wa.BatchAppend, inbound("MSG-3", "peer@s.whatsapp.net", "old")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.calls) != 1 {
		t.Errorf("responder calls = %d, want 1", len(responder.calls))
	}
}
