package autoreply

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

const sendTimeout = 30 * time.Second

// Sender delivers a text message to a peer.
type Sender interface {
	Send(ctx context.Context, peerJID, text string) (wa.SendReceipt, error)
}

// Recorder persists a sent message and updates the conversation summary.
type Recorder interface {
	RecordOutbound(ctx context.Context, peerJID, text string, receipt wa.SendReceipt, isAutoReply bool) (*store.Message, error)
}

// Engine matches inbound message bodies against the enabled rule set
// and fires at most one reply per message.
type Engine struct {
	db       *store.DB
	sender   Sender
	recorder Recorder
	logger   *zap.Logger
}

func NewEngine(db *store.DB, sender Sender, recorder Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		sender:   sender,
		recorder: recorder,
		logger:   logger.Named("autoreply"),
	}
}

// HandleInbound evaluates a freshly ingested inbound message. Failures
// never propagate: a reply that cannot be matched or sent is logged and
// dropped.
func (e *Engine) HandleInbound(msg *store.Message) {
	if msg.Body == "" {
		return
	}

	rules, err := e.db.ListEnabledRules()
	if err != nil {
		e.logger.Error("failed to load rules", zap.Error(err))
		return
	}

	rule := e.Evaluate(msg.Body, rules)
	if rule == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	receipt, err := e.sender.Send(ctx, msg.PeerJID, rule.ReplyMessage)
	if err != nil {
		e.logger.Warn("auto-reply send failed",
			zap.String("rule_id", rule.ID),
			zap.String("peer", msg.PeerJID),
			zap.Error(err))
		return
	}

	if _, err := e.recorder.RecordOutbound(ctx, msg.PeerJID, rule.ReplyMessage, receipt, true); err != nil {
		e.logger.Error("failed to record auto-reply",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}

	e.logger.Info("auto-reply sent",
		zap.String("rule_id", rule.ID),
		zap.String("keyword", rule.Keyword),
		zap.String("peer", msg.PeerJID))
}

// Evaluate returns the first rule matching the body, or nil. Rules must
// already be in evaluation order (priority ascending, newest first on
// ties). A rule with an invalid pattern is skipped, never fatal.
func (e *Engine) Evaluate(body string, rules []store.Rule) *store.Rule {
	for i := range rules {
		matched, err := matches(&rules[i], body)
		if err != nil {
			e.logger.Warn("skipping rule with invalid pattern",
				zap.String("rule_id", rules[i].ID),
				zap.String("keyword", rules[i].Keyword),
				zap.Error(err))
			continue
		}
		if matched {
			return &rules[i]
		}
	}
	return nil
}

func matches(r *store.Rule, body string) (bool, error) {
	if r.MatchType == store.MatchRegex {
		pattern := r.Keyword
		if !r.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(body), nil
	}

	subject, keyword := body, r.Keyword
	if !r.CaseSensitive {
		subject = strings.ToLower(subject)
		keyword = strings.ToLower(keyword)
	}

	switch r.MatchType {
	case store.MatchExact:
		return subject == keyword, nil
	case store.MatchStartsWith:
		return strings.HasPrefix(subject, keyword), nil
	default: // contains
		return strings.Contains(subject, keyword), nil
	}
}
