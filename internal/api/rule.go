package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/autoreply"
	"github.com/matheus3301/wamd/internal/store"
)

// RuleInput carries the writable fields of an auto-reply rule. Enabled
// is a pointer so an omitted value defaults to true on create and
// leaves the stored value alone on update.
type RuleInput struct {
	Keyword       string `json:"keyword"`
	ReplyMessage  string `json:"replyMessage"`
	MatchType     string `json:"matchType"`
	CaseSensitive bool   `json:"caseSensitive"`
	Enabled       *bool  `json:"enabled"`
	Priority      int    `json:"priority"`
}

// RuleService manages the auto-reply rule set.
type RuleService struct {
	db     *store.DB
	logger *zap.Logger
}

func NewRuleService(db *store.DB, logger *zap.Logger) *RuleService {
	return &RuleService{db: db, logger: logger.Named("rules")}
}

func (s *RuleService) List(ctx context.Context) ([]store.Rule, error) {
	return s.db.ListRules()
}

func (s *RuleService) Get(ctx context.Context, id string) (*store.Rule, error) {
	rule, err := s.db.GetRule(id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrNotFound
	}
	return rule, nil
}

func (s *RuleService) Create(ctx context.Context, in RuleInput) (*store.Rule, error) {
	rule := &store.Rule{
		Keyword:       in.Keyword,
		ReplyMessage:  in.ReplyMessage,
		MatchType:     in.MatchType,
		CaseSensitive: in.CaseSensitive,
		Enabled:       in.Enabled == nil || *in.Enabled,
		Priority:      in.Priority,
	}
	if err := autoreply.Normalize(rule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.db.CreateRule(rule); err != nil {
		return nil, err
	}
	s.logger.Info("rule created",
		zap.String("rule_id", rule.ID),
		zap.String("keyword", rule.Keyword))
	return rule, nil
}

func (s *RuleService) Update(ctx context.Context, id string, in RuleInput) (*store.Rule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.Keyword = in.Keyword
	rule.ReplyMessage = in.ReplyMessage
	rule.MatchType = in.MatchType
	rule.CaseSensitive = in.CaseSensitive
	rule.Priority = in.Priority
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	if err := autoreply.Normalize(rule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	found, err := s.db.UpdateRule(rule)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return rule, nil
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	found, err := s.db.DeleteRule(id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	s.logger.Info("rule deleted", zap.String("rule_id", id))
	return nil
}
