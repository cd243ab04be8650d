package autoreply

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/matheus3301/wamd/internal/store"
)

var (
	ErrMissingKeyword = errors.New("rule keyword is required")
	ErrMissingReply   = errors.New("rule reply message is required")
)

// Normalize validates a rule and fills in defaults before it is stored.
// An empty match type means contains; regex patterns must compile.
func Normalize(r *store.Rule) error {
	if r.Keyword == "" {
		return ErrMissingKeyword
	}
	if r.ReplyMessage == "" {
		return ErrMissingReply
	}

	if r.MatchType == "" {
		r.MatchType = store.MatchContains
	}
	switch r.MatchType {
	case store.MatchExact, store.MatchContains, store.MatchStartsWith:
	case store.MatchRegex:
		if _, err := regexp.Compile(r.Keyword); err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
	default:
		return fmt.Errorf("unknown match type %q", r.MatchType)
	}
	return nil
}
