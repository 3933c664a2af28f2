package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/errors"
)

// Rule is one remote filter rule. The invariant maintained by SyncRules is
// that exactly one remote rule carries this bot's tag at any time, with the
// expected filter value.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// RulesAPI manages remote filter rules.
type RulesAPI interface {
	List(ctx context.Context) ([]Rule, error)
	Add(ctx context.Context, rule Rule) error
	Delete(ctx context.Context, ids []string) error
}

// SyncRules diffs the remote rule set against the expected filter value for
// our tag: tagged rules with a different value are deleted, and the correct
// rule is added only if none remains. Idempotent; running it twice with no
// external change leaves the remote set untouched.
func SyncRules(ctx context.Context, api RulesAPI, value, tag string, logger *zap.Logger) error {
	if value == "" || tag == "" {
		return errors.NewValidationError("RULE_REQUIRED", "rule value and tag are required")
	}

	rules, err := api.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing stream rules")
	}

	var stale []string
	haveCorrect := false
	for _, r := range rules {
		if r.Tag != tag {
			continue
		}
		if r.Value == value && !haveCorrect {
			haveCorrect = true
			continue
		}
		// Wrong value, or a duplicate of the correct rule.
		stale = append(stale, r.ID)
	}

	if len(stale) > 0 {
		if err := api.Delete(ctx, stale); err != nil {
			return errors.Wrap(err, "deleting stale stream rules")
		}
		logger.Info("deleted stale stream rules",
			zap.Strings("rule_ids", stale),
			zap.String("tag", tag))
	}

	if !haveCorrect {
		if err := api.Add(ctx, Rule{Value: value, Tag: tag}); err != nil {
			return errors.Wrap(err, "adding stream rule")
		}
		logger.Info("added stream rule",
			zap.String("value", value),
			zap.String("tag", tag))
	}

	return nil
}
