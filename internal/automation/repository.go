package automation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RuleRepository reads stage_automation_rules.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a rule repository.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// FindRule returns the highest-priority active rule for the trigger. Rules bound
// to the exact product category win over category-less rules of equal priority.
func (r *RuleRepository) FindRule(ctx context.Context, source, category string) (*Rule, error) {
	var rule Rule
	err := r.pool.QueryRow(ctx, `
		SELECT id, trigger_source, product_category, origin_id, target_stage_name, notify_owner, priority
		FROM stage_automation_rules
		WHERE is_active = true
			AND trigger_source = $1
			AND (product_category IS NULL OR lower(product_category) = lower($2))
		ORDER BY priority DESC, (product_category IS NULL) ASC
		LIMIT 1
	`, source, category).Scan(
		&rule.ID, &rule.TriggerSource, &rule.ProductCategory, &rule.OriginID,
		&rule.TargetStageName, &rule.NotifyOwner, &rule.Priority,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
