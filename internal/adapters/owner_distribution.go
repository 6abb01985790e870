package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OwnerDistributor hands new deals of an origin to its active members in
// weighted round-robin order. Concurrent callers skip a member row another
// assignment holds, so two deals never pick the same slot.
type OwnerDistributor struct {
	pool *pgxpool.Pool
}

func NewOwnerDistributor(pool *pgxpool.Pool) *OwnerDistributor {
	return &OwnerDistributor{pool: pool}
}

// AssignOwner returns nil when the origin has no active members.
func (d *OwnerDistributor) AssignOwner(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error) {
	var userID uuid.UUID
	err := d.pool.QueryRow(ctx, `
		UPDATE crm_origin_members m
		SET assigned_count = m.assigned_count + 1, last_assigned_at = now()
		FROM (
			SELECT user_id
			FROM crm_origin_members
			WHERE origin_id = $1 AND is_active = true
			ORDER BY assigned_count::float8 / GREATEST(weight, 1) ASC, last_assigned_at ASC NULLS FIRST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) next
		WHERE m.origin_id = $1 AND m.user_id = next.user_id
		RETURNING m.user_id
	`, originID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assign owner: %w", err)
	}
	return &userID, nil
}
