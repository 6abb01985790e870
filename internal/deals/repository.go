package deals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dealColumns = `id, external_id, contact_id, origin_id, stage_id, owner_id, value, custom_fields, is_archived, created_at, updated_at`

// Activity is an immutable audit row on a deal.
type Activity struct {
	DealID        uuid.UUID
	Kind          string
	FromStageID   *uuid.UUID
	ToStageID     *uuid.UUID
	TriggerSource string
	RawEventRef   string
	Metadata      map[string]any
}

// Repository provides data access for deals, stages and deal activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a deal repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindRecentDeal returns the newest deal of the pair created at or after since.
func (r *Repository) FindRecentDeal(ctx context.Context, contactID, originID uuid.UUID, since time.Time) (*Deal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+dealColumns+`
		FROM crm_deals
		WHERE contact_id = $1 AND origin_id = $2 AND created_at >= $3 AND is_archived = false
		ORDER BY created_at DESC
		LIMIT 1
	`, contactID, originID, since)
	d, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// HasContractPaidDeal reports whether the contact already has a deal in a contract-paid stage of the origin.
func (r *Repository) HasContractPaidDeal(ctx context.Context, contactID, originID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM crm_deals d
			JOIN crm_stages s ON s.id = d.stage_id
			WHERE d.contact_id = $1 AND d.origin_id = $2 AND s.is_contract_paid = true
		)
	`, contactID, originID).Scan(&exists)
	return exists, err
}

// Insert creates a deal.
func (r *Repository) Insert(ctx context.Context, d NewDeal) (Deal, error) {
	fields := d.CustomFields
	if fields == nil {
		fields = map[string]any{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crm_deals (external_id, contact_id, origin_id, stage_id, owner_id, value, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+dealColumns,
		d.ExternalID, d.ContactID, d.OriginID, d.StageID, d.OwnerID, d.Value, fields,
	)
	return scanDeal(row)
}

// SetOwner records the owner assigned to a deal.
func (r *Repository) SetOwner(ctx context.Context, dealID, ownerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE crm_deals SET owner_id = $2, updated_at = now()
		WHERE id = $1
	`, dealID, ownerID)
	return err
}

// GetByID fetches a deal.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM crm_deals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, ErrDealNotFound
	}
	return d, err
}

// ListOpenDeals returns the contact's non-archived deals that are not yet in a
// contract-paid stage, optionally limited to one origin.
func (r *Repository) ListOpenDeals(ctx context.Context, contactID uuid.UUID, originID *uuid.UUID) ([]Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.external_id, d.contact_id, d.origin_id, d.stage_id, d.owner_id, d.value,
			d.custom_fields, d.is_archived, d.created_at, d.updated_at
		FROM crm_deals d
		LEFT JOIN crm_stages s ON s.id = d.stage_id
		WHERE d.contact_id = $1
			AND d.is_archived = false
			AND COALESCE(s.is_contract_paid, false) = false
			AND ($2::uuid IS NULL OR d.origin_id = $2)
		ORDER BY d.created_at DESC
	`, contactID, originID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStage moves a deal. It only applies when the deal is still in fromStage,
// so a concurrent move is reported as false instead of being overwritten.
func (r *Repository) UpdateStage(ctx context.Context, dealID uuid.UUID, fromStage *uuid.UUID, toStage uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crm_deals
		SET stage_id = $3, updated_at = now()
		WHERE id = $1 AND stage_id IS NOT DISTINCT FROM $2
	`, dealID, fromStage, toStage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindStageByName looks a stage up by case-insensitive name inside an origin.
func (r *Repository) FindStageByName(ctx context.Context, originID uuid.UUID, name string) (*Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, origin_id, name, position, is_contract_paid
		FROM crm_stages
		WHERE origin_id = $1 AND lower(name) = lower($2) AND is_active = true
		LIMIT 1
	`, originID, name).Scan(&s.ID, &s.OriginID, &s.Name, &s.Position, &s.IsContractPaid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// StageBelongsToOrigin reports whether stageID is an active stage of originID.
func (r *Repository) StageBelongsToOrigin(ctx context.Context, stageID, originID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM crm_stages WHERE id = $1 AND origin_id = $2 AND is_active = true)
	`, stageID, originID).Scan(&ok)
	return ok, err
}

// FirstStage returns the lowest-position active stage of the origin.
func (r *Repository) FirstStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error) {
	return r.optionalID(ctx, `
		SELECT id FROM crm_stages
		WHERE origin_id = $1 AND is_active = true
		ORDER BY position ASC
		LIMIT 1
	`, originID)
}

// FirstLegacyStage returns the origin's configured legacy stage, or the first
// row of legacy_pipeline_stages.
func (r *Repository) FirstLegacyStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error) {
	return r.optionalID(ctx, `
		SELECT stage_id FROM (
			SELECT o.legacy_stage_id AS stage_id, 0 AS rank, 0 AS sort_order
			FROM crm_origins o
			WHERE o.id = $1 AND o.legacy_stage_id IS NOT NULL
			UNION ALL
			SELECT l.stage_id, 1 AS rank, l.sort_order
			FROM legacy_pipeline_stages l
			WHERE l.origin_id = $1
		) candidates
		ORDER BY rank, sort_order
		LIMIT 1
	`, originID)
}

// InsertActivity appends an audit row.
func (r *Repository) InsertActivity(ctx context.Context, a Activity) error {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO crm_deal_activities (deal_id, kind, from_stage_id, to_stage_id, trigger_source, raw_event_ref, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.DealID, a.Kind, a.FromStageID, a.ToStageID, a.TriggerSource, a.RawEventRef, metadata)
	return err
}

func (r *Repository) optionalID(ctx context.Context, sql string, args ...any) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID, &d.ExternalID, &d.ContactID, &d.OriginID, &d.StageID, &d.OwnerID,
		&d.Value, &d.CustomFields, &d.IsArchived, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}
