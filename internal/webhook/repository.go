package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesops_backend/platform/sanitize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, source, provider_event_type, dedupe_key, raw_payload, status, error_message,
	result_record_id, duplicate_of_id, attempts, created_at, claimed_at, processed_at`

const defaultFailedLimit = 500

// Repository stores webhook events, lead endpoints and commerce transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new webhook repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordOrSkip stores a delivery keyed by its dedupe key. The unique index
// decides the winner between concurrent deliveries; a loser is stored as a
// duplicate row pointing at the original.
func (r *Repository) RecordOrSkip(ctx context.Context, e NewEvent) (Recorded, error) {
	e = e.printable()
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (source, provider_event_type, dedupe_key, raw_payload, status)
		VALUES ($1, $2, $3, $4, 'received')
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id
	`, e.Source, e.ProviderEventType, e.DedupeKey, []byte(e.RawPayload)).Scan(&id)
	if err == nil {
		return Recorded{EventID: id, IsNew: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Recorded{}, fmt.Errorf("insert webhook event: %w", err)
	}

	original, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE dedupe_key = $1`, e.DedupeKey))
	if err != nil {
		return Recorded{}, fmt.Errorf("load original event: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (source, provider_event_type, raw_payload, status, result_record_id, duplicate_of_id, processed_at)
		VALUES ($1, $2, $3, 'duplicate', $4, $5, now())
		RETURNING id
	`, e.Source, e.ProviderEventType, []byte(e.RawPayload), original.ResultRecordID, original.ID).Scan(&id)
	if err != nil {
		return Recorded{}, fmt.Errorf("insert duplicate event: %w", err)
	}
	return Recorded{EventID: id, IsNew: false, Original: &original}, nil
}

// RecordTerminal stores an event that is final on arrival (rejected or ignored).
// It carries no dedupe key.
func (r *Repository) RecordTerminal(ctx context.Context, e NewEvent, c Completion) (uuid.UUID, error) {
	e = e.printable()
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (source, provider_event_type, raw_payload, status, error_message, result_record_id, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id
	`, e.Source, e.ProviderEventType, []byte(e.RawPayload), c.Status, nullable(c.ErrorMessage), nullable(c.ResultRecordID)).Scan(&id)
	return id, err
}

// Transition moves an event from one of the allowed statuses to next.
// It reports false when the event was not in an allowed status. Entering
// processing stamps claimed_at.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []string, next string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $3,
			claimed_at = CASE WHEN $3::text = 'processing' THEN now() ELSE claimed_at END
		WHERE id = $1 AND status = ANY($2)
	`, id, from, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the terminal status of an in-flight event.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, c Completion) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $2,
			result_record_id = COALESCE($3, result_record_id),
			error_message = $4,
			processed_at = now()
		WHERE id = $1 AND status IN ('received', 'processing')
	`, id, c.Status, nullable(c.ResultRecordID), nullable(c.ErrorMessage))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimForReplay moves an error event, or an in-flight event claimed before
// staleBefore, to processing and returns it. It returns nil when the event is
// not replayable. The claim refreshes claimed_at, so two replays never run at
// once.
func (r *Repository) ClaimForReplay(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `
		UPDATE webhook_events
		SET status = 'processing', attempts = attempts + 1, error_message = NULL, claimed_at = now()
		WHERE id = $1 AND (`+replayableCondition+`)
		RETURNING `+eventColumns, id, staleTimestamp(staleBefore)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEvent fetches an event.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	return e, err
}

// replayableCondition matches error events and events stuck in flight since
// before the timestamp in $2. A NULL $2 disables the in-flight branch.
const replayableCondition = `status = 'error'
	OR ($2::timestamptz IS NOT NULL
		AND status IN ('received', 'processing')
		AND COALESCE(claimed_at, created_at) < $2::timestamptz)`

// ListFailed returns replayable events, oldest first.
func (r *Repository) ListFailed(ctx context.Context, f FailedFilter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFailedLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE ($1::int = 0 OR created_at >= now() - make_interval(days => $1::int))
			AND (`+replayableCondition+`)
			AND ($3::text = '' OR to_char(created_at, 'YYYY-MM') = $3)
		ORDER BY created_at ASC
		LIMIT $4
	`, f.DaysBack, staleTimestamp(f.StaleBefore), f.YearMonth, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEndpointBySlug returns an active lead endpoint.
func (r *Repository) GetEndpointBySlug(ctx context.Context, slug string) (Endpoint, error) {
	var e Endpoint
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, origin_id, stage_id, required_fields, auth_header_name, auth_header_value,
			tags, is_active, leads_received, last_lead_at
		FROM webhook_endpoints
		WHERE slug = $1 AND is_active = true
	`, strings.ToLower(slug)).Scan(
		&e.ID, &e.Slug, &e.Name, &e.OriginID, &e.StageID, &e.RequiredFields, &e.AuthHeaderName,
		&e.AuthHeaderValue, &e.Tags, &e.IsActive, &e.LeadsReceived, &e.LastLeadAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrEndpointNotFound
	}
	return e, err
}

// IncrementLeadsReceived bumps the endpoint counter in storage.
func (r *Repository) IncrementLeadsReceived(ctx context.Context, endpointID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET leads_received = leads_received + 1, last_lead_at = now()
		WHERE id = $1
	`, endpointID)
	return err
}

// InsertTransaction stores a transaction once per dedupe key. On collision the
// existing row is returned with created=false.
func (r *Repository) InsertTransaction(ctx context.Context, t NewTransaction) (Transaction, bool, error) {
	t.DedupeKey = sanitize.Printable(t.DedupeKey)
	var eventID *uuid.UUID
	if t.EventID != uuid.Nil {
		eventID = &t.EventID
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO commerce_transactions (dedupe_key, provider, product_name, product_category, gross_value,
			net_value, customer_email, customer_phone, sale_date, status, contact_id, webhook_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+transactionColumns,
		t.DedupeKey, t.Provider, sanitize.Printable(t.ProductName), sanitize.Printable(t.ProductCategory), t.GrossValue, t.NetValue,
		nullable(t.CustomerEmail), nullable(t.CustomerPhone), t.SaleDate, t.Status, t.ContactID, eventID,
	)
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, err
	}

	tx, err = scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM commerce_transactions WHERE dedupe_key = $1`, t.DedupeKey))
	if err != nil {
		return Transaction{}, false, fmt.Errorf("load existing transaction: %w", err)
	}
	return tx, false, nil
}

// CategorizeProduct returns the category of the highest-priority keyword
// contained in the product name, or "" when none matches.
func (r *Repository) CategorizeProduct(ctx context.Context, productName string) (string, error) {
	var category string
	err := r.pool.QueryRow(ctx, `
		SELECT category
		FROM commerce_products
		WHERE position(lower(keyword) IN lower($1)) > 0
		ORDER BY priority DESC, length(keyword) DESC
		LIMIT 1
	`, productName).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return category, err
}

const transactionColumns = `id, dedupe_key, provider, product_name, product_category, gross_value, net_value,
	customer_email, customer_phone, sale_date, status, contact_id, webhook_event_id, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.DedupeKey, &t.Provider, &t.ProductName, &t.ProductCategory, &t.GrossValue, &t.NetValue,
		&t.CustomerEmail, &t.CustomerPhone, &t.SaleDate, &t.Status, &t.ContactID, &t.EventID, &t.CreatedAt,
	)
	return t, err
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	var raw []byte
	err := row.Scan(
		&e.ID, &e.Source, &e.ProviderEventType, &e.DedupeKey, &raw, &e.Status, &e.ErrorMessage,
		&e.ResultRecordID, &e.DuplicateOfID, &e.Attempts, &e.CreatedAt, &e.ClaimedAt, &e.ProcessedAt,
	)
	e.RawPayload = raw
	return e, err
}

// printable clears the text columns of bytes Postgres rejects. The raw body
// goes to a bytea column untouched.
func (e NewEvent) printable() NewEvent {
	e.Source = sanitize.Printable(e.Source)
	e.ProviderEventType = sanitize.Printable(e.ProviderEventType)
	e.DedupeKey = sanitize.Printable(e.DedupeKey)
	return e
}

func staleTimestamp(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullable(value string) *string {
	value = sanitize.Printable(value)
	if value == "" {
		return nil
	}
	return &value
}
