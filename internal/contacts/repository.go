package contacts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const contactColumns = `id, external_id, name, email, normalized_email, display_phone, normalized_phone, tags, source, created_at, updated_at`

const maxNameCandidates = 50

// NewContact holds the values for an insert.
type NewContact struct {
	ExternalID      *string
	Name            string
	Email           *string
	NormalizedEmail *string
	DisplayPhone    *string
	NormalizedPhone *string
	Tags            []string
	Source          string
}

// ContactUpdate holds the columns refreshed on repeat contact. Nil leaves a column untouched.
type ContactUpdate struct {
	Name            *string
	Email           *string
	NormalizedEmail *string
	DisplayPhone    *string
	NormalizedPhone *string
	Tags            []string
}

// Repository provides data access for contacts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a contact repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a contact.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM crm_contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

// FindByExternalID returns nil when no contact carries externalID.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM crm_contacts WHERE external_id = $1`, externalID)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByEmail returns contacts with the normalized email, newest update first.
func (r *Repository) FindByEmail(ctx context.Context, normalizedEmail string) ([]Contact, error) {
	return r.queryContacts(ctx, `
		SELECT `+contactColumns+`
		FROM crm_contacts
		WHERE normalized_email = $1
		ORDER BY updated_at DESC
		LIMIT 10
	`, normalizedEmail)
}

// FindByPhoneSuffix returns contacts whose normalized phone ends with suffix.
func (r *Repository) FindByPhoneSuffix(ctx context.Context, suffix string) ([]Contact, error) {
	return r.queryContacts(ctx, `
		SELECT `+contactColumns+`
		FROM crm_contacts
		WHERE normalized_phone IS NOT NULL AND right(normalized_phone, $2) = $1
		ORDER BY updated_at DESC
		LIMIT 10
	`, suffix, len(suffix))
}

// FindByNamePrefix returns contacts whose name starts with firstName, case-insensitively.
func (r *Repository) FindByNamePrefix(ctx context.Context, firstName string) ([]Contact, error) {
	return r.queryContacts(ctx, `
		SELECT `+contactColumns+`
		FROM crm_contacts
		WHERE lower(name) LIKE $1 ESCAPE '\'
		ORDER BY updated_at DESC
		LIMIT $2
	`, escapeLike(strings.ToLower(firstName))+"%", maxNameCandidates)
}

// Create inserts a contact. A concurrent insert with the same external id returns the existing row.
func (r *Repository) Create(ctx context.Context, c NewContact) (Contact, error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crm_contacts (external_id, name, email, normalized_email, display_phone, normalized_phone, tags, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO UPDATE SET updated_at = now()
		RETURNING `+contactColumns,
		c.ExternalID, c.Name, c.Email, c.NormalizedEmail, c.DisplayPhone, c.NormalizedPhone, tags, c.Source,
	)
	return scanContact(row)
}

// Update refreshes the columns set in u.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u ContactUpdate) (Contact, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE crm_contacts SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			normalized_email = COALESCE($4, normalized_email),
			display_phone = COALESCE($5, display_phone),
			normalized_phone = COALESCE($6, normalized_phone),
			tags = COALESCE($7, tags),
			updated_at = now()
		WHERE id = $1
		RETURNING `+contactColumns,
		id, u.Name, u.Email, u.NormalizedEmail, u.DisplayPhone, u.NormalizedPhone, u.Tags,
	)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) queryContacts(ctx context.Context, sql string, args ...any) ([]Contact, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.Name, &c.Email, &c.NormalizedEmail,
		&c.DisplayPhone, &c.NormalizedPhone, &c.Tags, &c.Source, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
