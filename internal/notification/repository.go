package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewNotification is an in-app notification row.
type NewNotification struct {
	UserID       uuid.UUID
	Title        string
	Content      string
	ResourceID   *uuid.UUID
	ResourceType string
	Category     string
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertNotification(ctx context.Context, n NewNotification) error {
	category := n.Category
	if category == "" {
		category = categoryInfo
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO crm_notifications (user_id, title, content, resource_id, resource_type, category)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, n.UserID, n.Title, n.Content, n.ResourceID, n.ResourceType, category)
	return err
}

// OwnerEmail returns "" when the member has no address on file.
func (r *Repository) OwnerEmail(ctx context.Context, originID, userID uuid.UUID) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `
		SELECT email FROM crm_origin_members WHERE origin_id = $1 AND user_id = $2
	`, originID, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return email, err
}

func (r *Repository) ContactName(ctx context.Context, contactID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM crm_contacts WHERE id = $1`, contactID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func (r *Repository) OriginName(ctx context.Context, originID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM crm_origins WHERE id = $1`, originID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}
