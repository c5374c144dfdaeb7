// Package repository provides database operations for an
// organization's CRM field-mapping configuration.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mapping is an organization's outbound CRM integration configuration:
// where to deliver webhook events and how to rename fields in the
// outgoing payload.
type Mapping struct {
	OrganizationID uuid.UUID
	WebhookURL     *string
	FieldMapping   map[string]string
	UpdatedAt      time.Time
}

// Repository provides database operations for the crm module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new crm repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetMapping returns an organization's CRM mapping, defaulting to an
// empty mapping (no webhook configured) when no row exists yet.
func (r *Repository) GetMapping(ctx context.Context, organizationID uuid.UUID) (*Mapping, error) {
	var m Mapping
	query := `SELECT organization_id, webhook_url, field_mapping, updated_at FROM crm_mappings WHERE organization_id = $1`
	err := r.pool.QueryRow(ctx, query, organizationID).Scan(&m.OrganizationID, &m.WebhookURL, &m.FieldMapping, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Mapping{OrganizationID: organizationID, FieldMapping: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get crm mapping: %w", err)
	}
	return &m, nil
}

// PutMapping upserts an organization's CRM mapping.
func (r *Repository) PutMapping(ctx context.Context, m Mapping) error {
	query := `INSERT INTO crm_mappings (organization_id, webhook_url, field_mapping, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (organization_id) DO UPDATE SET
			webhook_url = EXCLUDED.webhook_url,
			field_mapping = EXCLUDED.field_mapping,
			updated_at = now()`
	if _, err := r.pool.Exec(ctx, query, m.OrganizationID, m.WebhookURL, m.FieldMapping); err != nil {
		return fmt.Errorf("put crm mapping: %w", err)
	}
	return nil
}
