// Package repository provides database operations for channels: the
// per-organization, per-provider configuration rows that the message
// pipeline, campaigns, and journeys all send through.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel represents the channels database row.
type Channel struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Provider       string
	Name           string
	Config         map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const channelNotFoundMsg = "channel not found"

// Repository provides database operations for the channels module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new channels repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new channel.
func (r *Repository) Create(ctx context.Context, channel *Channel) error {
	config, err := json.Marshal(channel.Config)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	query := `INSERT INTO channels (id, organization_id, provider, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.pool.Exec(ctx, query, channel.ID, channel.OrganizationID, channel.Provider, channel.Name,
		config, channel.CreatedAt, channel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

// GetByID fetches a channel scoped to its organization.
func (r *Repository) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*Channel, error) {
	var channel Channel
	var config []byte
	query := `SELECT id, organization_id, provider, name, config, created_at, updated_at
		FROM channels WHERE id = $1 AND organization_id = $2`
	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(
		&channel.ID, &channel.OrganizationID, &channel.Provider, &channel.Name, &config,
		&channel.CreatedAt, &channel.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(channelNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel by id: %w", err)
	}
	if err := json.Unmarshal(config, &channel.Config); err != nil {
		return nil, fmt.Errorf("unmarshal channel config: %w", err)
	}
	return &channel, nil
}

// GetByIDAny fetches a channel by id without organization scoping, used
// only to resolve the organization_id for unauthenticated provider
// webhook ingress (the URL carries a channel id, not a bearer token).
func (r *Repository) GetByIDAny(ctx context.Context, id uuid.UUID) (*Channel, error) {
	var channel Channel
	var config []byte
	query := `SELECT id, organization_id, provider, name, config, created_at, updated_at
		FROM channels WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&channel.ID, &channel.OrganizationID, &channel.Provider, &channel.Name, &config,
		&channel.CreatedAt, &channel.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(channelNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel by id (any org): %w", err)
	}
	if err := json.Unmarshal(config, &channel.Config); err != nil {
		return nil, fmt.Errorf("unmarshal channel config: %w", err)
	}
	return &channel, nil
}

// List returns every channel configured for an organization.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID) ([]Channel, error) {
	query := `SELECT id, organization_id, provider, name, config, created_at, updated_at
		FROM channels WHERE organization_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var channel Channel
		var config []byte
		if err := rows.Scan(&channel.ID, &channel.OrganizationID, &channel.Provider, &channel.Name,
			&config, &channel.CreatedAt, &channel.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		if err := json.Unmarshal(config, &channel.Config); err != nil {
			return nil, fmt.Errorf("unmarshal channel config: %w", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return channels, nil
}
