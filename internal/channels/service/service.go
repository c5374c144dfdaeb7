// Package service implements the channels module's business logic:
// provider-backed channel registration, validated against the adapter
// registry so a channel can never be created for an unregistered
// provider.
package service

import (
	"context"
	"time"

	"github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
)

// Service implements channel registration and lookup.
type Service struct {
	repo      *repository.Repository
	providers *providers.Registry
}

// New creates a new channels service.
func New(repo *repository.Repository, registry *providers.Registry) *Service {
	return &Service{repo: repo, providers: registry}
}

// Create registers a new channel after checking its provider is known to
// the adapter registry.
func (s *Service) Create(ctx context.Context, organizationID uuid.UUID, provider, name string, config map[string]string) (*repository.Channel, error) {
	if _, ok := s.providers.Lookup(provider); !ok {
		return nil, apperr.Validation("unknown provider: " + provider)
	}
	if config == nil {
		config = map[string]string{}
	}

	now := time.Now().UTC()
	channel := &repository.Channel{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Provider:       provider,
		Name:           name,
		Config:         config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

// List returns every channel configured for an organization.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) ([]repository.Channel, error) {
	return s.repo.List(ctx, organizationID)
}

// GetByID returns a single channel scoped to its organization.
func (s *Service) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*repository.Channel, error) {
	return s.repo.GetByID(ctx, id, organizationID)
}
