// Package repository provides database operations for contacts,
// conversations, and messages (C1 Message Pipeline).
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

// Contact represents the contacts database row.
type Contact struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	ChannelID        uuid.UUID
	SenderExternalID string
	Phone            *string
	Email            *string
	Name             *string
	Tags             []string
	Metadata         map[string]any
	CreatedAt        time.Time
}

// Conversation represents the conversations database row.
type Conversation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ContactID      uuid.UUID
	ChannelID      uuid.UUID
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Message represents the messages database row. Status is one of
// pending|sent|delivered|read|failed, monotonic per spec.md I1.
type Message struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	ConversationID    uuid.UUID
	ChannelID         uuid.UUID
	Direction         string // in|out
	Text              string
	Status            string
	ExternalID        *string
	ProviderMessageID *string
	CampaignSendID    *uuid.UUID
	JourneyRunStepID  *uuid.UUID
	Attempts          int
	Error             *string
	ReceivedAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	messageNotFoundMsg      = "message not found"
	contactNotFoundMsg      = "contact not found"
	conversationNotFoundMsg = "conversation not found"
)

// Repository provides database operations for the messaging module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new messaging repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetContactBySenderExternalID finds a contact matching the channel's
// identity space, per spec.md's "Contact match order" normalization
// rule.
func (r *Repository) GetContactBySenderExternalID(ctx context.Context, organizationID, channelID uuid.UUID, senderExternalID string) (*Contact, error) {
	var c Contact
	var metadata []byte
	query := `SELECT id, organization_id, channel_id, sender_external_id, phone, email, name, tags, metadata, created_at
		FROM contacts WHERE organization_id = $1 AND channel_id = $2 AND sender_external_id = $3`
	err := r.pool.QueryRow(ctx, query, organizationID, channelID, senderExternalID).Scan(
		&c.ID, &c.OrganizationID, &c.ChannelID, &c.SenderExternalID, &c.Phone, &c.Email, &c.Name,
		&c.Tags, &metadata, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(contactNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by sender external id: %w", err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal contact metadata: %w", err)
	}
	return &c, nil
}

// GetContactByID fetches a contact scoped to its organization.
func (r *Repository) GetContactByID(ctx context.Context, id, organizationID uuid.UUID) (*Contact, error) {
	var c Contact
	var metadata []byte
	query := `SELECT id, organization_id, channel_id, sender_external_id, phone, email, name, tags, metadata, created_at
		FROM contacts WHERE id = $1 AND organization_id = $2`
	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(
		&c.ID, &c.OrganizationID, &c.ChannelID, &c.SenderExternalID, &c.Phone, &c.Email, &c.Name,
		&c.Tags, &metadata, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(contactNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by id: %w", err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal contact metadata: %w", err)
	}
	return &c, nil
}

// CreateContact inserts a new contact.
func (r *Repository) CreateContact(ctx context.Context, c *Contact) error {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal contact metadata: %w", err)
	}
	query := `INSERT INTO contacts (id, organization_id, channel_id, sender_external_id, phone, email, name, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (organization_id, channel_id, sender_external_id) DO NOTHING`
	_, err = r.pool.Exec(ctx, query, c.ID, c.OrganizationID, c.ChannelID, c.SenderExternalID,
		c.Phone, c.Email, c.Name, c.Tags, metadata, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// GetOrCreateConversation reuses the single (contact, channel)
// conversation or creates it, per spec.md's normalization rules.
func (r *Repository) GetOrCreateConversation(ctx context.Context, organizationID, contactID, channelID uuid.UUID, at time.Time) (*Conversation, error) {
	query := `INSERT INTO conversations (id, organization_id, contact_id, channel_id, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (contact_id, channel_id) DO UPDATE SET last_activity_at = conversations.last_activity_at
		RETURNING id, organization_id, contact_id, channel_id, last_activity_at, created_at`
	var conv Conversation
	err := r.pool.QueryRow(ctx, query, uuid.New(), organizationID, contactID, channelID, at).Scan(
		&conv.ID, &conv.OrganizationID, &conv.ContactID, &conv.ChannelID, &conv.LastActivityAt, &conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return &conv, nil
}

// ListConversationIDsByContact returns every conversation id for a
// contact across all channels, used by analytics to resolve a lead's
// touchpoint scope from its contact.
func (r *Repository) ListConversationIDsByContact(ctx context.Context, organizationID, contactID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM conversations WHERE organization_id = $1 AND contact_id = $2`,
		organizationID, contactID)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids by contact: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation id rows: %w", err)
	}
	return ids, nil
}

// TouchConversation advances last_activity_at.
func (r *Repository) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET last_activity_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// GetConversationByID fetches a conversation scoped to its organization.
func (r *Repository) GetConversationByID(ctx context.Context, id, organizationID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	query := `SELECT id, organization_id, contact_id, channel_id, last_activity_at, created_at
		FROM conversations WHERE id = $1 AND organization_id = $2`
	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(
		&conv.ID, &conv.OrganizationID, &conv.ContactID, &conv.ChannelID, &conv.LastActivityAt, &conv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(conversationNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by id: %w", err)
	}
	return &conv, nil
}

// CreateMessage inserts a message, deduplicating by (conversation_id,
// external_id) when external_id is present. Returns created=false on a
// dedup hit; the existing row is not loaded (see GetMessageByExternalID).
func (r *Repository) CreateMessage(ctx context.Context, m *Message) (created bool, err error) {
	query := `INSERT INTO messages (
		id, organization_id, conversation_id, channel_id, direction, text, status, external_id,
		provider_message_id, campaign_send_id, journey_run_step_id, attempts, error, received_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT DO NOTHING`
	if m.ExternalID != nil {
		query = `INSERT INTO messages (
			id, organization_id, conversation_id, channel_id, direction, text, status, external_id,
			provider_message_id, campaign_send_id, journey_run_step_id, attempts, error, received_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (conversation_id, external_id) WHERE external_id IS NOT NULL DO NOTHING`
	}
	tag, err := r.pool.Exec(ctx, query, m.ID, m.OrganizationID, m.ConversationID, m.ChannelID, m.Direction,
		m.Text, m.Status, m.ExternalID, m.ProviderMessageID, m.CampaignSendID, m.JourneyRunStepID,
		m.Attempts, m.Error, m.ReceivedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetMessageByExternalID finds an existing inbound message by its
// provider-assigned external id within a conversation (dedup lookup).
func (r *Repository) GetMessageByExternalID(ctx context.Context, conversationID uuid.UUID, externalID string) (*Message, error) {
	return r.scanOneBy(ctx, `conversation_id = $1 AND external_id = $2`, conversationID, externalID)
}

// GetMessageByProviderMessageID finds an outbound message by the
// provider's delivery identifier, for status reconciliation.
func (r *Repository) GetMessageByProviderMessageID(ctx context.Context, channelID uuid.UUID, providerMessageID string) (*Message, error) {
	return r.scanOneBy(ctx, `channel_id = $1 AND provider_message_id = $2`, channelID, providerMessageID)
}

// GetByID fetches a message scoped to its organization.
func (r *Repository) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*Message, error) {
	return r.scanOneBy(ctx, `id = $1 AND organization_id = $2`, id, organizationID)
}

func (r *Repository) scanOneBy(ctx context.Context, where string, args ...interface{}) (*Message, error) {
	query := `SELECT id, organization_id, conversation_id, channel_id, direction, text, status, external_id,
		provider_message_id, campaign_send_id, journey_run_step_id, attempts, error, received_at, created_at, updated_at
		FROM messages WHERE ` + where
	var m Message
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.OrganizationID, &m.ConversationID, &m.ChannelID, &m.Direction, &m.Text, &m.Status,
		&m.ExternalID, &m.ProviderMessageID, &m.CampaignSendID, &m.JourneyRunStepID, &m.Attempts,
		&m.Error, &m.ReceivedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(messageNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// UpdateStatus advances a message's status and optional provider fields.
// Callers are responsible for enforcing the I1 monotonicity invariant
// before calling this (see service.nextStatusAllowed).
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, providerMessageID *string, attempts int, errMsg *string) error {
	query := `UPDATE messages SET status = $1, provider_message_id = COALESCE($2, provider_message_id),
		attempts = $3, error = $4, updated_at = $5 WHERE id = $6`
	tag, err := r.pool.Exec(ctx, query, status, providerMessageID, attempts, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(messageNotFoundMsg)
	}
	return nil
}

// ListOutboundForLead returns outbound messages for attribution
// touchpoint construction, scoped to a time window.
func (r *Repository) ListOutboundForLead(ctx context.Context, organizationID uuid.UUID, conversationIDs []uuid.UUID, from, to time.Time) ([]Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, organization_id, conversation_id, channel_id, direction, text, status, external_id,
		provider_message_id, campaign_send_id, journey_run_step_id, attempts, error, received_at, created_at, updated_at
		FROM messages
		WHERE organization_id = $1 AND conversation_id = ANY($2) AND direction = 'out'
		AND received_at >= $3 AND received_at <= $4
		ORDER BY received_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, organizationID, conversationIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("list outbound messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.ConversationID, &m.ChannelID, &m.Direction, &m.Text,
			&m.Status, &m.ExternalID, &m.ProviderMessageID, &m.CampaignSendID, &m.JourneyRunStepID,
			&m.Attempts, &m.Error, &m.ReceivedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// CountInboundWithinWindow counts inbound messages on conversationIDs
// received within [from, to]. No caller in this repository uses it.
func (r *Repository) CountInboundWithinWindow(ctx context.Context, organizationID uuid.UUID, conversationIDs []uuid.UUID, from, to time.Time) (int, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}
	var count int
	query := `SELECT count(*) FROM messages
		WHERE organization_id = $1 AND conversation_id = ANY($2) AND direction = 'in'
		AND received_at >= $3 AND received_at <= $4`
	if err := r.pool.QueryRow(ctx, query, organizationID, conversationIDs, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count inbound messages: %w", err)
	}
	return count, nil
}
