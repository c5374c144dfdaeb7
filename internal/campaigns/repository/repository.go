// Package repository provides database operations for campaigns and
// campaign sends: scheduled broadcast messages and their per-recipient
// delivery state.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	leadsrepo "github.com/omnireach/core/internal/leads/repository"
	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const campaignNotFoundMsg = "campaign not found"

// Campaign represents the campaigns database row.
type Campaign struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ChannelID      uuid.UUID
	Name           string
	MessageText    string
	Segment        leadsrepo.Segment
	ScheduleAt     *time.Time
	Status         string
	CostCents      *int64
	RevenueCents   *int64
	QueuedCount    int
	SentCount      int
	FailedCount    int
	SkippedCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CampaignSend represents the campaign_sends database row.
type CampaignSend struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	CampaignID     uuid.UUID
	LeadID         uuid.UUID
	MessageID      *uuid.UUID
	Status         string
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository provides database operations for the campaigns module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new campaigns repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const campaignColumns = `id, organization_id, channel_id, name, message_text, segment, schedule_at,
	status, cost_cents, revenue_cents, queued_count, sent_count, failed_count, skipped_count,
	created_at, updated_at`

func scanCampaign(row interface {
	Scan(dest ...interface{}) error
}) (*Campaign, error) {
	var c Campaign
	var segment []byte
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ChannelID, &c.Name, &c.MessageText, &segment,
		&c.ScheduleAt, &c.Status, &c.CostCents, &c.RevenueCents, &c.QueuedCount, &c.SentCount,
		&c.FailedCount, &c.SkippedCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(campaignNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	if err := json.Unmarshal(segment, &c.Segment); err != nil {
		return nil, fmt.Errorf("unmarshal campaign segment: %w", err)
	}
	return &c, nil
}

// Create inserts a new campaign in status "draft".
func (r *Repository) Create(ctx context.Context, c *Campaign) error {
	segment, err := json.Marshal(c.Segment)
	if err != nil {
		return fmt.Errorf("marshal campaign segment: %w", err)
	}
	query := `INSERT INTO campaigns (id, organization_id, channel_id, name, message_text, segment,
		schedule_at, status, cost_cents, revenue_cents, queued_count, sent_count, failed_count,
		skipped_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = r.pool.Exec(ctx, query, c.ID, c.OrganizationID, c.ChannelID, c.Name, c.MessageText,
		segment, c.ScheduleAt, c.Status, c.CostCents, c.RevenueCents, c.QueuedCount, c.SentCount,
		c.FailedCount, c.SkippedCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetByID fetches a campaign scoped to its organization.
func (r *Repository) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND organization_id = $2`
	return scanCampaign(r.pool.QueryRow(ctx, query, id, organizationID))
}

// List returns every campaign for an organization, newest first.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID) ([]Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign rows: %w", err)
	}
	return campaigns, nil
}

// UpdateStatusGuarded transitions a campaign's status only if its
// current status matches fromStatus, preventing a double schedule or a
// cancel racing a tick, the status-guarded transition pattern from
// spec.md §5.
func (r *Repository) UpdateStatusGuarded(ctx context.Context, id, organizationID uuid.UUID, fromStatus, toStatus string, scheduleAt *time.Time) error {
	query := `UPDATE campaigns SET status = $1, schedule_at = COALESCE($2, schedule_at), updated_at = now()
		WHERE id = $3 AND organization_id = $4 AND status = $5`
	tag, err := r.pool.Exec(ctx, query, toStatus, scheduleAt, id, organizationID, fromStatus)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(fmt.Sprintf("campaign is not %s", fromStatus))
	}
	return nil
}

// ClaimDue atomically selects campaigns due for materialization
// (status=scheduled and schedule_at<=now) and flips them to running in
// the same statement, so concurrent scheduler instances cannot
// double-dispatch the same campaign (spec.md §5's status-guarded
// transition, chosen over an advisory lock because this step is a
// one-shot idempotent materialization per campaign row).
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Campaign, error) {
	query := `UPDATE campaigns SET status = 'running', updated_at = now()
		WHERE id IN (
			SELECT id FROM campaigns WHERE status = 'scheduled' AND schedule_at <= $1
			ORDER BY schedule_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + campaignColumns
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due campaigns: %w", err)
	}
	defer rows.Close()

	var claimed []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed campaign rows: %w", err)
	}
	return claimed, nil
}

// IncrementCounters atomically bumps a campaign's counters, used at
// materialization (queued) and on send terminal states (sent/failed/
// skipped). Recomputation-safe because each caller applies exactly one
// delta per send exactly once (guarded by CampaignSend's own status
// transition).
func (r *Repository) IncrementCounters(ctx context.Context, id uuid.UUID, queued, sent, failed, skipped int) error {
	query := `UPDATE campaigns SET queued_count = queued_count + $1, sent_count = sent_count + $2,
		failed_count = failed_count + $3, skipped_count = skipped_count + $4, updated_at = now()
		WHERE id = $5`
	_, err := r.pool.Exec(ctx, query, queued, sent, failed, skipped, id)
	if err != nil {
		return fmt.Errorf("increment campaign counters: %w", err)
	}
	return nil
}

// MaybeComplete marks a running campaign completed once every send is
// terminal (no pending CampaignSend rows remain).
func (r *Repository) MaybeComplete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE campaigns SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'running'
		AND NOT EXISTS (SELECT 1 FROM campaign_sends WHERE campaign_id = $1 AND status = 'pending')`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("maybe complete campaign: %w", err)
	}
	return nil
}

// UpdateROI sets a campaign's cost/revenue figures for ROI reporting.
func (r *Repository) UpdateROI(ctx context.Context, id, organizationID uuid.UUID, costCents, revenueCents *int64) error {
	query := `UPDATE campaigns SET cost_cents = $1, revenue_cents = $2, updated_at = now()
		WHERE id = $3 AND organization_id = $4`
	tag, err := r.pool.Exec(ctx, query, costCents, revenueCents, id, organizationID)
	if err != nil {
		return fmt.Errorf("update campaign roi: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(campaignNotFoundMsg)
	}
	return nil
}

// CreateSend inserts a pending CampaignSend, deduping on (campaign,
// lead) so re-running materialization for the same campaign is
// idempotent. Returns created=false if a send already existed.
func (r *Repository) CreateSend(ctx context.Context, send *CampaignSend) (bool, error) {
	query := `INSERT INTO campaign_sends (id, organization_id, campaign_id, lead_id, message_id,
		status, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (campaign_id, lead_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, send.ID, send.OrganizationID, send.CampaignID, send.LeadID,
		send.MessageID, send.Status, send.Error, send.CreatedAt, send.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create campaign send: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetSend fetches a campaign send by id.
func (r *Repository) GetSend(ctx context.Context, id uuid.UUID) (*CampaignSend, error) {
	query := `SELECT id, organization_id, campaign_id, lead_id, message_id, status, error,
		created_at, updated_at FROM campaign_sends WHERE id = $1`
	var s CampaignSend
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.OrganizationID, &s.CampaignID, &s.LeadID,
		&s.MessageID, &s.Status, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("campaign send not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign send: %w", err)
	}
	return &s, nil
}

// GetSendByMessageID resolves the CampaignSend linked to a Message, used
// when a MessageStatusUpdated event needs to propagate into send state.
func (r *Repository) GetSendByMessageID(ctx context.Context, messageID uuid.UUID) (*CampaignSend, error) {
	query := `SELECT id, organization_id, campaign_id, lead_id, message_id, status, error,
		created_at, updated_at FROM campaign_sends WHERE message_id = $1`
	var s CampaignSend
	err := r.pool.QueryRow(ctx, query, messageID).Scan(&s.ID, &s.OrganizationID, &s.CampaignID,
		&s.LeadID, &s.MessageID, &s.Status, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("campaign send not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign send by message id: %w", err)
	}
	return &s, nil
}

// ListByCampaign returns every send for a campaign.
func (r *Repository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]CampaignSend, error) {
	query := `SELECT id, organization_id, campaign_id, lead_id, message_id, status, error,
		created_at, updated_at FROM campaign_sends WHERE campaign_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign sends: %w", err)
	}
	defer rows.Close()

	var sends []CampaignSend
	for rows.Next() {
		var s CampaignSend
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.CampaignID, &s.LeadID, &s.MessageID,
			&s.Status, &s.Error, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign send row: %w", err)
		}
		sends = append(sends, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign send rows: %w", err)
	}
	return sends, nil
}

// AttachMessage records which Message a pending send's enqueue created,
// without changing the send's status.
func (r *Repository) AttachMessage(ctx context.Context, sendID, messageID uuid.UUID) error {
	query := `UPDATE campaign_sends SET message_id = $1, updated_at = now() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, messageID, sendID)
	if err != nil {
		return fmt.Errorf("attach campaign send message: %w", err)
	}
	return nil
}

// UpdateSendStatus transitions a CampaignSend's status from "pending"
// to a terminal state, guarded so a duplicate status callback cannot
// double-count campaign counters (I2: a CampaignSend reaches
// sent/failed only after its Message does).
func (r *Repository) UpdateSendStatus(ctx context.Context, id uuid.UUID, status string, messageID *uuid.UUID, errMsg *string) (bool, error) {
	query := `UPDATE campaign_sends SET status = $1, message_id = COALESCE($2, message_id),
		error = $3, updated_at = now() WHERE id = $4 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, status, messageID, errMsg, id)
	if err != nil {
		return false, fmt.Errorf("update campaign send status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
