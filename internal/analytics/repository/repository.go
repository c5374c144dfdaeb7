// Package repository provides database operations for attribution
// rows, revenue events, daily rollups, and per-org analytics settings.
// Unlike the other domain repositories, several queries here read
// directly across the messages/leads/campaign_sends tables rather than
// going through their owning modules: a rollup is fundamentally a
// cross-cutting aggregate and re-fetching rows through each module's
// service would mean paying N round trips to compute a single COUNT.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attribution is one credit-split row for a conversion.
type Attribution struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	ConversionAt   time.Time
	Model          string
	TouchpointRef  string
	Weight         float64
	AmountCredit   *int64
	CreatedAt      time.Time
}

// RevenueEvent is one recorded revenue attribution input.
type RevenueEvent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LeadID         *uuid.UUID
	CampaignID     *uuid.UUID
	AmountCents    int64
	Currency       string
	ExternalID     *string
	ReceivedAt     time.Time
}

// DailyMetrics is one analytics_daily row: absolute (not incremental)
// counters for an org/date/(channel?)/(campaign?) scope.
type DailyMetrics struct {
	OrganizationID          uuid.UUID
	Date                    time.Time
	ChannelID               *uuid.UUID
	CampaignID              *uuid.UUID
	OutboundSent            int
	OutboundDelivered       int
	OutboundFailed          int
	InboundCount            int
	ResponseCount           int
	LeadCreated             int
	LeadConverted           int
	AttributedConversions   int
	AttributedRevenueCents  int64
	UpdatedAt               time.Time
}

// Settings is an organization's attribution configuration.
type Settings struct {
	OrganizationID   uuid.UUID
	AttributionModel string
	LookbackDays     int
	UpdatedAt        time.Time
}

// Repository provides database operations for the analytics module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new analytics repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSettings returns an organization's analytics settings, defaulting
// to linear/30-day lookback when no row has been created yet.
func (r *Repository) GetSettings(ctx context.Context, organizationID uuid.UUID) (*Settings, error) {
	var s Settings
	query := `SELECT organization_id, attribution_model, lookback_days, updated_at
		FROM analytics_settings WHERE organization_id = $1`
	err := r.pool.QueryRow(ctx, query, organizationID).Scan(&s.OrganizationID, &s.AttributionModel, &s.LookbackDays, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Settings{OrganizationID: organizationID, AttributionModel: "linear", LookbackDays: 30}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analytics settings: %w", err)
	}
	return &s, nil
}

// PutSettings upserts an organization's analytics settings.
func (r *Repository) PutSettings(ctx context.Context, s Settings) error {
	query := `INSERT INTO analytics_settings (organization_id, attribution_model, lookback_days, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (organization_id) DO UPDATE SET
			attribution_model = EXCLUDED.attribution_model,
			lookback_days = EXCLUDED.lookback_days,
			updated_at = now()`
	if _, err := r.pool.Exec(ctx, query, s.OrganizationID, s.AttributionModel, s.LookbackDays); err != nil {
		return fmt.Errorf("put analytics settings: %w", err)
	}
	return nil
}

// UpsertAttributions writes a conversion's credit-split rows. Re-running
// the same split (e.g. a retried event) is idempotent: the unique key
// (lead_id, conversion_at, model, touchpoint_ref) makes a second write
// update the same row rather than duplicate it, per spec.md §5's
// "concurrent computations ... must be idempotent" rule.
func (r *Repository) UpsertAttributions(ctx context.Context, rows []Attribution) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO attributions (id, organization_id, lead_id, conversion_at, model, touchpoint_ref, weight, amount_credit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (lead_id, conversion_at, model, touchpoint_ref) DO UPDATE SET
			weight = EXCLUDED.weight,
			amount_credit = COALESCE(EXCLUDED.amount_credit, attributions.amount_credit)`
	for _, a := range rows {
		if _, err := r.pool.Exec(ctx, query, a.ID, a.OrganizationID, a.LeadID, a.ConversionAt, a.Model, a.TouchpointRef, a.Weight, a.AmountCredit); err != nil {
			return fmt.Errorf("upsert attribution: %w", err)
		}
	}
	return nil
}

// SetAttributionAmounts back-fills amount_credit once revenue arrives
// for a conversion that was split before the revenue event landed.
func (r *Repository) SetAttributionAmounts(ctx context.Context, leadID uuid.UUID, conversionAt time.Time, model string, revenueCents int64) error {
	query := `UPDATE attributions SET amount_credit = round(weight * $1)::bigint
		WHERE lead_id = $2 AND conversion_at = $3 AND model = $4`
	if _, err := r.pool.Exec(ctx, query, revenueCents, leadID, conversionAt, model); err != nil {
		return fmt.Errorf("set attribution amounts: %w", err)
	}
	return nil
}

// ListAttributionsByLead returns every attribution row for a lead's
// conversions under a given model, most recent conversion first.
func (r *Repository) ListAttributionsByLead(ctx context.Context, organizationID, leadID uuid.UUID, model string) ([]Attribution, error) {
	query := `SELECT id, organization_id, lead_id, conversion_at, model, touchpoint_ref, weight, amount_credit, created_at
		FROM attributions WHERE organization_id = $1 AND lead_id = $2 AND model = $3
		ORDER BY conversion_at DESC`
	return r.queryAttributions(ctx, query, organizationID, leadID, model)
}

// LatestLastTouch returns the most recent last_touch attribution row
// for a lead within the lookback window ending at "at", used by the
// revenue-attachment fallback chain.
func (r *Repository) LatestLastTouch(ctx context.Context, organizationID, leadID uuid.UUID, lookback time.Duration, at time.Time) (*Attribution, error) {
	query := `SELECT id, organization_id, lead_id, conversion_at, model, touchpoint_ref, weight, amount_credit, created_at
		FROM attributions
		WHERE organization_id = $1 AND lead_id = $2 AND model = 'last_touch'
		AND conversion_at >= $3 AND conversion_at <= $4
		ORDER BY conversion_at DESC LIMIT 1`
	rows, err := r.queryAttributions(ctx, query, organizationID, leadID, at.Add(-lookback), at)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("no attribution found")
	}
	return &rows[0], nil
}

// ListReport returns every attribution row for an organization under a
// model within a date range, for the GET /v1/attribution/report endpoint.
func (r *Repository) ListReport(ctx context.Context, organizationID uuid.UUID, model string, from, to time.Time) ([]Attribution, error) {
	query := `SELECT id, organization_id, lead_id, conversion_at, model, touchpoint_ref, weight, amount_credit, created_at
		FROM attributions WHERE organization_id = $1 AND model = $2 AND conversion_at >= $3 AND conversion_at <= $4
		ORDER BY conversion_at ASC`
	return r.queryAttributions(ctx, query, organizationID, model, from, to)
}

func (r *Repository) queryAttributions(ctx context.Context, query string, args ...any) ([]Attribution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attributions: %w", err)
	}
	defer rows.Close()

	var out []Attribution
	for rows.Next() {
		var a Attribution
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.LeadID, &a.ConversionAt, &a.Model, &a.TouchpointRef, &a.Weight, &a.AmountCredit, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attribution row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribution rows: %w", err)
	}
	return out, nil
}

// CreateRevenueEvent inserts a revenue event, deduped by
// (organization_id, external_id) when an external id is supplied.
// Returns inserted=false for a duplicate delivery.
func (r *Repository) CreateRevenueEvent(ctx context.Context, ev *RevenueEvent) (inserted bool, err error) {
	query := `INSERT INTO revenue_events (id, organization_id, lead_id, campaign_id, amount_cents, currency, external_id, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (organization_id, external_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, ev.ID, ev.OrganizationID, ev.LeadID, ev.CampaignID, ev.AmountCents, ev.Currency, ev.ExternalID, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("create revenue event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListOrganizationIDs returns every organization id, for the rollup
// poller's per-org iteration.
func (r *Repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organization id rows: %w", err)
	}
	return ids, nil
}

// RollupOrg computes the org-level, per-channel and per-campaign
// DailyMetrics rows for one organization and date window [from, to).
func (r *Repository) RollupOrg(ctx context.Context, organizationID uuid.UUID, date time.Time, from, to time.Time) ([]DailyMetrics, error) {
	var out []DailyMetrics

	org, err := r.aggregate(ctx, organizationID, date, nil, nil, from, to, "")
	if err != nil {
		return nil, err
	}
	out = append(out, *org)

	channelRows, err := r.pool.Query(ctx, `SELECT DISTINCT channel_id FROM messages WHERE organization_id = $1 AND received_at >= $2 AND received_at < $3`, organizationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list rollup channels: %w", err)
	}
	var channelIDs []uuid.UUID
	for channelRows.Next() {
		var id uuid.UUID
		if err := channelRows.Scan(&id); err != nil {
			channelRows.Close()
			return nil, fmt.Errorf("scan rollup channel id: %w", err)
		}
		channelIDs = append(channelIDs, id)
	}
	channelRows.Close()
	if err := channelRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup channel rows: %w", err)
	}

	for _, id := range channelIDs {
		channelID := id
		row, err := r.aggregate(ctx, organizationID, date, &channelID, nil, from, to, "AND m.channel_id = $5")
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}

	campaignRows, err := r.pool.Query(ctx, `SELECT DISTINCT cs.campaign_id FROM campaign_sends cs
		JOIN messages m ON m.id = cs.message_id
		WHERE cs.organization_id = $1 AND m.received_at >= $2 AND m.received_at < $3`, organizationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list rollup campaigns: %w", err)
	}
	var campaignIDs []uuid.UUID
	for campaignRows.Next() {
		var id uuid.UUID
		if err := campaignRows.Scan(&id); err != nil {
			campaignRows.Close()
			return nil, fmt.Errorf("scan rollup campaign id: %w", err)
		}
		campaignIDs = append(campaignIDs, id)
	}
	campaignRows.Close()
	if err := campaignRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup campaign rows: %w", err)
	}

	for _, id := range campaignIDs {
		campaignID := id
		row, err := r.campaignAggregate(ctx, organizationID, date, campaignID, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}

	return out, nil
}

func (r *Repository) aggregate(ctx context.Context, organizationID uuid.UUID, date time.Time, channelID, campaignID *uuid.UUID, from, to time.Time, extraFilter string) (*DailyMetrics, error) {
	query := `SELECT
		count(*) FILTER (WHERE m.direction = 'out' AND m.status IN ('sent','delivered','read')),
		count(*) FILTER (WHERE m.direction = 'out' AND m.status IN ('delivered','read')),
		count(*) FILTER (WHERE m.direction = 'out' AND m.status = 'failed'),
		count(*) FILTER (WHERE m.direction = 'in')
		FROM messages m
		WHERE m.organization_id = $1 AND m.received_at >= $2 AND m.received_at < $3 ` + extraFilter

	var args []any
	args = append(args, organizationID, from, to)
	if channelID != nil {
		args = append(args, *channelID)
	}

	var out DailyMetrics
	out.OrganizationID = organizationID
	out.Date = date
	out.ChannelID = channelID
	out.CampaignID = campaignID
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&out.OutboundSent, &out.OutboundDelivered, &out.OutboundFailed, &out.InboundCount); err != nil {
		return nil, fmt.Errorf("aggregate message counts: %w", err)
	}

	responseQuery := `SELECT count(*) FROM messages m_in
		WHERE m_in.direction = 'in' AND m_in.organization_id = $1
		AND m_in.received_at >= $2 AND m_in.received_at < $3
		AND EXISTS (
			SELECT 1 FROM messages m_out WHERE m_out.conversation_id = m_in.conversation_id
			AND m_out.direction = 'out' AND m_out.received_at <= m_in.received_at
			AND m_out.received_at >= m_in.received_at - interval '24 hours'
		)`
	respArgs := []any{organizationID, from, to}
	if channelID != nil {
		responseQuery += " AND m_in.channel_id = $4"
		respArgs = append(respArgs, *channelID)
	}
	if err := r.pool.QueryRow(ctx, responseQuery, respArgs...).Scan(&out.ResponseCount); err != nil {
		return nil, fmt.Errorf("aggregate response count: %w", err)
	}

	leadQuery := `SELECT
		count(*) FILTER (WHERE l.created_at >= $2 AND l.created_at < $3),
		count(*) FILTER (WHERE l.converted_at >= $2 AND l.converted_at < $3)
		FROM leads l JOIN contacts c ON c.id = l.contact_id
		WHERE l.organization_id = $1`
	leadArgs := []any{organizationID, from, to}
	if channelID != nil {
		leadQuery += " AND c.channel_id = $4"
		leadArgs = append(leadArgs, *channelID)
	}
	if err := r.pool.QueryRow(ctx, leadQuery, leadArgs...).Scan(&out.LeadCreated, &out.LeadConverted); err != nil {
		return nil, fmt.Errorf("aggregate lead counts: %w", err)
	}

	if channelID == nil && campaignID == nil {
		attrQuery := `SELECT count(DISTINCT (lead_id, conversion_at)), coalesce(sum(amount_credit), 0)
			FROM attributions WHERE organization_id = $1 AND conversion_at >= $2 AND conversion_at < $3`
		if err := r.pool.QueryRow(ctx, attrQuery, organizationID, from, to).Scan(&out.AttributedConversions, &out.AttributedRevenueCents); err != nil {
			return nil, fmt.Errorf("aggregate attribution counts: %w", err)
		}
	}

	return &out, nil
}

func (r *Repository) campaignAggregate(ctx context.Context, organizationID uuid.UUID, date time.Time, campaignID uuid.UUID, from, to time.Time) (*DailyMetrics, error) {
	query := `SELECT
		count(*) FILTER (WHERE cs.status = 'sent'),
		count(*) FILTER (WHERE cs.status = 'sent'),
		count(*) FILTER (WHERE cs.status = 'failed')
		FROM campaign_sends cs JOIN messages m ON m.id = cs.message_id
		WHERE cs.organization_id = $1 AND cs.campaign_id = $2 AND m.received_at >= $3 AND m.received_at < $4`

	var out DailyMetrics
	out.OrganizationID = organizationID
	out.Date = date
	out.CampaignID = &campaignID
	if err := r.pool.QueryRow(ctx, query, organizationID, campaignID, from, to).Scan(&out.OutboundSent, &out.OutboundDelivered, &out.OutboundFailed); err != nil {
		return nil, fmt.Errorf("aggregate campaign counts: %w", err)
	}

	revenueQuery := `SELECT count(*), coalesce(sum(amount_cents), 0) FROM revenue_events
		WHERE organization_id = $1 AND campaign_id = $2 AND received_at >= $3 AND received_at < $4`
	if err := r.pool.QueryRow(ctx, revenueQuery, organizationID, campaignID, from, to).Scan(&out.AttributedConversions, &out.AttributedRevenueCents); err != nil {
		return nil, fmt.Errorf("aggregate campaign revenue: %w", err)
	}

	return &out, nil
}

// UpsertDaily writes an absolute-value rollup row. Re-aggregation is
// idempotent because the upsert always SETs computed totals rather
// than incrementing them, per spec.md I6.
func (r *Repository) UpsertDaily(ctx context.Context, m DailyMetrics) error {
	query := `INSERT INTO analytics_daily (organization_id, date, channel_id, campaign_id,
		outbound_sent, outbound_delivered, outbound_failed, inbound_count, response_count,
		lead_created, lead_converted, attributed_conversions, attributed_revenue_cents, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (organization_id, date, channel_id, campaign_id) DO UPDATE SET
			outbound_sent = EXCLUDED.outbound_sent,
			outbound_delivered = EXCLUDED.outbound_delivered,
			outbound_failed = EXCLUDED.outbound_failed,
			inbound_count = EXCLUDED.inbound_count,
			response_count = EXCLUDED.response_count,
			lead_created = EXCLUDED.lead_created,
			lead_converted = EXCLUDED.lead_converted,
			attributed_conversions = EXCLUDED.attributed_conversions,
			attributed_revenue_cents = EXCLUDED.attributed_revenue_cents,
			updated_at = now()`
	_, err := r.pool.Exec(ctx, query, m.OrganizationID, m.Date, m.ChannelID, m.CampaignID,
		m.OutboundSent, m.OutboundDelivered, m.OutboundFailed, m.InboundCount, m.ResponseCount,
		m.LeadCreated, m.LeadConverted, m.AttributedConversions, m.AttributedRevenueCents)
	if err != nil {
		return fmt.Errorf("upsert analytics daily: %w", err)
	}
	return nil
}

// ListDaily returns rollup rows for an org across a date range,
// optionally scoped to a single channel or campaign.
func (r *Repository) ListDaily(ctx context.Context, organizationID uuid.UUID, from, to time.Time, channelID, campaignID *uuid.UUID) ([]DailyMetrics, error) {
	query := `SELECT organization_id, date, channel_id, campaign_id, outbound_sent, outbound_delivered,
		outbound_failed, inbound_count, response_count, lead_created, lead_converted,
		attributed_conversions, attributed_revenue_cents, updated_at
		FROM analytics_daily WHERE organization_id = $1 AND date >= $2 AND date <= $3`
	args := []any{organizationID, from, to}
	if channelID != nil {
		args = append(args, *channelID)
		query += fmt.Sprintf(" AND channel_id = $%d", len(args))
	} else {
		query += " AND channel_id IS NULL"
	}
	if campaignID != nil {
		args = append(args, *campaignID)
		query += fmt.Sprintf(" AND campaign_id = $%d", len(args))
	} else {
		query += " AND campaign_id IS NULL"
	}
	query += " ORDER BY date ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analytics daily: %w", err)
	}
	defer rows.Close()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.OrganizationID, &m.Date, &m.ChannelID, &m.CampaignID, &m.OutboundSent,
			&m.OutboundDelivered, &m.OutboundFailed, &m.InboundCount, &m.ResponseCount, &m.LeadCreated,
			&m.LeadConverted, &m.AttributedConversions, &m.AttributedRevenueCents, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics daily row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analytics daily rows: %w", err)
	}
	return out, nil
}
