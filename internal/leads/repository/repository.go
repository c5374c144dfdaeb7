// Package repository provides database operations for leads, lead
// signals, and lead rules.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omnireach/core/internal/leadrules"
	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lead represents the leads database row.
type Lead struct {
	ID             uuid.UUID      `db:"id"`
	OrganizationID uuid.UUID      `db:"organization_id"`
	ContactID      uuid.UUID      `db:"contact_id"`
	Stage          string         `db:"stage"`
	Tags           []string       `db:"tags"`
	Score          int            `db:"score"`
	Source         string         `db:"source"`
	Metadata       map[string]any `db:"metadata"`
	LastActivityAt time.Time      `db:"last_activity_at"`
	ConvertedAt    *time.Time     `db:"converted_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Rule represents the lead_rules database row.
type Rule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Enabled        bool
	Priority       int
	StopOnMatch    bool
	Conditions     leadrules.Conditions
	Actions        leadrules.Actions
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListFilter narrows GET /v1/leads results.
type ListFilter struct {
	Stage  string
	Source string
	Tag    string
	Limit  int
	Offset int
}

// Segment is a campaign audience predicate (all set fields AND together).
type Segment struct {
	StageIn             []string `json:"stage_in,omitempty"`
	TagsAny             []string `json:"tags_any,omitempty"`
	TagsAll             []string `json:"tags_all,omitempty"`
	SourceIn            []string `json:"source_in,omitempty"`
	LastActiveWithinDays *int    `json:"last_active_within_days,omitempty"`
}

const leadNotFoundMsg = "lead not found"

// Repository provides database operations for the leads module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a lead by id scoped to its organization.
func (r *Repository) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*Lead, error) {
	var lead Lead
	var metadata []byte
	query := `SELECT id, organization_id, contact_id, stage, tags, score, source, metadata,
		last_activity_at, converted_at, created_at, updated_at
		FROM leads WHERE id = $1 AND organization_id = $2`

	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(
		&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.Stage, &lead.Tags, &lead.Score,
		&lead.Source, &metadata, &lead.LastActivityAt, &lead.ConvertedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(leadNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead by id: %w", err)
	}
	if err := json.Unmarshal(metadata, &lead.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal lead metadata: %w", err)
	}
	return &lead, nil
}

// GetByContactID fetches the lead owned by a contact, if any.
func (r *Repository) GetByContactID(ctx context.Context, contactID, organizationID uuid.UUID) (*Lead, error) {
	var lead Lead
	var metadata []byte
	query := `SELECT id, organization_id, contact_id, stage, tags, score, source, metadata,
		last_activity_at, converted_at, created_at, updated_at
		FROM leads WHERE contact_id = $1 AND organization_id = $2`

	err := r.pool.QueryRow(ctx, query, contactID, organizationID).Scan(
		&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.Stage, &lead.Tags, &lead.Score,
		&lead.Source, &metadata, &lead.LastActivityAt, &lead.ConvertedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(leadNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead by contact id: %w", err)
	}
	if err := json.Unmarshal(metadata, &lead.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal lead metadata: %w", err)
	}
	return &lead, nil
}

// Create inserts a new lead for a contact.
func (r *Repository) Create(ctx context.Context, lead *Lead) error {
	metadata, err := json.Marshal(lead.Metadata)
	if err != nil {
		return fmt.Errorf("marshal lead metadata: %w", err)
	}
	query := `INSERT INTO leads (
		id, organization_id, contact_id, stage, tags, score, source, metadata,
		last_activity_at, converted_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.pool.Exec(ctx, query,
		lead.ID, lead.OrganizationID, lead.ContactID, lead.Stage, lead.Tags, lead.Score, lead.Source,
		metadata, lead.LastActivityAt, lead.ConvertedAt, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// List returns leads for an organization matching filter, plus the total
// matching count for pagination.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID, filter ListFilter) ([]Lead, int, error) {
	where := `organization_id = $1`
	args := []interface{}{organizationID}
	argN := 2

	if filter.Stage != "" {
		where += fmt.Sprintf(" AND stage = $%d", argN)
		args = append(args, filter.Stage)
		argN++
	}
	if filter.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argN)
		args = append(args, filter.Source)
		argN++
	}
	if filter.Tag != "" {
		where += fmt.Sprintf(" AND $%d = ANY(tags)", argN)
		args = append(args, filter.Tag)
		argN++
	}

	var total int
	countQuery := `SELECT count(*) FROM leads WHERE ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, organization_id, contact_id, stage, tags, score, source, metadata,
		last_activity_at, converted_at, created_at, updated_at
		FROM leads WHERE %s ORDER BY last_activity_at DESC LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var lead Lead
		var metadata []byte
		if err := rows.Scan(&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.Stage, &lead.Tags,
			&lead.Score, &lead.Source, &metadata, &lead.LastActivityAt, &lead.ConvertedAt,
			&lead.CreatedAt, &lead.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan lead row: %w", err)
		}
		if err := json.Unmarshal(metadata, &lead.Metadata); err != nil {
			return nil, 0, fmt.Errorf("unmarshal lead metadata: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate lead rows: %w", err)
	}
	return leads, total, nil
}

// segmentWhere builds the WHERE clause and args for a Segment predicate,
// shared by MatchSegment and CountSegment so preview and materialization
// can never drift apart (P8).
func segmentWhere(organizationID uuid.UUID, segment Segment) (string, []interface{}) {
	where := `organization_id = $1`
	args := []interface{}{organizationID}
	argN := 2

	if len(segment.StageIn) > 0 {
		where += fmt.Sprintf(" AND stage = ANY($%d)", argN)
		args = append(args, segment.StageIn)
		argN++
	}
	if len(segment.TagsAny) > 0 {
		where += fmt.Sprintf(" AND tags && $%d", argN)
		args = append(args, segment.TagsAny)
		argN++
	}
	if len(segment.TagsAll) > 0 {
		where += fmt.Sprintf(" AND tags @> $%d", argN)
		args = append(args, segment.TagsAll)
		argN++
	}
	if len(segment.SourceIn) > 0 {
		where += fmt.Sprintf(" AND source = ANY($%d)", argN)
		args = append(args, segment.SourceIn)
		argN++
	}
	if segment.LastActiveWithinDays != nil {
		where += fmt.Sprintf(" AND last_activity_at >= now() - ($%d || ' days')::interval", argN)
		args = append(args, *segment.LastActiveWithinDays)
		argN++
	}
	return where, args
}

// CountSegment returns the number of leads matching a segment predicate,
// backing PreviewAudience.
func (r *Repository) CountSegment(ctx context.Context, organizationID uuid.UUID, segment Segment) (int, error) {
	where, args := segmentWhere(organizationID, segment)
	var total int
	query := `SELECT count(*) FROM leads WHERE ` + where
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count segment: %w", err)
	}
	return total, nil
}

// MatchSegment returns every lead matching a segment predicate, backing
// campaign materialization at TickScheduler time.
func (r *Repository) MatchSegment(ctx context.Context, organizationID uuid.UUID, segment Segment) ([]Lead, error) {
	where, args := segmentWhere(organizationID, segment)
	query := `SELECT id, organization_id, contact_id, stage, tags, score, source, metadata,
		last_activity_at, converted_at, created_at, updated_at
		FROM leads WHERE ` + where + ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match segment: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var lead Lead
		var metadata []byte
		if err := rows.Scan(&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.Stage, &lead.Tags,
			&lead.Score, &lead.Source, &metadata, &lead.LastActivityAt, &lead.ConvertedAt,
			&lead.CreatedAt, &lead.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		if err := json.Unmarshal(metadata, &lead.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal lead metadata: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows: %w", err)
	}
	return leads, nil
}

// Update persists a lead's mutable fields. It returns only an error;
// callers that need the previous stage read it before calling Update.
func (r *Repository) Update(ctx context.Context, lead *Lead) error {
	metadata, err := json.Marshal(lead.Metadata)
	if err != nil {
		return fmt.Errorf("marshal lead metadata: %w", err)
	}
	query := `UPDATE leads SET stage = $1, tags = $2, score = $3, source = $4, metadata = $5,
		last_activity_at = $6, converted_at = $7, updated_at = $8
		WHERE id = $9 AND organization_id = $10`

	tag, err := r.pool.Exec(ctx, query,
		lead.Stage, lead.Tags, lead.Score, lead.Source, metadata, lead.LastActivityAt,
		lead.ConvertedAt, lead.UpdatedAt, lead.ID, lead.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

// InsertSignal records an inbound signal against a lead.
func (r *Repository) InsertSignal(ctx context.Context, id, organizationID, leadID uuid.UUID, signal string, at time.Time) error {
	query := `INSERT INTO lead_signals (id, organization_id, lead_id, signal, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, id, organizationID, leadID, signal, at)
	if err != nil {
		return fmt.Errorf("insert lead signal: %w", err)
	}
	return nil
}

// ListRules returns every rule configured for an organization, ordered
// by priority descending then creation order, matching C2's "provided
// order" evaluation contract.
func (r *Repository) ListRules(ctx context.Context, organizationID uuid.UUID) ([]Rule, error) {
	query := `SELECT id, organization_id, enabled, priority, stop_on_match, conditions, actions,
		created_at, updated_at FROM lead_rules WHERE organization_id = $1
		ORDER BY priority DESC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list lead rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var conditions, actions []byte
		if err := rows.Scan(&rule.ID, &rule.OrganizationID, &rule.Enabled, &rule.Priority,
			&rule.StopOnMatch, &conditions, &actions, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lead rule row: %w", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal rule conditions: %w", err)
		}
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal rule actions: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rule rows: %w", err)
	}
	return rules, nil
}

// ReplaceRules overwrites an organization's entire rule set atomically.
// This matches PUT /v1/lead-rules's "replace the whole configuration"
// semantics rather than a per-rule PATCH.
func (r *Repository) ReplaceRules(ctx context.Context, organizationID uuid.UUID, rules []Rule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace rules tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM lead_rules WHERE organization_id = $1`, organizationID); err != nil {
		return fmt.Errorf("clear lead rules: %w", err)
	}

	for _, rule := range rules {
		conditions, err := json.Marshal(rule.Conditions)
		if err != nil {
			return fmt.Errorf("marshal rule conditions: %w", err)
		}
		actions, err := json.Marshal(rule.Actions)
		if err != nil {
			return fmt.Errorf("marshal rule actions: %w", err)
		}
		query := `INSERT INTO lead_rules (
			id, organization_id, enabled, priority, stop_on_match, conditions, actions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, query, rule.ID, organizationID, rule.Enabled, rule.Priority,
			rule.StopOnMatch, conditions, actions, rule.CreatedAt, rule.UpdatedAt); err != nil {
			return fmt.Errorf("insert lead rule: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace rules tx: %w", err)
	}
	return nil
}
