// Package repository provides database operations for journeys,
// journey runs, and journey run steps.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omnireach/core/internal/journeys/engine"
	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journey represents the journeys database row.
type Journey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Status         string
	Triggers       []engine.Trigger
	Nodes          []engine.Node
	Edges          []engine.Edge
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Run represents the journey_runs database row.
type Run struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	JourneyID      uuid.UUID
	LeadID         *uuid.UUID
	ConversationID *uuid.UUID
	TriggerType    string
	TriggerText    string
	Status         string
	CurrentNodeID  *string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Step represents the journey_run_steps database row.
type Step struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	NodeID    string
	StepIndex int
	Status    string
	WakeAt    *time.Time
	Attempts  int
	Input     map[string]any
	Output    map[string]any
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository provides database operations for the journeys module.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new journeys repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const journeyColumns = `id, organization_id, name, status, triggers, nodes, edges, created_at, updated_at`

func scanJourney(row interface {
	Scan(dest ...interface{}) error
}) (*Journey, error) {
	var j Journey
	var triggers, nodes, edges []byte
	err := row.Scan(&j.ID, &j.OrganizationID, &j.Name, &j.Status, &triggers, &nodes, &edges,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("journey not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan journey: %w", err)
	}
	if err := json.Unmarshal(triggers, &j.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshal journey triggers: %w", err)
	}
	if err := json.Unmarshal(nodes, &j.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal journey nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &j.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal journey edges: %w", err)
	}
	return &j, nil
}

// Create inserts a new journey in status "draft".
func (r *Repository) Create(ctx context.Context, j *Journey) error {
	triggers, err := json.Marshal(j.Triggers)
	if err != nil {
		return fmt.Errorf("marshal journey triggers: %w", err)
	}
	nodes, err := json.Marshal(j.Nodes)
	if err != nil {
		return fmt.Errorf("marshal journey nodes: %w", err)
	}
	edges, err := json.Marshal(j.Edges)
	if err != nil {
		return fmt.Errorf("marshal journey edges: %w", err)
	}
	query := `INSERT INTO journeys (id, organization_id, name, status, triggers, nodes, edges, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = r.pool.Exec(ctx, query, j.ID, j.OrganizationID, j.Name, j.Status, triggers, nodes, edges,
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create journey: %w", err)
	}
	return nil
}

// GetByID fetches a journey scoped to its organization.
func (r *Repository) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1 AND organization_id = $2`
	return scanJourney(r.pool.QueryRow(ctx, query, id, organizationID))
}

// List returns every journey for an organization.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID) ([]Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	defer rows.Close()

	var journeys []Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		journeys = append(journeys, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journey rows: %w", err)
	}
	return journeys, nil
}

// ListActiveByTriggerType returns every active journey whose triggers
// include the given type, for event-driven trigger evaluation.
func (r *Repository) ListActiveByTriggerType(ctx context.Context, organizationID uuid.UUID, triggerType string) ([]Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys
		WHERE organization_id = $1 AND status = 'active'
		AND triggers @> '[]' AND jsonb_path_exists(triggers, ('$[*] ? (@.type == "' || $2 || '")')::jsonpath)`
	rows, err := r.pool.Query(ctx, query, organizationID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("list active journeys by trigger type: %w", err)
	}
	defer rows.Close()

	var journeys []Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		journeys = append(journeys, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active journey rows: %w", err)
	}
	return journeys, nil
}

// UpdateStatus transitions a journey's status (draft/active/paused/archived).
func (r *Repository) UpdateStatus(ctx context.Context, id, organizationID uuid.UUID, status string) error {
	query := `UPDATE journeys SET status = $1, updated_at = now() WHERE id = $2 AND organization_id = $3`
	tag, err := r.pool.Exec(ctx, query, status, id, organizationID)
	if err != nil {
		return fmt.Errorf("update journey status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("journey not found")
	}
	return nil
}

// TryInsertTriggerDedup attempts to record a trigger delivery; it
// returns false if a matching (journey, lead, dedup_key) row was seen
// within the debounce window, suppressing a duplicate Run.
func (r *Repository) TryInsertTriggerDedup(ctx context.Context, journeyID, leadID uuid.UUID, dedupKey string, debounce time.Duration, now time.Time) (bool, error) {
	query := `DELETE FROM journey_trigger_dedup WHERE journey_id = $1 AND lead_id = $2 AND dedup_key = $3 AND seen_at < $4`
	if _, err := r.pool.Exec(ctx, query, journeyID, leadID, dedupKey, now.Add(-debounce)); err != nil {
		return false, fmt.Errorf("expire journey trigger dedup: %w", err)
	}

	insert := `INSERT INTO journey_trigger_dedup (journey_id, lead_id, dedup_key, seen_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT (journey_id, lead_id, dedup_key) DO NOTHING`
	tag, err := r.pool.Exec(ctx, insert, journeyID, leadID, dedupKey, now)
	if err != nil {
		return false, fmt.Errorf("insert journey trigger dedup: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateRun inserts a new journey run in status "pending".
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	query := `INSERT INTO journey_runs (id, organization_id, journey_id, lead_id, conversation_id,
		trigger_type, status, current_node_id, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.pool.Exec(ctx, query, run.ID, run.OrganizationID, run.JourneyID, run.LeadID,
		run.ConversationID, run.TriggerType, run.Status, run.CurrentNodeID, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("create journey run: %w", err)
	}
	return nil
}

const runColumns = `id, organization_id, journey_id, lead_id, conversation_id, trigger_type,
	status, current_node_id, started_at, completed_at`

func scanRun(row interface {
	Scan(dest ...interface{}) error
}) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.OrganizationID, &run.JourneyID, &run.LeadID, &run.ConversationID,
		&run.TriggerType, &run.Status, &run.CurrentNodeID, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("journey run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan journey run: %w", err)
	}
	return &run, nil
}

// GetRun fetches a run by id.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM journey_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// ListRunsByJourney returns every run for a journey, newest first.
func (r *Repository) ListRunsByJourney(ctx context.Context, journeyID uuid.UUID) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM journey_runs WHERE journey_id = $1 ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, query, journeyID)
	if err != nil {
		return nil, fmt.Errorf("list journey runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journey run rows: %w", err)
	}
	return runs, nil
}

// UpdateRunCurrentNode advances a run's traversal pointer.
func (r *Repository) UpdateRunCurrentNode(ctx context.Context, id uuid.UUID, nodeID string) error {
	query := `UPDATE journey_runs SET current_node_id = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, nodeID, id)
	if err != nil {
		return fmt.Errorf("update journey run current node: %w", err)
	}
	return nil
}

// FinishRun transitions a run to a terminal status (completed/failed/
// cancelled) if it is not already terminal.
func (r *Repository) FinishRun(ctx context.Context, id uuid.UUID, status string, completedAt time.Time) (bool, error) {
	query := `UPDATE journey_runs SET status = $1, completed_at = $2
		WHERE id = $3 AND status IN ('pending', 'running')`
	tag, err := r.pool.Exec(ctx, query, status, completedAt, id)
	if err != nil {
		return false, fmt.Errorf("finish journey run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRunRunning flips a pending run to running, guarding against a
// cancel racing the first AdvanceRun call.
func (r *Repository) MarkRunRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE journey_runs SET status = 'running' WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark journey run running: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const stepColumns = `id, run_id, node_id, step_index, status, wake_at, attempts, input, output, error, created_at, updated_at`

func scanStep(row interface {
	Scan(dest ...interface{}) error
}) (*Step, error) {
	var s Step
	var input, output []byte
	err := row.Scan(&s.ID, &s.RunID, &s.NodeID, &s.StepIndex, &s.Status, &s.WakeAt, &s.Attempts,
		&input, &output, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("journey run step not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan journey run step: %w", err)
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &s.Input); err != nil {
			return nil, fmt.Errorf("unmarshal step input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &s.Output); err != nil {
			return nil, fmt.Errorf("unmarshal step output: %w", err)
		}
	}
	return &s, nil
}

// CreateStep inserts the next step in a run's sequence.
func (r *Repository) CreateStep(ctx context.Context, s *Step) error {
	input, err := json.Marshal(s.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	output, err := json.Marshal(s.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	query := `INSERT INTO journey_run_steps (id, run_id, node_id, step_index, status, wake_at,
		attempts, input, output, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.pool.Exec(ctx, query, s.ID, s.RunID, s.NodeID, s.StepIndex, s.Status, s.WakeAt,
		s.Attempts, input, output, s.Error, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create journey run step: %w", err)
	}
	return nil
}

// ClaimNextStep atomically claims the lowest-index pending step of a
// run whose wake_at has elapsed (or is unset), flipping it to running,
// so two AdvanceRun invocations for the same run can never execute a
// step concurrently.
func (r *Repository) ClaimNextStep(ctx context.Context, runID uuid.UUID, now time.Time) (*Step, error) {
	query := `UPDATE journey_run_steps SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM journey_run_steps
			WHERE run_id = $1 AND status = 'pending' AND (wake_at IS NULL OR wake_at <= $2)
			ORDER BY step_index ASC LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + stepColumns
	step, err := scanStep(r.pool.QueryRow(ctx, query, runID, now))
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil, nil
	}
	return step, err
}

// ClaimWoken returns every step across all runs whose delay has
// elapsed, the sweep poller's entry point. Unlike ClaimNextStep this
// does not flip status, since advancing still goes through the
// per-run ClaimNextStep claim to preserve FIFO ordering.
func (r *Repository) ClaimWoken(ctx context.Context, now time.Time, limit int) ([]Step, error) {
	query := `SELECT ` + stepColumns + ` FROM journey_run_steps
		WHERE status = 'pending' AND wake_at IS NOT NULL AND wake_at <= $1
		ORDER BY wake_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim woken journey steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate woken journey steps: %w", err)
	}
	return steps, nil
}

// SetStepWakeAt reverts a claimed delay step back to pending with a
// future wake_at, so the sweep (not this call) advances it once due.
func (r *Repository) SetStepWakeAt(ctx context.Context, id uuid.UUID, wakeAt time.Time) error {
	query := `UPDATE journey_run_steps SET status = 'pending', wake_at = $1, updated_at = now() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, wakeAt, id)
	if err != nil {
		return fmt.Errorf("set journey step wake_at: %w", err)
	}
	return nil
}

// CompleteStep marks a running step completed/failed/skipped along
// with its output.
func (r *Repository) CompleteStep(ctx context.Context, id uuid.UUID, status string, output map[string]any, errMsg *string) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	query := `UPDATE journey_run_steps SET status = $1, output = $2, error = $3, updated_at = now() WHERE id = $4`
	_, err = r.pool.Exec(ctx, query, status, data, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete journey run step: %w", err)
	}
	return nil
}

// GetStepByID fetches a single step.
func (r *Repository) GetStepByID(ctx context.Context, id uuid.UUID) (*Step, error) {
	query := `SELECT ` + stepColumns + ` FROM journey_run_steps WHERE id = $1`
	return scanStep(r.pool.QueryRow(ctx, query, id))
}

// GetRunningSendMessageStep finds the run's currently running
// send_message step, used when a MessageStatusUpdated event needs to
// resolve which step a linked outbound Message belongs to.
func (r *Repository) GetRunningSendMessageStep(ctx context.Context, runID uuid.UUID) (*Step, error) {
	query := `SELECT ` + stepColumns + ` FROM journey_run_steps WHERE run_id = $1 AND status = 'running' ORDER BY step_index DESC LIMIT 1`
	return scanStep(r.pool.QueryRow(ctx, query, runID))
}

// ListSteps returns every step for a run in order.
func (r *Repository) ListSteps(ctx context.Context, runID uuid.UUID) ([]Step, error) {
	query := `SELECT ` + stepColumns + ` FROM journey_run_steps WHERE run_id = $1 ORDER BY step_index ASC`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list journey run steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journey run step rows: %w", err)
	}
	return steps, nil
}
