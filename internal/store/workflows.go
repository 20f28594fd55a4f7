// ABOUTME: Workflow definition and run persistence
// ABOUTME: Steps and run results are stored as JSON columns

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// WorkflowStep is one step of a workflow definition.
// Type is one of "webhook", "publish_page", "annotate".
type WorkflowStep struct {
	Type      string `json:"type"`
	WebhookID string `json:"webhook_id,omitempty"` // for webhook steps
	PageSlug  string `json:"page_slug,omitempty"`  // for publish_page steps
	Note      string `json:"note,omitempty"`       // for annotate steps
}

// Workflow is an event-triggered automation definition.
type Workflow struct {
	ID           string
	OrgID        string
	Name         string
	TriggerEvent string
	Steps        []WorkflowStep
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Step   int    `json:"step"`
	Type   string `json:"type"`
	Status string `json:"status"` // "succeeded", "failed", "skipped"
	Error  string `json:"error,omitempty"`
}

// WorkflowRun records one execution of a workflow.
type WorkflowRun struct {
	ID         string
	WorkflowID string
	Trigger    map[string]any
	Status     RunStatus
	Results    []StepResult
	StartedAt  time.Time
	FinishedAt *time.Time
}

// WorkflowStore defines methods for workflow persistence.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, orgID string) ([]*Workflow, error)
	ListWorkflowsByTrigger(ctx context.Context, orgID, triggerEvent string) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	CreateRun(ctx context.Context, run *WorkflowRun) error
	FinishRun(ctx context.Context, run *WorkflowRun) error
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*WorkflowRun, error)
}

var _ WorkflowStore = (*SQLiteStore)(nil)

// CreateWorkflow creates a new workflow definition.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}

	steps, err := marshalSteps(wf.Steps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (id, org_id, name, trigger_event, steps_json, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		wf.ID,
		wf.OrgID,
		wf.Name,
		wf.TriggerEvent,
		steps,
		boolToInt(wf.Enabled),
		fmtTime(wf.CreatedAt),
		fmtTime(wf.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}

	s.logger.Debug("created workflow", "id", wf.ID, "org_id", wf.OrgID, "trigger", wf.TriggerEvent)
	return nil
}

const workflowColumns = `id, org_id, name, trigger_event, steps_json, enabled, created_at, updated_at`

// GetWorkflow retrieves a workflow by ID.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// UpdateWorkflow updates name, trigger, steps, and enabled flag.
func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	wf.UpdatedAt = time.Now().UTC()

	steps, err := marshalSteps(wf.Steps)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows
		SET name = ?, trigger_event = ?, steps_json = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		wf.Name,
		wf.TriggerEvent,
		steps,
		boolToInt(wf.Enabled),
		fmtTime(wf.UpdatedAt),
		wf.ID,
	)
	if err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows returns all workflows in an organization.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, orgID string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectWorkflows(rows)
}

// ListWorkflowsByTrigger returns enabled workflows subscribed to a trigger event.
func (s *SQLiteStore) ListWorkflowsByTrigger(ctx context.Context, orgID, triggerEvent string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE org_id = ? AND trigger_event = ? AND enabled = 1`,
		orgID, triggerEvent)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectWorkflows(rows)
}

// DeleteWorkflow removes a workflow and its run history.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_runs WHERE workflow_id = ?`, id); err != nil {
		return fmt.Errorf("deleting workflow runs: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun records a new workflow run in running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	trigger, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger: %w", err)
	}
	results, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (id, workflow_id, trigger_json, status, results_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		string(trigger),
		run.Status,
		results,
		fmtTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting workflow run: %w", err)
	}
	return nil
}

// FinishRun records the final status and step results of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *WorkflowRun) error {
	now := time.Now().UTC()
	if run.FinishedAt == nil {
		run.FinishedAt = &now
	}

	results, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	query := `UPDATE workflow_runs SET status = ?, results_json = ?, finished_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		results,
		nullTime(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing workflow run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns runs for a workflow, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workflow_id, trigger_json, status, results_json, started_at, finished_at
		FROM workflow_runs
		WHERE workflow_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying workflow runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*WorkflowRun
	for rows.Next() {
		var run WorkflowRun
		var triggerJSON, statusStr, resultsJSON, startedStr string
		var finishedAt sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.WorkflowID,
			&triggerJSON,
			&statusStr,
			&resultsJSON,
			&startedStr,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow run: %w", err)
		}

		run.Status = RunStatus(statusStr)
		if err := json.Unmarshal([]byte(triggerJSON), &run.Trigger); err != nil {
			return nil, fmt.Errorf("unmarshaling trigger: %w", err)
		}
		if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
		if run.StartedAt, err = parseTime(startedStr); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow runs: %w", err)
	}
	return runs, nil
}

// collectWorkflows scans all rows into workflows.
func collectWorkflows(rows *sql.Rows) ([]*Workflow, error) {
	var wfs []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflows: %w", err)
	}
	return wfs, nil
}

// scanWorkflow scans a row into a Workflow.
func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*Workflow, error) {
	var wf Workflow
	var stepsJSON, createdStr, updatedStr string
	var enabled int

	err := scanner.Scan(
		&wf.ID,
		&wf.OrgID,
		&wf.Name,
		&wf.TriggerEvent,
		&stepsJSON,
		&enabled,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning workflow: %w", err)
	}

	wf.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshaling steps: %w", err)
	}

	if wf.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &wf, nil
}

// marshalSteps serializes workflow steps, nil slices become "[]".
func marshalSteps(steps []WorkflowStep) (string, error) {
	if steps == nil {
		steps = []WorkflowStep{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("marshaling steps: %w", err)
	}
	return string(data), nil
}

// marshalResults serializes step results, nil slices become "[]".
func marshalResults(results []StepResult) (string, error) {
	if results == nil {
		results = []StepResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshaling results: %w", err)
	}
	return string(data), nil
}

// boolToInt converts a bool to a SQLite integer.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
