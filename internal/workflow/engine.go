// ABOUTME: Workflow engine running event-triggered step sequences
// ABOUTME: Steps execute in order and fail fast; every run is recorded

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hexlayer/console/internal/metrics"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
)

// EngineStore is the subset of the store the engine needs.
type EngineStore interface {
	ListWorkflowsByTrigger(ctx context.Context, orgID, triggerEvent string) ([]*store.Workflow, error)
	CreateRun(ctx context.Context, run *store.WorkflowRun) error
	FinishRun(ctx context.Context, run *store.WorkflowRun) error
	GetPageBySlug(ctx context.Context, orgID, slug string) (*store.ContentPage, error)
	SetPageStatus(ctx context.Context, id string, status store.PageStatus) error
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// Deliverer sends an event to one webhook endpoint and reports the outcome.
type Deliverer interface {
	DeliverTo(ctx context.Context, webhookID string, event webhook.Event) error
}

// Engine matches published events against workflow triggers and runs the
// matching workflows in the background.
type Engine struct {
	store     EngineStore
	deliverer Deliverer
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewEngine creates a workflow engine.
func NewEngine(s EngineStore, deliverer Deliverer) *Engine {
	return &Engine{
		store:     s,
		deliverer: deliverer,
		logger:    slog.Default().With("component", "workflow-engine"),
	}
}

// Handle runs all enabled workflows triggered by the event.
// Implements the bus Handler signature; runs execute in the background.
func (e *Engine) Handle(ctx context.Context, event webhook.Event) {
	workflows, err := e.store.ListWorkflowsByTrigger(ctx, event.OrgID, event.Type)
	if err != nil {
		e.logger.Error("listing workflows", "org_id", event.OrgID, "trigger", event.Type, "error", err)
		return
	}

	for _, wf := range workflows {
		e.wg.Add(1)
		go func(wf *store.Workflow) {
			defer e.wg.Done()
			// Detached from the triggering request's lifecycle
			e.Run(context.WithoutCancel(ctx), wf, event)
		}(wf)
	}
}

// Wait blocks until all in-flight runs finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run executes one workflow for a triggering event and records the run.
func (e *Engine) Run(ctx context.Context, wf *store.Workflow, event webhook.Event) {
	run := &store.WorkflowRun{
		WorkflowID: wf.ID,
		Trigger: map[string]any{
			"event_id": event.ID,
			"type":     event.Type,
			"actor":    event.Actor,
		},
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.logger.Error("creating workflow run", "workflow_id", wf.ID, "error", err)
		return
	}

	run.Status = store.RunSucceeded
	failed := false

	for i, step := range wf.Steps {
		result := store.StepResult{Step: i, Type: step.Type}

		if failed {
			// Fail fast: steps after a failure never execute
			result.Status = "skipped"
			run.Results = append(run.Results, result)
			continue
		}

		if err := e.runStep(ctx, wf, step, event); err != nil {
			e.logger.Warn("workflow step failed",
				"workflow_id", wf.ID,
				"step", i,
				"type", step.Type,
				"error", err,
			)
			result.Status = "failed"
			result.Error = err.Error()
			run.Status = store.RunFailed
			failed = true
		} else {
			result.Status = "succeeded"
		}
		run.Results = append(run.Results, result)
	}

	if err := e.store.FinishRun(ctx, run); err != nil {
		e.logger.Error("finishing workflow run", "run_id", run.ID, "error", err)
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(run.Status)).Inc()
}

// runStep executes a single step.
func (e *Engine) runStep(ctx context.Context, wf *store.Workflow, step store.WorkflowStep, event webhook.Event) error {
	switch step.Type {
	case "webhook":
		if step.WebhookID == "" {
			return fmt.Errorf("webhook step has no webhook_id")
		}
		return e.deliverer.DeliverTo(ctx, step.WebhookID, event)

	case "publish_page":
		if step.PageSlug == "" {
			return fmt.Errorf("publish_page step has no page_slug")
		}
		page, err := e.store.GetPageBySlug(ctx, wf.OrgID, step.PageSlug)
		if err != nil {
			return fmt.Errorf("loading page %q: %w", step.PageSlug, err)
		}
		if page.Status == store.PageStatusPublished {
			// Already live; publishing again is a no-op
			return nil
		}
		if err := e.store.SetPageStatus(ctx, page.ID, store.PageStatusPublished); err != nil {
			return fmt.Errorf("publishing page %q: %w", step.PageSlug, err)
		}
		return nil

	case "annotate":
		entry := &store.AuditEntry{
			OrgID:       wf.OrgID,
			ActorUserID: "workflow:" + wf.ID,
			Action:      store.AuditTriggerWorkflow,
			TargetType:  "workflow",
			TargetID:    wf.ID,
			Detail: map[string]any{
				"note":     step.Note,
				"event_id": event.ID,
				"trigger":  event.Type,
			},
		}
		return e.store.AppendAuditLog(ctx, entry)

	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}
