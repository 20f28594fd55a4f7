// ABOUTME: Workflow definition handlers and manual run triggering
// ABOUTME: Manual triggers run synchronously so the response carries the run

package console

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
)

type apiWorkflow struct {
	ID           string               `json:"id"`
	OrgID        string               `json:"org_id"`
	Name         string               `json:"name"`
	TriggerEvent string               `json:"trigger_event"`
	Steps        []store.WorkflowStep `json:"steps"`
	Enabled      bool                 `json:"enabled"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func toAPIWorkflow(wf *store.Workflow) *apiWorkflow {
	return &apiWorkflow{
		ID:           wf.ID,
		OrgID:        wf.OrgID,
		Name:         wf.Name,
		TriggerEvent: wf.TriggerEvent,
		Steps:        wf.Steps,
		Enabled:      wf.Enabled,
		CreatedAt:    wf.CreatedAt,
		UpdatedAt:    wf.UpdatedAt,
	}
}

// validateSteps rejects steps with missing type-specific fields before the
// definition is saved, rather than at run time.
func validateSteps(steps []store.WorkflowStep) string {
	if len(steps) == 0 {
		return "at least one step is required"
	}
	for i, step := range steps {
		switch step.Type {
		case "webhook":
			if step.WebhookID == "" {
				return "webhook step requires webhook_id"
			}
		case "publish_page":
			if step.PageSlug == "" {
				return "publish_page step requires page_slug"
			}
		case "annotate":
			if step.Note == "" {
				return "annotate step requires note"
			}
		default:
			return fmt.Sprintf("unknown step type %q at index %d", step.Type, i)
		}
	}
	return ""
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiWorkflow, len(workflows))
	for i, wf := range workflows {
		out[i] = toAPIWorkflow(wf)
	}
	writeJSON(w, http.StatusOK, out)
}

type createWorkflowRequest struct {
	Name         string               `json:"name"`
	TriggerEvent string               `json:"trigger_event"`
	Steps        []store.WorkflowStep `json:"steps"`
	Enabled      *bool                `json:"enabled,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.TriggerEvent == "" {
		writeError(w, http.StatusBadRequest, "name and trigger_event are required")
		return
	}
	if msg := validateSteps(req.Steps); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	wf := &store.Workflow{
		OrgID:        authCtx.OrgID,
		Name:         req.Name,
		TriggerEvent: req.TriggerEvent,
		Steps:        req.Steps,
		Enabled:      enabled,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreateWorkflow, "workflow", wf.ID, map[string]any{"name": wf.Name, "trigger": wf.TriggerEvent})
	writeJSON(w, http.StatusCreated, toAPIWorkflow(wf))
}

// getOrgWorkflow loads a workflow and hides other orgs' behind 404.
func (s *Server) getOrgWorkflow(w http.ResponseWriter, r *http.Request) *store.Workflow {
	wf, err := s.store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if wf.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return wf
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf := s.getOrgWorkflow(w, r)
	if wf == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIWorkflow(wf))
}

type updateWorkflowRequest struct {
	Name         *string              `json:"name,omitempty"`
	TriggerEvent *string              `json:"trigger_event,omitempty"`
	Steps        []store.WorkflowStep `json:"steps,omitempty"`
	Enabled      *bool                `json:"enabled,omitempty"`
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req updateWorkflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wf := s.getOrgWorkflow(w, r)
	if wf == nil {
		return
	}
	ctx := r.Context()

	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.TriggerEvent != nil {
		wf.TriggerEvent = *req.TriggerEvent
	}
	if req.Steps != nil {
		if msg := validateSteps(req.Steps); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		wf.Steps = req.Steps
	}
	if req.Enabled != nil {
		wf.Enabled = *req.Enabled
	}

	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateWorkflow, "workflow", wf.ID, nil)
	writeJSON(w, http.StatusOK, toAPIWorkflow(wf))
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	wf := s.getOrgWorkflow(w, r)
	if wf == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.DeleteWorkflow(ctx, wf.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDeleteWorkflow, "workflow", wf.ID, map[string]any{"name": wf.Name})
	w.WriteHeader(http.StatusNoContent)
}

type apiRun struct {
	ID         string             `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	Trigger    map[string]any     `json:"trigger"`
	Status     string             `json:"status"`
	Results    []store.StepResult `json:"results"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

func toAPIRun(run *store.WorkflowRun) *apiRun {
	return &apiRun{
		ID:         run.ID,
		WorkflowID: run.WorkflowID,
		Trigger:    run.Trigger,
		Status:     string(run.Status),
		Results:    run.Results,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	wf := s.getOrgWorkflow(w, r)
	if wf == nil {
		return
	}

	runs, err := s.store.ListRuns(r.Context(), wf.ID, queryInt(r, "limit", 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiRun, len(runs))
	for i, run := range runs {
		out[i] = toAPIRun(run)
	}
	writeJSON(w, http.StatusOK, out)
}

type triggerWorkflowRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// handleTriggerWorkflow starts a manual run. The run executes synchronously
// and the finished run is returned.
func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	var req triggerWorkflowRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	wf := s.getOrgWorkflow(w, r)
	if wf == nil {
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return
	}
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	event := webhook.NewEvent(authCtx.OrgID, "workflow.manual", actor(authCtx), req.Payload)
	s.engine.Run(ctx, wf, event)

	s.audit(ctx, authCtx, store.AuditTriggerWorkflow, "workflow", wf.ID, map[string]any{"event_id": event.ID})

	runs, err := s.store.ListRuns(ctx, wf.ID, 1)
	if err != nil || len(runs) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	writeJSON(w, http.StatusCreated, toAPIRun(runs[0]))
}
