// ABOUTME: Tests for workflow definition and run persistence
// ABOUTME: Covers trigger matching, enabled filtering, and run lifecycle

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestWorkflow(t *testing.T, s *SQLiteStore, orgID, trigger string) *Workflow {
	t.Helper()

	wf := &Workflow{
		OrgID:        orgID,
		Name:         "on " + trigger,
		TriggerEvent: trigger,
		Steps: []WorkflowStep{
			{Type: "annotate", Note: "triggered"},
		},
		Enabled: true,
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestWorkflow_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	wf := createTestWorkflow(t, s, org.ID, "page.published")

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "page.published", got.TriggerEvent)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "annotate", got.Steps[0].Type)
	assert.True(t, got.Enabled)
}

func TestWorkflow_ListByTrigger(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	matching := createTestWorkflow(t, s, org.ID, "page.published")
	createTestWorkflow(t, s, org.ID, "user.invited")

	disabled := createTestWorkflow(t, s, org.ID, "page.published")
	disabled.Enabled = false
	require.NoError(t, s.UpdateWorkflow(ctx, disabled))

	wfs, err := s.ListWorkflowsByTrigger(ctx, org.ID, "page.published")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, matching.ID, wfs[0].ID)
}

func TestWorkflow_Update(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	wf := createTestWorkflow(t, s, org.ID, "page.published")

	wf.Steps = append(wf.Steps, WorkflowStep{Type: "webhook", WebhookID: "hook-1"})
	wf.Name = "renamed"
	require.NoError(t, s.UpdateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "hook-1", got.Steps[1].WebhookID)
}

func TestWorkflow_DeleteRemovesRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	wf := createTestWorkflow(t, s, org.ID, "page.published")

	run := &WorkflowRun{WorkflowID: wf.ID, Trigger: map[string]any{"slug": "launch"}}
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	_, err := s.GetWorkflow(ctx, wf.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := s.ListRuns(ctx, wf.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWorkflowRun_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	wf := createTestWorkflow(t, s, org.ID, "page.published")

	run := &WorkflowRun{
		WorkflowID: wf.ID,
		Trigger:    map[string]any{"slug": "launch"},
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.Equal(t, RunRunning, run.Status)

	run.Status = RunFailed
	run.Results = []StepResult{
		{Step: 0, Type: "annotate", Status: "succeeded"},
		{Step: 1, Type: "webhook", Status: "failed", Error: "endpoint unreachable"},
	}
	require.NoError(t, s.FinishRun(ctx, run))

	runs, err := s.ListRuns(ctx, wf.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, RunFailed, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, "launch", got.Trigger["slug"])
	require.Len(t, got.Results, 2)
	assert.Equal(t, "endpoint unreachable", got.Results[1].Error)
}

func TestWorkflowRun_FinishMissing(t *testing.T) {
	s := setupTestStore(t)

	err := s.FinishRun(context.Background(), &WorkflowRun{ID: "missing", Status: RunSucceeded})
	assert.ErrorIs(t, err, ErrNotFound)
}
