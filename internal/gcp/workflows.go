package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/googleapis/gax-go/v2"
)

// ExecutionCreator is the part of the executions client the trigger needs.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// ExecutionRecorder stores the execution started for a document.
type ExecutionRecorder interface {
	SetWorkflowExecution(ctx context.Context, documentID, executionID string) error
}

// WorkflowTrigger starts a Cloud Workflows execution when a document
// becomes ready for analysis.
type WorkflowTrigger struct {
	client   ExecutionCreator
	recorder ExecutionRecorder
	parent   string
}

// NewWorkflowTrigger creates a trigger for the workflow
// projects/<projectID>/locations/<location>/workflows/<workflowID>.
func NewWorkflowTrigger(client ExecutionCreator, recorder ExecutionRecorder, projectID, location, workflowID string) *WorkflowTrigger {
	return &WorkflowTrigger{
		client:   client,
		recorder: recorder,
		parent:   fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

// NewExecutionsClient creates the Workflows executions client.
func NewExecutionsClient(ctx context.Context) (*executions.Client, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflows executions client")
	}
	return client, nil
}

// DocumentReady triggers one workflow execution with the ready event as its
// argument and records the execution name on the document.
func (w *WorkflowTrigger) DocumentReady(ctx context.Context, ev models.ReadyEvent) error {
	logCtx := slog.With("documentId", ev.DocumentID)
	logCtx.Info("Triggering workflow.", "workflow", w.parent)

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to marshal workflow payload")
	}
	exec, err := w.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to trigger workflow execution")
	}

	if w.recorder != nil && exec.GetName() != "" {
		if err := w.recorder.SetWorkflowExecution(ctx, ev.DocumentID, exec.GetName()); err != nil {
			return errors.Wrap(err, "failed to record workflow execution")
		}
	}
	logCtx.Info("Workflow execution started.", "execution", exec.GetName())
	return nil
}
