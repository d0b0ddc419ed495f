package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// RunRegistry records run status in a Firestore collection, one document per
// run. It satisfies the orchestrator's RunRecorder interface; runs work the
// same without it.
type RunRegistry struct {
	client     *firestore.Client
	collection string
	docRef     *firestore.DocumentRef
}

// NewRunRegistry creates a registry backed by the given project and
// collection.
func NewRunRegistry(ctx context.Context, projectID, collection string) (*RunRegistry, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection must be provided to create a run registry")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &RunRegistry{client: client, collection: collection}, nil
}

// RunStarted creates the run's master document.
func (r *RunRegistry) RunStarted(ctx context.Context, source, sourceHash string, pageCount int) error {
	rec := models.RunRecord{
		SourceHash:       sourceHash,
		OriginalFilename: source,
		Status:           string(models.StateConfiguring),
		PageCount:        pageCount,
		CreatedAt:        time.Now(),
	}
	docRef, _, err := r.client.Collection(r.collection).Add(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	r.docRef = docRef
	return nil
}

// RunState updates the run's status; errDetails may be empty.
func (r *RunRegistry) RunState(ctx context.Context, state models.RunState, errDetails string) error {
	if r.docRef == nil {
		return nil
	}
	updates := []firestore.Update{
		{Path: "status", Value: string(state)},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := r.docRef.Update(ctx, updates)
	return err
}

func (r *RunRegistry) Close() error {
	return r.client.Close()
}
