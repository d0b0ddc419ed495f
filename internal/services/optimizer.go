package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/gcp"
	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// Optimizer runs the whole-document quality pass: unify formatting and fix
// local translation inconsistencies without removing content. Refinement is
// optional-quality, never load-bearing; the caller keeps the reconciled
// document when the result is rejected.
type Optimizer struct {
	invoker Invoker
	cfg     *config.Config
}

func NewOptimizer(invoker Invoker, cfg *config.Config) *Optimizer {
	return &Optimizer{invoker: invoker, cfg: cfg}
}

// Refine submits the reconciled document to the optimization capability and
// validates the result: the multiset of reference tokens must survive
// verbatim. Any discrepancy yields an OptimizationError.
func (o *Optimizer) Refine(ctx context.Context, doc string) (string, error) {
	refined, err := o.invoker.Invoke(ctx, models.CapabilityRequest{
		Stage:        models.StageOptimization,
		Instructions: gcp.OptimizerUserPrompt,
		Text:         doc,
	})
	if err != nil {
		return "", &OptimizationError{Reason: fmt.Sprintf("capability call failed: %v", err)}
	}
	if refined == "" {
		return "", &OptimizationError{Reason: "empty response"}
	}
	if isRefusal(refined) {
		return "", &OptimizationError{Reason: "capability refused the document"}
	}

	before := ReferenceTokens(doc)
	after := ReferenceTokens(refined)
	if err := compareTokenSets(before, after); err != nil {
		return "", &OptimizationError{Reason: err.Error()}
	}
	return refined, nil
}

func compareTokenSets(before, after map[string]int) error {
	for token, n := range before {
		if after[token] != n {
			return fmt.Errorf("reference token %q count changed from %d to %d", token, n, after[token])
		}
	}
	for token, n := range after {
		if _, ok := before[token]; !ok {
			return fmt.Errorf("reference token %q introduced %d time(s)", token, n)
		}
	}
	return nil
}
