// Package services implements the page pipeline: visual-element extraction,
// page translation with cross-page context carry, document assembly,
// reference reconciliation, the optional quality pass, and the orchestrator
// that sequences them across a run.
package services

import (
	"context"
	"strings"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// Invoker submits one request to an external capability endpoint and
// returns its text response. Implementations own transport, auth and
// payload shape; this is the only suspension point in the pipeline core.
type Invoker interface {
	Invoke(ctx context.Context, req models.CapabilityRequest) (string, error)
}

// refusalPhrases flag model responses that decline the task instead of
// performing it. A refusal must fail the call, never pass as content.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

func isRefusal(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
