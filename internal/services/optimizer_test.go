package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// scriptedInvoker returns a canned response (or error) for every call.
type scriptedInvoker struct {
	response string
	err      error
	requests []models.CapabilityRequest
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req models.CapabilityRequest) (string, error) {
	s.requests = append(s.requests, req)
	return s.response, s.err
}

func TestOptimizerRefineAccepted(t *testing.T) {
	doc := "# Title\n\n![page1_figure_1](figures/page1_figure_1.png)\n\nbody"
	refined := "# Title\n\n![page1_figure_1](figures/page1_figure_1.png)\n\nimproved body"
	inv := &scriptedInvoker{response: refined}

	opt := NewOptimizer(inv, &config.Config{})
	got, err := opt.Refine(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, refined, got)

	require.Len(t, inv.requests, 1)
	assert.Equal(t, models.StageOptimization, inv.requests[0].Stage)
	assert.Equal(t, doc, inv.requests[0].Text)
}

func TestOptimizerRefineRejected(t *testing.T) {
	doc := "![page1_figure_1](figures/page1_figure_1.png)\n\n![page2_table_1](tables/page2_table_1.png)"

	tests := []struct {
		name     string
		response string
		err      error
	}{
		{
			name:     "dropped reference",
			response: "![page1_figure_1](figures/page1_figure_1.png)\n\ntidied text",
		},
		{
			name: "invented reference",
			response: doc +
				"\n\n![page3_figure_1](figures/page3_figure_1.png)",
		},
		{
			name:     "duplicated reference",
			response: doc + "\n\n![page1_figure_1](figures/page1_figure_1.png)",
		},
		{
			name:     "empty response",
			response: "",
		},
		{
			name:     "refusal",
			response: "I cannot fulfill this request.",
		},
		{
			name: "transport failure",
			err:  errors.New("deadline exceeded"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &scriptedInvoker{response: tt.response, err: tt.err}
			opt := NewOptimizer(inv, &config.Config{})

			_, err := opt.Refine(context.Background(), doc)
			require.Error(t, err)
			var optErr *OptimizationError
			assert.True(t, errors.As(err, &optErr), "rejections must be OptimizationError so the caller keeps the reconciled document")
		})
	}
}
