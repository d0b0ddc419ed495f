package models

import "time"

// RunState is the orchestrator's position in the pipeline state machine.
type RunState string

const (
	StateConfiguring RunState = "CONFIGURING"
	StateExtracting  RunState = "EXTRACTING"
	StateTranslating RunState = "TRANSLATING"
	StateAssembling  RunState = "ASSEMBLING"
	StateReconciling RunState = "RECONCILING"
	StateOptimizing  RunState = "OPTIMIZING"
	StateDone        RunState = "DONE"
	StateAborted     RunState = "ABORTED"
)

// PageOutcome is the terminal status of one page within one stage.
type PageOutcome string

const (
	PageSucceeded PageOutcome = "succeeded"
	PageFailed    PageOutcome = "failed"
)

// PageStatus records how one page fared in one stage of the run.
type PageStatus struct {
	Page    int         `json:"page"`
	Stage   Stage       `json:"stage"`
	Outcome PageOutcome `json:"outcome"`
	// Retries counts attempts beyond the first.
	Retries int    `json:"retries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RepairKind classifies a reconciliation repair.
type RepairKind string

const (
	RepairInsertedReference RepairKind = "inserted_reference"
	RepairRemovedDangling   RepairKind = "removed_dangling"
	RepairRemovedDuplicate  RepairKind = "removed_duplicate"
)

// Repair is one audit entry produced by the reference reconciler. Repairs
// are not errors; they are surfaced through the run summary.
type Repair struct {
	Kind   RepairKind `json:"kind"`
	Asset  string     `json:"asset"`
	Detail string     `json:"detail,omitempty"`
}

// RunSummary is the machine-readable record of one end-to-end run. It is
// append-only while the run progresses and finalized by the orchestrator.
type RunSummary struct {
	Source        string       `json:"source"`
	SourceHash    string       `json:"sourceHash,omitempty"`
	PageCount     int          `json:"pageCount"`
	State         RunState     `json:"state"`
	Pages         []PageStatus `json:"pages"`
	Repairs       []Repair     `json:"repairs,omitempty"`
	FigureCount   int          `json:"figureCount"`
	TableCount    int          `json:"tableCount"`
	FinalDocument string       `json:"finalDocument,omitempty"`
	Optimized     bool         `json:"optimized"`
	// OptimizationError records why a quality-pass result was discarded.
	OptimizationError string    `json:"optimizationError,omitempty"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt,omitempty"`
}

// FailedPages returns the indices of pages that terminally failed the given
// stage.
func (s *RunSummary) FailedPages(stage Stage) []int {
	var pages []int
	for _, p := range s.Pages {
		if p.Stage == stage && p.Outcome == PageFailed {
			pages = append(pages, p.Page)
		}
	}
	return pages
}

// FailedFraction returns the fraction of pages that failed the given stage.
func (s *RunSummary) FailedFraction(stage Stage) float64 {
	if s.PageCount == 0 {
		return 0
	}
	return float64(len(s.FailedPages(stage))) / float64(s.PageCount)
}
