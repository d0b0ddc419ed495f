package models

// Stage names one of the pipeline's external capability endpoints.
type Stage string

const (
	StageExtraction   Stage = "extraction"
	StageTranslation  Stage = "translation"
	StageOptimization Stage = "optimization"
)

// Stages lists all capability stages in pipeline order.
var Stages = []Stage{StageExtraction, StageTranslation, StageOptimization}

// PageImage is one rasterized source page, produced by the external
// rasterizer and owned by the orchestrator for the duration of a run.
type PageImage struct {
	// Index is 1-based and contiguous across the document.
	Index int
	// Path points at the full-resolution PNG under the workspace pages/ dir.
	Path string
	DPI  int
}

// PageChunk is the translated, structured text for one page, plus the
// trailing context handed to the next page's translation call. Read-only
// after creation.
type PageChunk struct {
	Index    int
	Markdown string
	// Assets lists the asset IDs whose references this chunk is expected to
	// carry, in source order.
	Assets []AssetID
	// OutgoingContext is a bounded summary of unterminated narrative state
	// (open sentence, list, table) for the next page. Empty when the page
	// ends cleanly.
	OutgoingContext string
}

// CapabilityRequest is the abstract payload submitted to an external
// capability: instructions plus at most one page image and one text body.
// Transport, auth and provider payload shape belong to the invoker.
type CapabilityRequest struct {
	Stage        Stage
	Instructions string
	// ImagePNG holds the (possibly downscaled) page raster, nil for
	// text-only calls.
	ImagePNG []byte
	// Text holds a document payload for text-only calls.
	Text string
}
