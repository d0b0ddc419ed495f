package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// --- Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are a document layout analyst. Your task is to locate every figure and table on a scanned academic page image and report a tight bounding region for each. You must output your response as a single valid JSON object."
const ExtractorUserPrompt = `Analyze this academic page image and identify all figures and tables.

Requirements:
1. Identify every figure (plots, diagrams, photographs) and every table.
2. Report a bounding box [x_min, y_min, x_max, y_max] as fractions of the page dimensions (0.0 to 1.0).
3. The box must tightly enclose the whole figure/table together with its caption.
4. Report elements in reading order (top to bottom, left column before right column).

Output JSON format:
{
    "figures": [
        {"title": "Figure 1: ...", "bbox": [0.1, 0.2, 0.9, 0.6]}
    ],
    "tables": [
        {"title": "Table 1: ...", "bbox": [0.1, 0.7, 0.9, 0.95]}
    ]
}

Return empty arrays when nothing is found. Return ONLY the JSON object.`

// --- Translator Model Prompts ---
const TranslatorSystemPrompt = "You are a document parser and markdown translator. Your task is to parse the body text of a scanned academic page and translate it completely and verbatim into structured markdown. Accuracy, detail, and information preservation are of utmost importance. Never summarize and never drop sentences or footnotes."

// --- Optimizer Model Prompts ---
const OptimizerSystemPrompt = "You are an expert Markdown editor. Your task is to clean, refine, and consolidate a single Markdown file that was created by merging translated pages. Your goal is to make it a single, cohesive, and perfectly formatted document."
const OptimizerUserPrompt = `Follow these instructions to clean, refine, and consolidate the Markdown file:

1.  **Merge Broken Constructs**: Identify sentences, lists, and table fragments that are separated by page separators and merge them into a single, correctly formatted unit.
2.  **Smooth Formatting**: Ensure consistent heading levels, list formatting, and code blocks. Remove awkward line breaks in the middle of sentences that were caused by page breaks.
3.  **Remove Artifacts**: Delete repeated page headers/footers and page separators (a line of '---') that are not part of the content's structure.
4.  **Unify Terminology**: Where the same term was translated inconsistently on different pages, pick one rendering and use it throughout.

Strict constraints:
- Do NOT remove any content. If you are uncertain whether something is noise, leave it in.
- Every image reference of the form ![name](figures/file.png) or ![name](tables/file.png) MUST appear in your output exactly as it appears in the input. Never rewrite or drop such a reference.

Return ONLY the final, cleaned Markdown content. Do not include any preamble like "Here is the cleaned markdown" and do not surround the output with backtick fences.`

// VertexClient holds the pre-configured generative models for the three
// pipeline stages and implements the capability invoker consumed by the
// services package.
type VertexClient struct {
	stageModels map[models.Stage]*genai.GenerativeModel
	timeouts    map[models.Stage]time.Duration
	baseClients []*genai.Client
}

// NewVertexClient creates a model per configured stage, sharing one base
// client per distinct (project, region) pair.
func NewVertexClient(ctx context.Context, cfg *config.Config) (*VertexClient, error) {
	c := &VertexClient{
		stageModels: make(map[models.Stage]*genai.GenerativeModel, len(models.Stages)),
		timeouts:    make(map[models.Stage]time.Duration, len(models.Stages)),
	}
	clients := make(map[string]*genai.Client)

	for _, stage := range models.Stages {
		sc := cfg.Stage(stage)
		key := sc.Project + "/" + sc.Region
		base, ok := clients[key]
		if !ok {
			var err error
			base, err = genai.NewClient(ctx, sc.Project, sc.Region)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("genai.NewClient for stage %s: %w", stage, err)
			}
			clients[key] = base
			c.baseClients = append(c.baseClients, base)
		}
		c.stageModels[stage] = configureModel(base, stage, sc)
		c.timeouts[stage] = sc.Timeout
	}
	return c, nil
}

func configureModel(base *genai.Client, stage models.Stage, sc *config.StageConfig) *genai.GenerativeModel {
	model := base.GenerativeModel(sc.Model)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: genai.Ptr(sc.MaxOutputTokens),
	}
	switch stage {
	case models.StageExtraction:
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
		}
		// Force JSON output.
		model.GenerationConfig.ResponseMIMEType = "application/json"
		model.GenerationConfig.Temperature = genai.Ptr[float32](0.0)
	case models.StageTranslation:
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(TranslatorSystemPrompt)},
		}
		model.GenerationConfig.Temperature = genai.Ptr[float32](0.2)
	case models.StageOptimization:
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(OptimizerSystemPrompt)},
		}
		model.GenerationConfig.Temperature = genai.Ptr[float32](0.0)
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

// Invoke submits one capability request and returns the model's text
// response with any code fences stripped. The stage's configured timeout
// bounds the call.
func (c *VertexClient) Invoke(ctx context.Context, req models.CapabilityRequest) (string, error) {
	model, ok := c.stageModels[req.Stage]
	if !ok {
		return "", fmt.Errorf("no model configured for stage %q", req.Stage)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeouts[req.Stage])
	defer cancel()

	var parts []genai.Part
	if len(req.ImagePNG) > 0 {
		parts = append(parts, genai.ImageData("png", req.ImagePNG))
	}
	if req.Text != "" {
		parts = append(parts, genai.Text(req.Text))
	}
	parts = append(parts, genai.Text(req.Instructions))

	resp, err := model.GenerateContent(callCtx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return extractText(resp), nil
}

func (c *VertexClient) Close() error {
	var firstErr error
	for _, base := range c.baseClients {
		if err := base.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// extractText parses the model's response and robustly extracts text content.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
		}
	}

	contentStr := strings.TrimSpace(content.String())
	contentStr = strings.TrimPrefix(contentStr, "```markdown")
	contentStr = strings.TrimPrefix(contentStr, "```json")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr)
}
