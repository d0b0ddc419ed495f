package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/imaging"
	"github.com/Lllllllleong/academicdocflow/internal/models"
	"github.com/Lllllllleong/academicdocflow/internal/store"
)

// contextMarker separates the translated page body from the trailing
// context the model emits for the next page.
const contextMarker = "<<<CONTEXT>>>"

var placeholderPattern = regexp.MustCompile(`\[\[asset:[^\]\n]*\]\]`)

// Translator turns one page image into a translated, structured markdown
// chunk. Calls are strictly sequential by page index: each consumes the
// previous page's trailing context and produces the next one's.
type Translator struct {
	invoker Invoker
	ws      *store.Workspace
	cfg     *config.Config
}

func NewTranslator(invoker Invoker, ws *store.Workspace, cfg *config.Config) *Translator {
	return &Translator{invoker: invoker, ws: ws, cfg: cfg}
}

// Translate performs one translation attempt for a page. A response that
// refuses, omits a required asset placeholder, or looks grossly truncated
// yields a TranslationError so the orchestrator's retry policy can act;
// silent truncation is the dominant quality failure mode for this pipeline.
func (t *Translator) Translate(ctx context.Context, page models.PageImage, incomingContext string, assets []models.VisualAsset) (*models.PageChunk, error) {
	logCtx := slog.With("page", page.Index)

	full, err := imaging.LoadPNG(page.Path)
	if err != nil {
		return nil, &TranslationError{Page: page.Index, Reason: "could not load page image", Err: err}
	}
	transmitPNG, err := imaging.EncodePNG(imaging.Downscale(full, imaging.MaxTransmitWidth))
	if err != nil {
		return nil, &TranslationError{Page: page.Index, Reason: "could not encode page image", Err: err}
	}

	raw, err := t.invoker.Invoke(ctx, models.CapabilityRequest{
		Stage:        models.StageTranslation,
		Instructions: t.buildInstructions(incomingContext, assets),
		ImagePNG:     transmitPNG,
	})
	if err != nil {
		return nil, &TranslationError{Page: page.Index, Reason: "capability call failed", Err: err}
	}

	if isRefusal(raw) {
		return nil, &TranslationError{Page: page.Index, Reason: "capability refused the page"}
	}

	body, outgoing := splitTrailingContext(raw)

	if err := t.ws.SaveIntermediate(ctx, store.StageRaw, page.Index, raw); err != nil {
		logCtx.Warn("Failed to save raw intermediate.", "error", err)
	}

	for _, a := range assets {
		if !strings.Contains(body, placeholderFor(a.ID)) {
			return nil, &TranslationError{
				Page:   page.Index,
				Reason: fmt.Sprintf("response omits required placeholder for asset %s", a.ID),
			}
		}
	}

	if utf8.RuneCountInString(body) < t.cfg.TruncationFloor {
		return nil, &TranslationError{
			Page:   page.Index,
			Reason: fmt.Sprintf("suspected truncation: %d runes below floor %d", utf8.RuneCountInString(body), t.cfg.TruncationFloor),
		}
	}

	markdown := substitutePlaceholders(body, assets)
	outgoing = clipRunes(outgoing, t.cfg.ContextLimit)

	chunk := &models.PageChunk{
		Index:           page.Index,
		Markdown:        markdown,
		Assets:          assetIDs(assets),
		OutgoingContext: outgoing,
	}

	if err := t.ws.SaveIntermediate(ctx, store.StageFinal, page.Index, markdown); err != nil {
		logCtx.Warn("Failed to save chunk intermediate.", "error", err)
	}
	if err := t.ws.SaveIntermediate(ctx, store.StageContext, page.Index, outgoing); err != nil {
		logCtx.Warn("Failed to save context intermediate.", "error", err)
	}

	logCtx.Info("Page translated.", "assets", len(assets), "contextRunes", utf8.RuneCountInString(outgoing))
	return chunk, nil
}

func (t *Translator) buildInstructions(incomingContext string, assets []models.VisualAsset) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You will be given one scanned page of an academic document.

Translate the page's full content into %s as structured markdown.

Rules:
1. Translate completely and verbatim: every sentence, paragraph, list item, and footnote. Never summarize and never drop content.
2. If the page uses a two-column layout, read the left column fully from top to bottom, then the right column. Do not interleave the columns.
3. Use # ## ### for headings and blank lines between paragraphs. Keep mathematical formulas in LaTeX form ($...$ or $$...$$) untranslated. Keep personal names and citation markers as they are.
4. Do not transcribe text that sits inside figures or tables; their content is captured separately as images.
`, t.cfg.TargetLanguage)

	if len(assets) > 0 {
		b.WriteString("\nThis page contains the following visual elements. At the position in the text where each element appears in the source, emit the placeholder [[asset:<id>]] on its own line. Every listed id must appear exactly once:\n")
		for _, a := range assets {
			title := a.Title
			if title == "" {
				title = "(no caption)"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.ID.Kind, title)
		}
	}

	if incomingContext != "" {
		fmt.Fprintf(&b, "\nThe previous page ended mid-construct. Continue seamlessly from this trailing state instead of restarting the sentence, list, or table:\n%s\n", incomingContext)
	}

	fmt.Fprintf(&b, `
After the page content, output a line containing exactly %s followed by a short note (at most two sentences) describing any construct left unterminated at the bottom of this page: an unfinished sentence, an open list or table, or the section currently in progress. If the page ends cleanly, output %s followed by nothing.

Return only the markdown content and the %s block. Do not add explanations.`, contextMarker, contextMarker, contextMarker)

	return b.String()
}

// splitTrailingContext separates the page body from the model's trailing
// context block. A missing marker means the page ended cleanly.
func splitTrailingContext(raw string) (body, outgoing string) {
	idx := strings.LastIndex(raw, contextMarker)
	if idx < 0 {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(raw[:idx]), strings.TrimSpace(raw[idx+len(contextMarker):])
}

// substitutePlaceholders resolves every required asset placeholder into a
// markdown image reference and strips any placeholder the model invented.
func substitutePlaceholders(body string, assets []models.VisualAsset) string {
	for _, a := range assets {
		ref := fmt.Sprintf("![%s](%s)", a.ID, a.Path)
		body = strings.ReplaceAll(body, placeholderFor(a.ID), ref)
	}
	return placeholderPattern.ReplaceAllString(body, "")
}

func placeholderFor(id models.AssetID) string {
	return fmt.Sprintf("[[asset:%s]]", id)
}

func assetIDs(assets []models.VisualAsset) []models.AssetID {
	ids := make([]models.AssetID, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}

func clipRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
