package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// PageSeparator joins per-page segments in the assembled document. The
// reconciler relies on it to locate page boundaries.
const PageSeparator = "\n\n---\n\n"

var looseImageRefs = regexp.MustCompile(`!\[([^\]\n]*)\]\s*\(\s*([^)\n]+?)\s*\)`)

// GapMarker renders the explicit placeholder for a page that failed
// translation, so the final document stays auditable against the source
// page count.
func GapMarker(page int) string {
	return fmt.Sprintf("> [missing page %d: translation failed]", page)
}

// Assemble concatenates page chunks strictly by ascending page index,
// independent of the order translation calls completed in. Pages with no
// chunk are rendered as explicit gap markers, never silently omitted.
func Assemble(chunks []models.PageChunk, pageCount int) string {
	byIndex := make(map[int]string, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c.Markdown
	}

	segments := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		body, ok := byIndex[i]
		if !ok {
			body = GapMarker(i)
		}
		segments = append(segments, strings.TrimSpace(body))
	}

	return postProcess(strings.Join(segments, PageSeparator))
}

// postProcess normalizes the assembled markdown: tighten image reference
// spacing and collapse runs of blank lines left by page boundaries.
func postProcess(doc string) string {
	doc = looseImageRefs.ReplaceAllString(doc, "![$1]($2)")
	doc = blankRuns.ReplaceAllString(doc, "\n\n")
	return strings.TrimSpace(doc)
}
