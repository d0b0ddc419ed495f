package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// refPattern matches a textual asset reference: a markdown image whose
// target sits in the figures/ or tables/ directory. Capture 1 is the full
// target path, capture 2 the asset name stem.
var refPattern = regexp.MustCompile(`!\[[^\]\n]*\]\(((?:figures|tables)/([A-Za-z0-9_]+)\.png)\)`)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Reconcile enforces the 1:1 correspondence between manifest assets and
// textual references in an assembled document. Dangling references are
// removed, duplicates reduced to the first occurrence, and a missing
// reference is appended at the end of its source page's segment. The pass
// is total and idempotent: re-running it on its own output yields the same
// text and an empty repair log.
func Reconcile(doc string, manifest *models.AssetManifest) (string, []models.Repair) {
	var repairs []models.Repair
	segments := strings.Split(doc, PageSeparator)
	seen := make(map[models.AssetID]bool)

	// Pass one: validate every reference found in the text.
	for i, segment := range segments {
		segments[i] = refPattern.ReplaceAllStringFunc(segment, func(token string) string {
			m := refPattern.FindStringSubmatch(token)
			id, err := models.ParseAssetID(m[2])
			if err != nil {
				repairs = append(repairs, models.Repair{
					Kind:   models.RepairRemovedDangling,
					Asset:  m[2],
					Detail: "reference target is not a valid asset name",
				})
				return ""
			}
			if _, ok := manifest.Lookup(id); !ok {
				repairs = append(repairs, models.Repair{
					Kind:   models.RepairRemovedDangling,
					Asset:  id.String(),
					Detail: "no matching asset in manifest",
				})
				return ""
			}
			if seen[id] {
				repairs = append(repairs, models.Repair{
					Kind:   models.RepairRemovedDuplicate,
					Asset:  id.String(),
					Detail: "kept first occurrence",
				})
				return ""
			}
			seen[id] = true
			return token
		})
	}

	// Pass two: every manifest asset must be referenced somewhere.
	for _, id := range manifest.IDs() {
		if seen[id] {
			continue
		}
		asset, _ := manifest.Lookup(id)
		ref := fmt.Sprintf("![%s](%s)", id, asset.Path)

		// Deterministic placement rule: the reference goes at the end of the
		// asset's source page segment. Pages past the segment list (a
		// malformed document) fall back to the last segment.
		target := id.Page - 1
		detail := fmt.Sprintf("appended at end of page %d", id.Page)
		if target < 0 || target >= len(segments) {
			target = len(segments) - 1
			detail = "source page segment not found, appended at document end"
		}
		segments[target] = strings.TrimRight(segments[target], "\n ") + "\n\n" + ref
		repairs = append(repairs, models.Repair{
			Kind:   models.RepairInsertedReference,
			Asset:  id.String(),
			Detail: detail,
		})
	}

	for i := range segments {
		segments[i] = blankRuns.ReplaceAllString(segments[i], "\n\n")
	}
	return strings.Join(segments, PageSeparator), repairs
}

// ReferenceTokens returns the multiset of asset reference tokens in a
// document, used to verify that the quality pass preserved every reference
// verbatim.
func ReferenceTokens(doc string) map[string]int {
	tokens := make(map[string]int)
	for _, m := range refPattern.FindAllString(doc, -1) {
		tokens[m]++
	}
	return tokens
}
