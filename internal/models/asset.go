package models

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// AssetKind classifies an extracted visual element.
type AssetKind string

const (
	KindFigure AssetKind = "figure"
	KindTable  AssetKind = "table"
)

// Dir returns the output subdirectory holding assets of this kind.
func (k AssetKind) Dir() string {
	if k == KindTable {
		return "tables"
	}
	return "figures"
}

// AssetID identifies one visual asset: the page it was cropped from, its
// kind, and its per-page sequence number (1-based).
type AssetID struct {
	Page int
	Kind AssetKind
	Seq  int
}

// String renders the canonical asset name, e.g. "page3_figure_1".
// This name is also the asset's file stem on disk.
func (id AssetID) String() string {
	return fmt.Sprintf("page%d_%s_%d", id.Page, id.Kind, id.Seq)
}

// RelPath returns the asset's path relative to the workspace root.
func (id AssetID) RelPath() string {
	return fmt.Sprintf("%s/%s.png", id.Kind.Dir(), id.String())
}

var assetIDPattern = regexp.MustCompile(`^page(\d+)_(figure|table)_(\d+)$`)

// ParseAssetID parses a canonical asset name back into an AssetID.
func ParseAssetID(s string) (AssetID, error) {
	m := assetIDPattern.FindStringSubmatch(s)
	if m == nil {
		return AssetID{}, fmt.Errorf("not a valid asset id: %q", s)
	}
	page, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[3])
	return AssetID{Page: page, Kind: AssetKind(m[2]), Seq: seq}, nil
}

// Region is a bounding box in fractional page coordinates, as returned by
// the extraction capability: 0,0 is the top-left corner, 1,1 bottom-right.
type Region struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// VisualAsset is one figure or table cropped out of a page. Immutable once
// created by the extractor.
type VisualAsset struct {
	ID     AssetID `json:"id"`
	Title  string  `json:"title,omitempty"`
	Bounds Region  `json:"bounds"`
	// Path is the saved crop, relative to the workspace root.
	Path string `json:"path"`
}

// AssetManifest maps asset IDs to their saved assets. It is built during the
// extraction stage, one writer per page, and sealed before translation
// starts; after sealing it is read-only.
type AssetManifest struct {
	assets map[AssetID]VisualAsset
	sealed bool
}

func NewAssetManifest() *AssetManifest {
	return &AssetManifest{assets: make(map[AssetID]VisualAsset)}
}

// Add records an asset. Adding to a sealed manifest or re-adding an existing
// ID indicates an orchestration bug and panics.
func (m *AssetManifest) Add(a VisualAsset) {
	if m.sealed {
		panic("asset manifest: add after seal")
	}
	if _, exists := m.assets[a.ID]; exists {
		panic(fmt.Sprintf("asset manifest: duplicate id %s", a.ID))
	}
	m.assets[a.ID] = a
}

// Seal marks the manifest complete. Extraction must have terminated for
// every page before sealing.
func (m *AssetManifest) Seal() { m.sealed = true }

// Lookup returns the asset for id, if present.
func (m *AssetManifest) Lookup(id AssetID) (VisualAsset, bool) {
	a, ok := m.assets[id]
	return a, ok
}

// Len returns the number of recorded assets.
func (m *AssetManifest) Len() int { return len(m.assets) }

// IDs returns all asset IDs ordered by page, kind, then sequence.
func (m *AssetManifest) IDs() []AssetID {
	ids := make([]AssetID, 0, len(m.assets))
	for id := range m.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Page != ids[j].Page {
			return ids[i].Page < ids[j].Page
		}
		if ids[i].Kind != ids[j].Kind {
			return ids[i].Kind < ids[j].Kind
		}
		return ids[i].Seq < ids[j].Seq
	})
	return ids
}

// PageIDs returns the IDs of assets extracted from the given page, ordered.
func (m *AssetManifest) PageIDs(page int) []AssetID {
	var ids []AssetID
	for _, id := range m.IDs() {
		if id.Page == page {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts returns the number of figures and tables in the manifest.
func (m *AssetManifest) Counts() (figures, tables int) {
	for id := range m.assets {
		if id.Kind == KindTable {
			tables++
		} else {
			figures++
		}
	}
	return figures, tables
}
