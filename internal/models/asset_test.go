package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetIDString(t *testing.T) {
	tests := []struct {
		name string
		id   AssetID
		want string
	}{
		{
			name: "figure",
			id:   AssetID{Page: 3, Kind: KindFigure, Seq: 1},
			want: "page3_figure_1",
		},
		{
			name: "table",
			id:   AssetID{Page: 12, Kind: KindTable, Seq: 4},
			want: "page12_table_4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.String())
		})
	}
}

func TestAssetIDRelPath(t *testing.T) {
	assert.Equal(t, "figures/page3_figure_1.png", AssetID{Page: 3, Kind: KindFigure, Seq: 1}.RelPath())
	assert.Equal(t, "tables/page7_table_2.png", AssetID{Page: 7, Kind: KindTable, Seq: 2}.RelPath())
}

func TestParseAssetID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    AssetID
		wantErr bool
	}{
		{
			name:  "figure round trip",
			input: "page3_figure_1",
			want:  AssetID{Page: 3, Kind: KindFigure, Seq: 1},
		},
		{
			name:  "table round trip",
			input: "page10_table_2",
			want:  AssetID{Page: 10, Kind: KindTable, Seq: 2},
		},
		{
			name:    "unknown kind",
			input:   "page3_chart_1",
			wantErr: true,
		},
		{
			name:    "missing sequence",
			input:   "page3_figure",
			wantErr: true,
		},
		{
			name:    "trailing garbage",
			input:   "page3_figure_1.png",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssetID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssetManifestOrdering(t *testing.T) {
	m := NewAssetManifest()
	// Insert out of order; IDs must come back sorted by page, kind, seq.
	for _, id := range []AssetID{
		{Page: 2, Kind: KindTable, Seq: 1},
		{Page: 1, Kind: KindFigure, Seq: 2},
		{Page: 2, Kind: KindFigure, Seq: 1},
		{Page: 1, Kind: KindFigure, Seq: 1},
	} {
		m.Add(VisualAsset{ID: id, Path: id.RelPath()})
	}
	m.Seal()

	assert.Equal(t, []AssetID{
		{Page: 1, Kind: KindFigure, Seq: 1},
		{Page: 1, Kind: KindFigure, Seq: 2},
		{Page: 2, Kind: KindFigure, Seq: 1},
		{Page: 2, Kind: KindTable, Seq: 1},
	}, m.IDs())

	assert.Equal(t, []AssetID{
		{Page: 2, Kind: KindFigure, Seq: 1},
		{Page: 2, Kind: KindTable, Seq: 1},
	}, m.PageIDs(2))
	assert.Empty(t, m.PageIDs(3))

	figures, tables := m.Counts()
	assert.Equal(t, 3, figures)
	assert.Equal(t, 1, tables)
	assert.Equal(t, 4, m.Len())
}

func TestAssetManifestGuards(t *testing.T) {
	id := AssetID{Page: 1, Kind: KindFigure, Seq: 1}

	t.Run("duplicate add panics", func(t *testing.T) {
		m := NewAssetManifest()
		m.Add(VisualAsset{ID: id})
		assert.Panics(t, func() { m.Add(VisualAsset{ID: id}) })
	})

	t.Run("add after seal panics", func(t *testing.T) {
		m := NewAssetManifest()
		m.Seal()
		assert.Panics(t, func() { m.Add(VisualAsset{ID: id}) })
	})

	t.Run("lookup after seal", func(t *testing.T) {
		m := NewAssetManifest()
		m.Add(VisualAsset{ID: id, Title: "Flow diagram"})
		m.Seal()
		got, ok := m.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, "Flow diagram", got.Title)
		_, ok = m.Lookup(AssetID{Page: 9, Kind: KindTable, Seq: 1})
		assert.False(t, ok)
	})
}
