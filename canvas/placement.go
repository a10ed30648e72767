package canvas

import (
	"fmt"
	"strings"
)

// VariationLayout selects how a batch of variation tiles is arranged next to
// the tile it was derived from.
type VariationLayout int

const (
	// VariationGrid places tiles two per row, the second row one tile plus
	// spacing below the original.
	VariationGrid VariationLayout = iota
	// VariationRow places all tiles in a single row at the original's y.
	VariationRow
)

const variationGridColumns = 2

func ParseVariationLayout(s string) (VariationLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "grid":
		return VariationGrid, nil
	case "row":
		return VariationRow, nil
	}
	return VariationGrid, fmt.Errorf("unknown variation layout %q", s)
}

func (v VariationLayout) String() string {
	if v == VariationRow {
		return "row"
	}
	return "grid"
}

// Layout holds the canvas geometry. All methods are pure.
type Layout struct {
	ViewportWidth    int
	CanvasHeight     int
	TileSize         int
	TopGutter        int
	CloneOffset      int
	VariationSpacing int
	GridPadding      int
	Variation        VariationLayout
}

func DefaultLayout() Layout {
	return Layout{
		ViewportWidth:    1024,
		CanvasHeight:     3000,
		TileSize:         200,
		TopGutter:        180,
		CloneOffset:      30,
		VariationSpacing: 20,
		GridPadding:      20,
		Variation:        VariationGrid,
	}
}

func (l Layout) maxX() int { return max(0, l.ViewportWidth-l.TileSize) }

func (l Layout) maxY() int { return max(0, l.CanvasHeight-l.TileSize) }

// Clamp keeps p inside [0, viewportWidth-tileSize] x [0, canvasHeight-tileSize].
func (l Layout) Clamp(p Position) Position {
	return Position{
		X: min(max(p.X, 0), l.maxX()),
		Y: min(max(p.Y, 0), l.maxY()),
	}
}

// NewSlotPosition is the anchor for the first tile: centered horizontally,
// one gutter from the top.
func (l Layout) NewSlotPosition() Position {
	return l.Clamp(Position{X: l.ViewportWidth/2 - l.TileSize/2, Y: l.TopGutter})
}

// ClonePosition tries right of the original, then below, then left. Never above.
func (l Layout) ClonePosition(original Position) Position {
	step := l.TileSize + l.CloneOffset

	if right := original.X + step; right+l.TileSize <= l.ViewportWidth {
		return l.Clamp(Position{X: right, Y: original.Y})
	}
	if below := original.Y + step; below+l.TileSize <= l.CanvasHeight {
		return l.Clamp(Position{X: original.X, Y: below})
	}
	return l.Clamp(Position{X: max(0, original.X-step), Y: original.Y})
}

// VariationPositions returns count positions in index order. The block goes
// to the right of the original when it fits before the viewport edge and to
// the left otherwise.
func (l Layout) VariationPositions(original Position, count int) []Position {
	if count <= 0 {
		return nil
	}

	cols := count
	if l.Variation == VariationGrid {
		cols = min(count, variationGridColumns)
	}
	step := l.TileSize + l.VariationSpacing
	blockWidth := cols*l.TileSize + (cols-1)*l.VariationSpacing

	startX := original.X + l.TileSize + l.VariationSpacing
	if startX+blockWidth > l.ViewportWidth {
		startX = max(0, original.X-l.VariationSpacing-blockWidth)
	}

	positions := make([]Position, count)
	for i := range positions {
		row, col := i/cols, i%cols
		positions[i] = l.Clamp(Position{
			X: startX + col*step,
			Y: original.Y + row*step,
		})
	}
	return positions
}

// TilesPerRow is the number of columns GridArrangement uses.
func (l Layout) TilesPerRow() int {
	return max(1, (l.ViewportWidth-2*l.GridPadding)/(l.TileSize+l.GridPadding))
}

// GridArrangement packs ids row-major in the given order. Positions depend only
// on the order, so applying it twice yields the same result.
func (l Layout) GridArrangement(ids []SlotID) map[SlotID]Position {
	perRow := l.TilesPerRow()
	step := l.TileSize + l.GridPadding

	positions := make(map[SlotID]Position, len(ids))
	for i, id := range ids {
		row, col := i/perRow, i%perRow
		positions[id] = l.Clamp(Position{
			X: l.GridPadding + col*step,
			Y: l.TopGutter + row*step,
		})
	}
	return positions
}
