package canvas

import (
	"reflect"
	"testing"
)

func TestNewSlotPosition(t *testing.T) {
	got := DefaultLayout().NewSlotPosition()
	want := Position{X: 412, Y: 180}
	if got != want {
		t.Errorf("NewSlotPosition() mismatch: got %+v, want %+v", got, want)
	}
}

func TestClonePosition(t *testing.T) {
	l := DefaultLayout()

	tests := []struct {
		name     string
		original Position
		want     Position
	}{
		{"right", Position{X: 0, Y: 0}, Position{X: 230, Y: 0}},
		{"right exactly fits", Position{X: 594, Y: 40}, Position{X: 824, Y: 40}},
		{"below at viewport edge", Position{X: 900, Y: 100}, Position{X: 900, Y: 330}},
		{"left at canvas bottom", Position{X: 900, Y: 2800}, Position{X: 670, Y: 2800}},
		{"right near canvas bottom", Position{X: 100, Y: 2800}, Position{X: 330, Y: 2800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.ClonePosition(tt.original)
			if got != tt.want {
				t.Errorf("ClonePosition(%+v) mismatch: got %+v, want %+v", tt.original, got, tt.want)
			}
			if got.Y < tt.original.Y {
				t.Errorf("ClonePosition(%+v) placed the clone above: %+v", tt.original, got)
			}
		})
	}
}

func TestClonePosition_NarrowViewport(t *testing.T) {
	l := DefaultLayout()
	l.ViewportWidth = 300
	l.CanvasHeight = 300

	got := l.ClonePosition(Position{X: 100, Y: 100})
	if got.X < 0 || got.Y < 0 {
		t.Errorf("ClonePosition() left the canvas: %+v", got)
	}
	if got.Y != 100 {
		t.Errorf("ClonePosition() y mismatch: got %d, want 100", got.Y)
	}
}

func TestVariationPositions(t *testing.T) {
	tests := []struct {
		name     string
		layout   VariationLayout
		original Position
		count    int
		want     []Position
	}{
		{
			name:     "grid to the right",
			layout:   VariationGrid,
			original: Position{X: 100, Y: 100},
			count:    4,
			want:     []Position{{320, 100}, {540, 100}, {320, 320}, {540, 320}},
		},
		{
			name:     "grid falls back to the left",
			layout:   VariationGrid,
			original: Position{X: 900, Y: 100},
			count:    4,
			want:     []Position{{460, 100}, {680, 100}, {460, 320}, {680, 320}},
		},
		{
			name:     "grid with three",
			layout:   VariationGrid,
			original: Position{X: 100, Y: 100},
			count:    3,
			want:     []Position{{320, 100}, {540, 100}, {320, 320}},
		},
		{
			name:     "row",
			layout:   VariationRow,
			original: Position{X: 100, Y: 100},
			count:    3,
			want:     []Position{{320, 100}, {540, 100}, {760, 100}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			l.Variation = tt.layout
			got := l.VariationPositions(tt.original, tt.count)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("VariationPositions() mismatch:\n got %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestVariationPositions_Distinct(t *testing.T) {
	l := DefaultLayout()
	for _, x := range []int{0, 300, 600, 824} {
		got := l.VariationPositions(Position{X: x, Y: 180}, MaxVariations)
		seen := make(map[Position]bool)
		for _, p := range got {
			if seen[p] {
				t.Errorf("VariationPositions(x=%d) produced duplicate %+v", x, p)
			}
			seen[p] = true
		}
	}
}

func TestVariationPositions_Empty(t *testing.T) {
	if got := DefaultLayout().VariationPositions(Position{}, 0); got != nil {
		t.Errorf("VariationPositions(0) = %v, want nil", got)
	}
}

func TestGridArrangement(t *testing.T) {
	l := DefaultLayout()
	ids := []SlotID{PersistedID("a"), PersistedID("b"), PersistedID("c"), PersistedID("d"), PersistedID("e")}

	if got := l.TilesPerRow(); got != 4 {
		t.Fatalf("TilesPerRow() mismatch: got %d, want 4", got)
	}

	got := l.GridArrangement(ids)
	want := map[SlotID]Position{
		PersistedID("a"): {20, 180},
		PersistedID("b"): {240, 180},
		PersistedID("c"): {460, 180},
		PersistedID("d"): {680, 180},
		PersistedID("e"): {20, 400},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GridArrangement() mismatch:\n got %v\nwant %v", got, want)
	}

	if again := l.GridArrangement(ids); !reflect.DeepEqual(again, got) {
		t.Error("GridArrangement() is not idempotent")
	}
}

func TestTilesPerRow_AtLeastOne(t *testing.T) {
	l := DefaultLayout()
	l.ViewportWidth = 100
	if got := l.TilesPerRow(); got != 1 {
		t.Errorf("TilesPerRow() mismatch: got %d, want 1", got)
	}
}

func TestClamp(t *testing.T) {
	l := DefaultLayout()
	got := l.Clamp(Position{X: -50, Y: 5000})
	want := Position{X: 0, Y: 2800}
	if got != want {
		t.Errorf("Clamp() mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseVariationLayout(t *testing.T) {
	tests := []struct {
		in      string
		want    VariationLayout
		wantErr bool
	}{
		{"", VariationGrid, false},
		{"grid", VariationGrid, false},
		{" Row ", VariationRow, false},
		{"diagonal", VariationGrid, true},
	}
	for _, tt := range tests {
		got, err := ParseVariationLayout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVariationLayout(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseVariationLayout(%q) mismatch: got %v, want %v", tt.in, got, tt.want)
		}
	}
}
