package detector

import (
	"math"
	"testing"
)

func TestLabelForClass(t *testing.T) {
	tests := []struct {
		class int
		want  PPEType
	}{
		{0, TypeGloves},
		{1, TypeHelmet},
		{2, TypePerson},
		{3, TypeShoes},
		{4, TypeVest},
		{5, ""},
		{-1, ""},
	}

	for _, tt := range tests {
		if got := LabelForClass(tt.class); got != tt.want {
			t.Errorf("LabelForClass(%d) = %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestBox_IoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{
			name: "identical boxes",
			a:    Box{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			b:    Box{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			want: 1.0,
		},
		{
			name: "no overlap",
			a:    Box{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			b:    Box{X: 0.2, Y: 0.2, Width: 0.1, Height: 0.1},
			want: 0,
		},
		{
			name: "touching edges",
			a:    Box{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			b:    Box{X: 0.1, Y: 0, Width: 0.1, Height: 0.1},
			want: 0,
		},
		{
			name: "half overlap",
			a:    Box{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			b:    Box{X: 0.05, Y: 0, Width: 0.1, Height: 0.1},
			// intersection 0.005, union 0.015
			want: 1.0 / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.IoU(tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU() = %f, want %f", got, tt.want)
			}
			// IoU is symmetric
			if rev := tt.b.IoU(tt.a); math.Abs(rev-got) > 1e-9 {
				t.Errorf("IoU not symmetric: %f vs %f", got, rev)
			}
		})
	}
}

func TestBox_Centroid(t *testing.T) {
	b := Box{X: 0.1, Y: 0.2, Width: 0.4, Height: 0.6}
	x, y := b.Centroid()
	if x != 0.3 || y != 0.5 {
		t.Errorf("Centroid() = (%f, %f), want (0.3, 0.5)", x, y)
	}
}

func TestBox_ContainsWithMargin(t *testing.T) {
	b := Box{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.4}

	if !b.ContainsWithMargin(0.15, 0.15, 0) {
		t.Error("point inside box should be contained")
	}
	if b.ContainsWithMargin(0.09, 0.15, 0) {
		t.Error("point left of box should not be contained without margin")
	}
	if !b.ContainsWithMargin(0.09, 0.15, 0.015) {
		t.Error("point left of box should be contained with margin 0.015")
	}
	// Helmet centroid just above the person box
	if !b.ContainsWithMargin(0.2, 0.095, 0.01) {
		t.Error("point above box should be contained within margin")
	}
}

func TestApplyFloor(t *testing.T) {
	dets := []RawDetection{
		{Type: TypePerson, Confidence: 0.9},
		{Type: TypeHelmet, Confidence: 0.5},
		{Type: TypeVest, Confidence: 0.49},
		{Type: TypeGloves, Confidence: 0.2},
	}

	kept := ApplyFloor(dets, 0.5)
	if len(kept) != 2 {
		t.Fatalf("kept %d detections, want 2", len(kept))
	}
	if kept[0].Type != TypePerson || kept[1].Type != TypeHelmet {
		t.Errorf("order not preserved: %v", kept)
	}

	// At-threshold detections are kept
	if kept[1].Confidence != 0.5 {
		t.Errorf("detection at the floor should be kept")
	}
}
