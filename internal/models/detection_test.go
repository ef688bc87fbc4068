package models

import "testing"

func TestPixelBoxScalesNormalizedCoords(t *testing.T) {
	r := DetectionResult{Box: []float32{0.25, 0.5, 0.75, 1.0}}

	got := r.PixelBox(200, 100)
	want := Box{X1: 100, Y1: 25, X2: 200, Y2: 75}

	if got != want {
		t.Fatalf("PixelBox = %+v, want %+v", got, want)
	}
}

func TestPixelBoxMalformed(t *testing.T) {
	r := DetectionResult{Box: []float32{0.1, 0.2}}

	if got := r.PixelBox(640, 480); got != (Box{}) {
		t.Fatalf("short box should yield zero Box, got %+v", got)
	}
}
