package models

// DetectionResult is one detection reported by the remote service.
// Box holds normalized [y1, x1, y2, x2] coordinates.
type DetectionResult struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
}

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// PixelBox scales the normalized box to pixel coordinates for a frame of
// the given size. A malformed box yields the zero Box.
func (r DetectionResult) PixelBox(width, height int) Box {
	if len(r.Box) < 4 {
		return Box{}
	}

	return Box{
		X1: int(r.Box[1] * float32(width)),
		Y1: int(r.Box[0] * float32(height)),
		X2: int(r.Box[3] * float32(width)),
		Y2: int(r.Box[2] * float32(height)),
	}
}
