package dto

// Region is an axis-aligned rectangle in frame pixel coordinates. X and Y are the
// top-left corner relative to the frame origin.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one model output for one candidate region in one frame.
// Confidence is expected in [0, 1] but is not validated.
type Detection struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Region     Region  `json:"region"`
}
