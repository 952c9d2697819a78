package robot

// MountCalibration maps the raw position range of a bus servo onto the
// 0..180 degree sweep of the sensor mount.
type MountCalibration struct {
	ID       int `json:"id"`
	RangeMin int `json:"range_min"`
	RangeMax int `json:"range_max"`
}

// IsCalibrated returns true if a range has been recorded.
func (c MountCalibration) IsCalibrated() bool {
	return c.RangeMax != c.RangeMin
}

// Degrees converts a raw servo position to a mount angle.
func (c MountCalibration) Degrees(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	return float64(raw-c.RangeMin) / rangeSize * 180
}

// Raw converts a mount angle to a raw servo position. Angles outside
// 0..180 are clamped to the calibrated range.
func (c MountCalibration) Raw(degrees float64) int {
	degrees = min(max(degrees, 0), 180)
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int(degrees/180*rangeSize) + c.RangeMin
}
