package power

import "math"

const (
	NominalFrequency = 50.0 // Hz
	// FullResponseDeviation is the deviation from nominal at which the
	// battery delivers full response power.
	FullResponseDeviation = 0.5 // Hz
)

// ResponsePower maps a grid frequency reading to a normalized battery
// response in [0, 1]. The ramp is linear up to FullResponseDeviation and
// saturates at exactly 1.0 from there on, including the boundary itself.
func ResponsePower(frequency float64) float64 {
	d := math.Abs(frequency - NominalFrequency)
	if d < FullResponseDeviation {
		return d / FullResponseDeviation
	}
	return 1.0
}
