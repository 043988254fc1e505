package models

import "time"

// Reading is one sample from the BMRS FREQ stream.
type Reading struct {
	MeasurementTime string  `json:"measurementTime"`
	Frequency       float64 `json:"frequency"`
}

type IntervalAverage struct {
	Interval     time.Time `json:"interval"`
	AveragePower float64   `json:"averagePower"`
	Samples      int       `json:"samples"`
}
