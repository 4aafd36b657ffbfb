package telemetry

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a run's motor output.
type Summary struct {
	Samples     int     `json:"samples"`
	DurationSec float64 `json:"duration_sec"`
	EnabledFrac float64 `json:"enabled_fraction"`
	MotorMean   float64 `json:"motor_mean"`
	MotorStdDev float64 `json:"motor_stddev"`
	MotorMax    float64 `json:"motor_max"`
	// MaxSlewPerSec is the largest observed motor change rate.
	MaxSlewPerSec float64 `json:"max_slew_per_sec"`
	// ErrorRMS is only set for runs with the PID stage.
	ErrorRMS *float64 `json:"error_rms,omitempty"`
}

// Summarize computes a Summary. Samples must be in time order.
func Summarize(samples []Sample) Summary {
	var sum Summary
	sum.Samples = len(samples)
	if len(samples) == 0 {
		return sum
	}

	motor := make([]float64, len(samples))
	var enabled float64
	var errs []float64
	for i, s := range samples {
		motor[i] = float64(s.Motor)
		if s.Enabled {
			enabled++
		}
		if s.Error != nil {
			errs = append(errs, *s.Error)
		}
		if i > 0 {
			dt := float64(s.TMillis-samples[i-1].TMillis) / 1000
			if dt > 0 {
				rate := math.Abs(motor[i]-motor[i-1]) / dt
				sum.MaxSlewPerSec = math.Max(sum.MaxSlewPerSec, rate)
			}
		}
	}

	sum.DurationSec = float64(samples[len(samples)-1].TMillis-samples[0].TMillis) / 1000
	sum.EnabledFrac = enabled / float64(len(samples))
	sum.MotorMean, sum.MotorStdDev = stat.MeanStdDev(motor, nil)
	if len(samples) < 2 {
		sum.MotorStdDev = 0
	}
	sum.MotorMax = floats.Max(motor)

	if len(errs) > 0 {
		rms := math.Sqrt(floats.Dot(errs, errs) / float64(len(errs)))
		sum.ErrorRMS = &rms
	}
	return sum
}
