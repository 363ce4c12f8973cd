package feedback

import "time"

// ConfidenceConfig keeps the tunable constants out of the formula itself.
type ConfidenceConfig struct {
	// LatencyFloorMS is the latency at or below which the latency component
	// saturates at 1.
	LatencyFloorMS float64
	// AgeCapHours is where the age component stops growing.
	AgeCapHours float64
}

// Confidence scores a logged query for promotion eligibility. It is a pure
// function of (execution latency, record age): lower latency scores higher
// because it correlates with a well-formed, index-friendly query, and older
// records score higher up to the cap because they have survived longer
// without being contradicted. Recomputed on every read, never stored.
func Confidence(latencyMS int, age time.Duration, cfg ConfidenceConfig) float64 {
	if cfg.LatencyFloorMS <= 0 {
		cfg.LatencyFloorMS = 250
	}
	if cfg.AgeCapHours <= 0 {
		cfg.AgeCapHours = 168
	}

	latency := float64(latencyMS)
	if latency < cfg.LatencyFloorMS {
		latency = cfg.LatencyFloorMS
	}
	latencyScore := cfg.LatencyFloorMS / latency

	ageHours := age.Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	if ageHours > cfg.AgeCapHours {
		ageHours = cfg.AgeCapHours
	}
	ageScore := ageHours / cfg.AgeCapHours

	return 0.6*latencyScore + 0.4*ageScore
}
