package types

import "time"

// CompositeSignal combines an external prediction and token sentiment for one pool.
// Records are append-only.
type CompositeSignal struct {
	ID              string    `json:"id"`
	PoolID          PoolID    `json:"pool_id"`
	Timestamp       time.Time `json:"timestamp"`
	PredictionScore float64   `json:"prediction_score"` // 0..1
	SentimentScore  float64   `json:"sentiment_score"`  // -1..1
	ProfileHigh     float64   `json:"profile_high"`
	ProfileStable   float64   `json:"profile_stable"`
}

// ForProfile returns the composite matching a risk profile.
func (s CompositeSignal) ForProfile(profile RiskProfile) float64 {
	if profile == ProfileAggressive {
		return s.ProfileHigh
	}
	if profile == ProfileConservative {
		return s.ProfileStable
	}
	return (s.ProfileHigh + s.ProfileStable) / 2
}

// Fresh reports whether the signal is within the freshness window.
func (s CompositeSignal) Fresh(now time.Time, window time.Duration) bool {
	return !s.Timestamp.IsZero() && now.Sub(s.Timestamp) <= window
}
